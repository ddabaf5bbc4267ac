package view

import (
	"strings"

	"bookcatalog/internal/book"
)

// MinSuggestLength is the shortest trimmed term that produces suggestions.
const MinSuggestLength = 2

// Suggestion is one typeahead hit.
type Suggestion struct {
	BookID string
	// Field is the book field that matched: title, author, isbn or description.
	Field string
	Text  string
}

// Suggest returns up to limit suggestions for term, titles first, then authors, isbns and
// descriptions, each in source order. Duplicate texts are reported once. A term shorter than
// MinSuggestLength yields nothing; the main search filter is unaffected by this threshold.
func Suggest(source []book.Book, term string, limit int) []Suggestion {
	term = strings.TrimSpace(term)
	if len([]rune(term)) < MinSuggestLength || limit == 0 {
		return nil
	}
	matcher := newSearchMatcher(term)

	fields := []struct {
		name  string
		value func(book.Book) string
	}{
		{"title", func(b book.Book) string { return b.Title }},
		{"author", func(b book.Book) string { return b.Author }},
		{"isbn", func(b book.Book) string { return b.ISBN }},
		{"description", func(b book.Book) string { return b.Description }},
	}

	var out []Suggestion
	seen := make(map[string]bool)
	for _, f := range fields {
		for _, b := range source {
			text := f.value(b)
			if text == "" || !strings.Contains(matcher.fold(text), matcher.term) {
				continue
			}
			folded := matcher.fold(text)
			if seen[folded] {
				continue
			}
			seen[folded] = true
			out = append(out, Suggestion{BookID: b.ID, Field: f.name, Text: text})
			if limit > 0 && len(out) == limit {
				return out
			}
		}
	}
	return out
}
