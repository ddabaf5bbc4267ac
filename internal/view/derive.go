// Package view derives the rows a catalog table shows from the cached book list: search, then
// attribute filters, then sort, then pagination. Everything here is pure and synchronous.
package view

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"bookcatalog/internal/book"
)

// DefaultPageSize is used when Page.Size is not positive.
const DefaultPageSize = 10

// Availability filters on whether any copy can be borrowed.
type Availability string

const (
	AvailabilityAny         Availability = ""
	AvailabilityAvailable   Availability = "available"
	AvailabilityUnavailable Availability = "unavailable"
)

// ParseAvailability accepts "", "all", "available" and "unavailable" in any case.
func ParseAvailability(s string) (Availability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "any":
		return AvailabilityAny, nil
	case "available":
		return AvailabilityAvailable, nil
	case "unavailable":
		return AvailabilityUnavailable, nil
	}
	return AvailabilityAny, fmt.Errorf("unknown availability %q", s)
}

// Filters are the attribute filters. Zero values pass everything.
type Filters struct {
	Genre        book.Genre
	Availability Availability
}

func (f Filters) active() bool {
	return f.Genre != "" || f.Availability != AvailabilityAny
}

func (f Filters) match(b book.Book) bool {
	if f.Genre != "" && b.Genre != f.Genre {
		return false
	}
	switch f.Availability {
	case AvailabilityAvailable:
		return b.Available()
	case AvailabilityUnavailable:
		return !b.Available()
	}
	return true
}

// Page selects a slice of the sorted rows. Index is zero-based.
type Page struct {
	Index int
	Size  int
}

// Result is what a table renders.
type Result struct {
	Rows []book.Book
	// TotalCount counts rows after filtering and before pagination.
	TotalCount       int
	HasActiveFilters bool
	// PageIndex is the requested index after clamping.
	PageIndex int
	PageCount int
	PageSize  int
}

// Derive runs the pipeline over source. The source slice is never modified.
func Derive(source []book.Book, search string, filters Filters, sorting Sort, page Page) Result {
	rows := make([]book.Book, 0, len(source))
	matcher := newSearchMatcher(search)
	for _, b := range source {
		if matcher.match(b) && filters.match(b) {
			rows = append(rows, b)
		}
	}

	sorting.apply(rows)

	size := page.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	total := len(rows)
	pageCount := (total + size - 1) / size
	if pageCount == 0 {
		pageCount = 1
	}
	index := page.Index
	if index >= pageCount {
		index = pageCount - 1
	}
	if index < 0 {
		index = 0
	}

	start := index * size
	end := start + size
	if end > total {
		end = total
	}

	return Result{
		Rows:             rows[start:end:end],
		TotalCount:       total,
		HasActiveFilters: !matcher.empty() || filters.active(),
		PageIndex:        index,
		PageCount:        pageCount,
		PageSize:         size,
	}
}

type searchMatcher struct {
	caser cases.Caser
	term  string
}

func newSearchMatcher(search string) *searchMatcher {
	m := &searchMatcher{caser: cases.Fold()}
	m.term = m.fold(strings.TrimSpace(search))
	return m
}

func (m *searchMatcher) fold(s string) string {
	return m.caser.String(norm.NFC.String(s))
}

func (m *searchMatcher) empty() bool {
	return m.term == ""
}

func (m *searchMatcher) match(b book.Book) bool {
	if m.empty() {
		return true
	}
	for _, field := range []string{b.Title, b.Author, b.ISBN, b.Description} {
		if strings.Contains(m.fold(field), m.term) {
			return true
		}
	}
	return false
}

// Column is a sortable table column.
type Column string

const (
	ColumnNone        Column = ""
	ColumnTitle       Column = "title"
	ColumnAuthor      Column = "author"
	ColumnGenre       Column = "genre"
	ColumnISBN        Column = "isbn"
	ColumnCopies      Column = "copies"
	ColumnTotalCopies Column = "totalCopies"
)

// Columns lists the sortable columns.
var Columns = []Column{ColumnTitle, ColumnAuthor, ColumnGenre, ColumnISBN, ColumnCopies, ColumnTotalCopies}

// ParseColumn accepts a column name in any case.
func ParseColumn(s string) (Column, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ColumnNone, nil
	}
	for _, c := range Columns {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return ColumnNone, fmt.Errorf("unknown column %q", s)
}

// Direction is the tri-state sort order of a column.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionAsc  Direction = "asc"
	DirectionDesc Direction = "desc"
)

// ParseDirection accepts "", "none", "asc" and "desc" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return DirectionNone, nil
	case "asc":
		return DirectionAsc, nil
	case "desc":
		return DirectionDesc, nil
	}
	return DirectionNone, fmt.Errorf("unknown sort direction %q", s)
}

// Sort orders rows by one column. The zero value keeps the filtered order.
type Sort struct {
	Column    Column
	Direction Direction
}

// Toggle returns the sort state after clicking column: asc, desc, then none for the same column,
// and asc for a different one.
func (s Sort) Toggle(column Column) Sort {
	if column == ColumnNone {
		return Sort{}
	}
	if s.Column != column {
		return Sort{Column: column, Direction: DirectionAsc}
	}
	switch s.Direction {
	case DirectionAsc:
		return Sort{Column: column, Direction: DirectionDesc}
	case DirectionDesc:
		return Sort{}
	default:
		return Sort{Column: column, Direction: DirectionAsc}
	}
}

func (s Sort) active() bool {
	return s.Column != ColumnNone && s.Direction != DirectionNone
}

func (s Sort) apply(rows []book.Book) {
	if !s.active() {
		return
	}
	cmp := comparator(s.Column)
	if cmp == nil {
		return
	}
	desc := s.Direction == DirectionDesc
	sort.SliceStable(rows, func(i, j int) bool {
		c := cmp(rows[i], rows[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func comparator(column Column) func(a, b book.Book) int {
	switch column {
	case ColumnCopies:
		return func(a, b book.Book) int { return a.AvailableCopies - b.AvailableCopies }
	case ColumnTotalCopies:
		return func(a, b book.Book) int { return a.TotalCopies - b.TotalCopies }
	}

	var field func(book.Book) string
	switch column {
	case ColumnTitle:
		field = func(b book.Book) string { return b.Title }
	case ColumnAuthor:
		field = func(b book.Book) string { return b.Author }
	case ColumnGenre:
		field = func(b book.Book) string { return string(b.Genre) }
	case ColumnISBN:
		field = func(b book.Book) string { return b.ISBN }
	default:
		return nil
	}
	collator := collate.New(language.English, collate.IgnoreCase)
	return func(a, b book.Book) int {
		return collator.CompareString(field(a), field(b))
	}
}
