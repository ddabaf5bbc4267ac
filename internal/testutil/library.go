// Package testutil holds an in-memory stand-in for the library service.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"bookcatalog/internal/book"
)

// SampleBooks returns a fresh copy of the default catalog.
func SampleBooks() []book.Book {
	return []book.Book{
		{ID: "1", Title: "Dune", Author: "Frank Herbert", Genre: book.GenreFantasy, ISBN: "9780441013593", AvailableCopies: 3, TotalCopies: 3},
		{ID: "2", Title: "Cosmos", Author: "Carl Sagan", Genre: book.GenreScience, ISBN: "9780345539434", AvailableCopies: 0, TotalCopies: 2},
		{ID: "3", Title: "The Hobbit", Author: "J.R.R. Tolkien", Genre: book.GenreFantasy, ISBN: "9780547928227", AvailableCopies: 1, TotalCopies: 1},
	}
}

// Library is an in-memory library service speaking the real service's JSON.
type Library struct {
	URL string

	mu      sync.Mutex
	books   []book.Book
	summary map[string]*book.BorrowSummaryEntry
	nextID  int
	calls   map[string]int
}

// NewLibrary starts a server holding books. It is shut down when t finishes.
func NewLibrary(t testing.TB, books []book.Book) *Library {
	t.Helper()
	l := &Library{
		books:   books,
		summary: make(map[string]*book.BorrowSummaryEntry),
		calls:   make(map[string]int),
	}
	srv := httptest.NewServer(l.handler())
	t.Cleanup(srv.Close)
	l.URL = srv.URL + "/api"
	return l
}

// Books returns a copy of the stored books.
func (l *Library) Books() []book.Book {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]book.Book(nil), l.books...)
}

// Calls reports how many requests matched pattern, e.g. "POST /api/books".
func (l *Library) Calls(pattern string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[pattern]
}

func (l *Library) handle(mux *http.ServeMux, pattern string, fn func(w http.ResponseWriter, r *http.Request)) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.calls[pattern]++
		fn(w, r)
	})
}

func (l *Library) handler() http.Handler {
	mux := http.NewServeMux()

	l.handle(mux, "GET /api/books", func(w http.ResponseWriter, r *http.Request) {
		Reply(w, http.StatusOK, map[string]any{"data": l.books})
	})

	l.handle(mux, "POST /api/books", func(w http.ResponseWriter, r *http.Request) {
		var in book.Fields
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			Reply(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		if err := book.ValidateCreate(in); err != nil {
			Reply(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		for _, b := range l.books {
			if b.ISBN == *in.ISBN {
				Reply(w, http.StatusBadRequest, map[string]any{"message": "E11000 duplicate key error collection: books index: isbn_1"})
				return
			}
		}
		l.nextID++
		b := book.Book{
			ID:              fmt.Sprintf("new-%d", l.nextID),
			Title:           *in.Title,
			Author:          *in.Author,
			Genre:           *in.Genre,
			ISBN:            *in.ISBN,
			AvailableCopies: *in.Copies,
			TotalCopies:     *in.Copies,
		}
		if in.Description != nil {
			b.Description = *in.Description
		}
		l.books = append(l.books, b)
		Reply(w, http.StatusCreated, map[string]any{"data": b})
	})

	l.handle(mux, "PUT /api/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in book.Fields
		_ = json.NewDecoder(r.Body).Decode(&in)
		i := book.IndexByID(l.books, r.PathValue("id"))
		if i < 0 {
			Reply(w, http.StatusNotFound, map[string]any{"message": "Book not found"})
			return
		}
		b := &l.books[i]
		if in.Title != nil {
			b.Title = *in.Title
		}
		if in.Author != nil {
			b.Author = *in.Author
		}
		if in.Genre != nil {
			b.Genre = *in.Genre
		}
		if in.ISBN != nil {
			b.ISBN = *in.ISBN
		}
		if in.Description != nil {
			b.Description = *in.Description
		}
		if in.Copies != nil {
			b.AvailableCopies = *in.Copies
		}
		Reply(w, http.StatusOK, map[string]any{"data": *b})
	})

	l.handle(mux, "DELETE /api/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if book.IndexByID(l.books, id) < 0 {
			Reply(w, http.StatusNotFound, map[string]any{
				"success": false,
				"error":   map[string]any{"code": "NOT_FOUND", "message": "Book not found"},
			})
			return
		}
		l.books = book.Without(l.books, id)
		Reply(w, http.StatusOK, map[string]any{"success": true})
	})

	l.handle(mux, "POST /api/borrow", func(w http.ResponseWriter, r *http.Request) {
		var in book.BorrowRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			Reply(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		i := book.IndexByID(l.books, in.BookID)
		if i < 0 {
			Reply(w, http.StatusNotFound, map[string]any{"message": "Book not found"})
			return
		}
		if in.Quantity > l.books[i].AvailableCopies {
			Reply(w, http.StatusBadRequest, map[string]any{"message": "Not enough copies available"})
			return
		}
		l.books[i].AvailableCopies -= in.Quantity
		b := l.books[i]
		entry, ok := l.summary[b.ISBN]
		if !ok {
			entry = &book.BorrowSummaryEntry{Book: book.SummaryBook{Title: b.Title, ISBN: b.ISBN}}
			l.summary[b.ISBN] = entry
		}
		entry.TotalQuantity += in.Quantity
		record := book.BorrowRecord{
			ID:       fmt.Sprintf("borrow-%d", len(l.summary)),
			BookID:   b.ID,
			Quantity: in.Quantity,
			DueDate:  in.DueDate,
		}
		Reply(w, http.StatusCreated, map[string]any{"data": record})
	})

	l.handle(mux, "GET /api/borrow", func(w http.ResponseWriter, r *http.Request) {
		entries := make([]book.BorrowSummaryEntry, 0, len(l.summary))
		for _, e := range l.summary {
			entries = append(entries, *e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Book.ISBN < entries[j].Book.ISBN })
		Reply(w, http.StatusOK, map[string]any{"data": entries})
	})

	return mux
}

// Reply writes body as JSON with status.
func Reply(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
