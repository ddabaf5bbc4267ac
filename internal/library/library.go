// Package library is what presentation code talks to: live subscriptions to the book list and
// the borrow summary, and the mutations that keep them in step with the library service.
package library

import (
	"context"
	"log/slog"
	"time"

	"bookcatalog/internal/apierr"
	"bookcatalog/internal/book"
	"bookcatalog/internal/optimistic"
	"bookcatalog/internal/querycache"
)

const (
	TagBooks         querycache.Tag = "Books"
	TagBorrowSummary querycache.Tag = "BorrowSummary"
)

// Query operations.
const (
	OpListBooks         = "listBooks"
	OpListBorrowSummary = "listBorrowSummary"
)

// Mutations.
const (
	MutCreateBook   = "createBook"
	MutUpdateBook   = "updateBook"
	MutDeleteBook   = "deleteBook"
	MutCreateBorrow = "createBorrow"
)

// NewRegistry returns the tag table for the library service.
func NewRegistry() *querycache.Registry {
	return querycache.NewRegistry().
		Provide(OpListBooks, TagBooks).
		Provide(OpListBorrowSummary, TagBorrowSummary).
		Invalidates(MutCreateBook, TagBooks).
		Invalidates(MutUpdateBook, TagBooks).
		Invalidates(MutDeleteBook, TagBooks, TagBorrowSummary).
		Invalidates(MutCreateBorrow, TagBooks, TagBorrowSummary)
}

type Options struct {
	KeepUnusedFor time.Duration
	Logger        *slog.Logger
}

type Library struct {
	api    API
	cache  *querycache.Cache
	coord  *optimistic.Coordinator
	logger *slog.Logger
}

func New(api API, opts Options) *Library {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cache := querycache.New(NewRegistry(), querycache.Options{
		KeepUnusedFor: opts.KeepUnusedFor,
		Logger:        opts.Logger,
	})
	return &Library{
		api:    api,
		cache:  cache,
		coord:  optimistic.NewCoordinator(cache, opts.Logger),
		logger: opts.Logger,
	}
}

// Cache exposes the underlying query cache.
func (l *Library) Cache() *querycache.Cache {
	return l.cache
}

// Books subscribes to the full book list.
func (l *Library) Books(opts ...querycache.SubscribeOption) *querycache.Subscription {
	return l.cache.Subscribe(querycache.Query{
		Operation: OpListBooks,
		Fetch: func(ctx context.Context) (any, error) {
			books, err := l.api.ListBooks(ctx)
			if err != nil {
				return nil, err
			}
			return books, nil
		},
	}, opts...)
}

// BorrowSummary subscribes to the per-book borrowed totals.
func (l *Library) BorrowSummary(opts ...querycache.SubscribeOption) *querycache.Subscription {
	return l.cache.Subscribe(querycache.Query{
		Operation: OpListBorrowSummary,
		Fetch: func(ctx context.Context) (any, error) {
			entries, err := l.api.ListBorrowSummary(ctx)
			if err != nil {
				return nil, err
			}
			return entries, nil
		},
	}, opts...)
}

// BooksOf returns the book list held by snap, or nil.
func BooksOf(snap querycache.Snapshot) []book.Book {
	books, _ := querycache.Value[[]book.Book](snap)
	return books
}

// SummaryOf returns the summary entries held by snap, or nil.
func SummaryOf(snap querycache.Snapshot) []book.BorrowSummaryEntry {
	entries, _ := querycache.Value[[]book.BorrowSummaryEntry](snap)
	return entries
}

// CachedBook looks id up in the cached book list without fetching.
func (l *Library) CachedBook(id string) (book.Book, bool) {
	snap, ok := l.cache.Peek(querycache.NewKey(OpListBooks, nil))
	if !ok {
		return book.Book{}, false
	}
	books := BooksOf(snap)
	i := book.IndexByID(books, id)
	if i < 0 {
		return book.Book{}, false
	}
	return books[i], true
}

// CreateBook waits for the service to accept the book, then refreshes the list. A rejected
// book leaves the cached list untouched.
func (l *Library) CreateBook(ctx context.Context, fields book.Fields) (book.Book, error) {
	if err := book.ValidateCreate(fields); err != nil {
		return book.Book{}, err
	}
	created, err := l.api.CreateBook(ctx, fields)
	if err != nil {
		return book.Book{}, apierr.From(err)
	}
	l.cache.InvalidateMutation(MutCreateBook)
	return created, nil
}

// UpdateBook waits for the service to accept the change, then refreshes the list.
func (l *Library) UpdateBook(ctx context.Context, id string, fields book.Fields) (book.Book, error) {
	if err := book.ValidateUpdate(fields); err != nil {
		return book.Book{}, err
	}
	updated, err := l.api.UpdateBook(ctx, id, fields)
	if err != nil {
		return book.Book{}, apierr.From(err)
	}
	l.cache.InvalidateMutation(MutUpdateBook)
	return updated, nil
}

// DeleteBook removes the book from every cached list at once and restores it if the service
// refuses.
func (l *Library) DeleteBook(ctx context.Context, id string) error {
	return l.coord.Execute(ctx, optimistic.Mutation{
		Name: MutDeleteBook,
		Apply: func(_ querycache.Key, value any) (any, bool) {
			books, ok := value.([]book.Book)
			if !ok || book.IndexByID(books, id) < 0 {
				return nil, false
			}
			return book.Without(books, id), true
		},
		Run: func(ctx context.Context) error {
			return l.api.DeleteBook(ctx, id)
		},
	})
}

// Borrow checks the request locally, including against the cached copy count, before calling
// the service. On success both the book list and the summary are refreshed.
func (l *Library) Borrow(ctx context.Context, bookID string, quantity int, dueDate time.Time) (book.BorrowRecord, error) {
	req := book.BorrowRequest{BookID: bookID, Quantity: quantity, DueDate: dueDate}
	if err := book.ValidateBorrow(req); err != nil {
		return book.BorrowRecord{}, err
	}
	if b, ok := l.CachedBook(bookID); ok && quantity > b.AvailableCopies {
		return book.BorrowRecord{}, apierr.InsufficientCopies(quantity, b.AvailableCopies)
	}

	record, err := l.api.CreateBorrow(ctx, req)
	if err != nil {
		return book.BorrowRecord{}, apierr.From(err)
	}
	l.cache.InvalidateMutation(MutCreateBorrow)
	return record, nil
}

// Reset drops all cached data, for example on logout.
func (l *Library) Reset() {
	l.cache.Reset()
}

// Close stops background work. The library cannot be used afterwards.
func (l *Library) Close() {
	l.cache.Close()
}
