package library

import (
	"context"

	"bookcatalog/internal/book"
)

//go:generate mockgen -source=ports.go -destination=mocks/mock_api.go -package=mocks

// API is the remote library service as the facade uses it. *libraryapi.Client implements it.
type API interface {
	ListBooks(ctx context.Context) ([]book.Book, error)
	CreateBook(ctx context.Context, fields book.Fields) (book.Book, error)
	UpdateBook(ctx context.Context, id string, fields book.Fields) (book.Book, error)
	DeleteBook(ctx context.Context, id string) error
	CreateBorrow(ctx context.Context, req book.BorrowRequest) (book.BorrowRecord, error)
	ListBorrowSummary(ctx context.Context) ([]book.BorrowSummaryEntry, error)
}
