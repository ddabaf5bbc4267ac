package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bookcatalog/internal/apierr"
	"bookcatalog/internal/book"
)

type stubAPI struct {
	mock.Mock
}

func (s *stubAPI) ListBooks(ctx context.Context) ([]book.Book, error) {
	args := s.Called(ctx)
	books, _ := args.Get(0).([]book.Book)
	return books, args.Error(1)
}

func (s *stubAPI) CreateBook(ctx context.Context, fields book.Fields) (book.Book, error) {
	args := s.Called(ctx, fields)
	return args.Get(0).(book.Book), args.Error(1)
}

func (s *stubAPI) UpdateBook(ctx context.Context, id string, fields book.Fields) (book.Book, error) {
	args := s.Called(ctx, id, fields)
	return args.Get(0).(book.Book), args.Error(1)
}

func (s *stubAPI) DeleteBook(ctx context.Context, id string) error {
	return s.Called(ctx, id).Error(0)
}

func (s *stubAPI) CreateBorrow(ctx context.Context, req book.BorrowRequest) (book.BorrowRecord, error) {
	args := s.Called(ctx, req)
	return args.Get(0).(book.BorrowRecord), args.Error(1)
}

func (s *stubAPI) ListBorrowSummary(ctx context.Context) ([]book.BorrowSummaryEntry, error) {
	args := s.Called(ctx)
	entries, _ := args.Get(0).([]book.BorrowSummaryEntry)
	return entries, args.Error(1)
}

func TestLibrary_Borrow(t *testing.T) {
	due := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)

	t.Run("non-positive quantity is rejected locally", func(t *testing.T) {
		api := &stubAPI{}
		lib := newTestLibrary(t, api)

		for _, q := range []int{0, -2} {
			_, err := lib.Borrow(context.Background(), "a", q, due)
			assert.ErrorIs(t, err, apierr.ErrValidation)
			assert.Equal(t, "Enter a valid quantity (1 or more).", apierr.UserMessage(err))
		}
		api.AssertNotCalled(t, "CreateBorrow", mock.Anything, mock.Anything)
	})

	t.Run("missing due date", func(t *testing.T) {
		api := &stubAPI{}
		lib := newTestLibrary(t, api)

		_, err := lib.Borrow(context.Background(), "a", 1, time.Time{})
		assert.ErrorIs(t, err, apierr.ErrValidation)
		assert.Equal(t, "Please select a due date.", apierr.UserMessage(err))
		api.AssertNotCalled(t, "CreateBorrow", mock.Anything, mock.Anything)
	})

	t.Run("more than the cached available copies", func(t *testing.T) {
		api := &stubAPI{}
		api.On("ListBooks", mock.Anything).Return([]book.Book{bookA, bookB}, nil).Once()
		lib := newTestLibrary(t, api)
		settle(t, lib.Books())

		_, err := lib.Borrow(context.Background(), "b", 2, due)
		assert.ErrorIs(t, err, apierr.ErrInsufficientCopies)
		assert.ErrorIs(t, err, apierr.ErrValidation)
		assert.Equal(t, "only 1 copies are available, 2 requested", apierr.UserMessage(err))
		api.AssertNotCalled(t, "CreateBorrow", mock.Anything, mock.Anything)
	})

	t.Run("success refreshes books and summary", func(t *testing.T) {
		api := &stubAPI{}
		req := book.BorrowRequest{BookID: "a", Quantity: 2, DueDate: due}
		drained := bookA
		drained.AvailableCopies = 0

		api.On("ListBooks", mock.Anything).Return([]book.Book{bookA}, nil).Once()
		api.On("ListBorrowSummary", mock.Anything).Return([]book.BorrowSummaryEntry{}, nil).Once()
		api.On("CreateBorrow", mock.Anything, req).Return(book.BorrowRecord{ID: "r1", BookID: "a", Quantity: 2, DueDate: due}, nil).Once()
		api.On("ListBooks", mock.Anything).Return([]book.Book{drained}, nil).Once()
		api.On("ListBorrowSummary", mock.Anything).
			Return([]book.BorrowSummaryEntry{{Book: book.SummaryBook{Title: "Dune", ISBN: bookA.ISBN}, TotalQuantity: 2}}, nil).Once()

		lib := newTestLibrary(t, api)
		books := lib.Books()
		sums := lib.BorrowSummary()
		settle(t, books)
		settle(t, sums)

		record, err := lib.Borrow(context.Background(), "a", 2, due)
		require.NoError(t, err)
		assert.Equal(t, "r1", record.ID)

		assert.Equal(t, []book.Book{drained}, BooksOf(settle(t, books)))
		assert.Equal(t, 2, book.SummaryTotal(SummaryOf(settle(t, sums))))
		api.AssertExpectations(t)
	})

	t.Run("server rejection is returned typed", func(t *testing.T) {
		api := &stubAPI{}
		api.On("CreateBorrow", mock.Anything, mock.Anything).
			Return(book.BorrowRecord{}, apierr.FromResponse(400, "Not enough copies available")).Once()
		lib := newTestLibrary(t, api)

		_, err := lib.Borrow(context.Background(), "unknown", 1, due)
		assert.ErrorIs(t, err, apierr.ErrInsufficientCopies)
	})
}
