package libraryapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcatalog/internal/apierr"
	"bookcatalog/internal/book"
)

func newTestClient(t *testing.T, handler http.Handler, maxRetries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:    srv.URL + "/api/",
		MaxRetries: maxRetries,
		Backoff:    time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func validFields() book.Fields {
	return book.Fields{
		Title:  book.Ptr("Dune"),
		Author: book.Ptr("Frank Herbert"),
		Genre:  book.Ptr(book.GenreFantasy),
		ISBN:   book.Ptr("9780441013593"),
		Copies: book.Ptr(3),
	}
}

func TestClient_ListBooks(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/books", r.URL.Path)
			assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
			writeJSON(w, http.StatusOK, `{"success":true,"data":[{"_id":"1","title":"Dune","copies":2},{"_id":"2","title":"Emma","copies":0}]}`)
		}), 0)

		books, err := client.ListBooks(context.Background())
		require.NoError(t, err)
		require.Len(t, books, 2)
		assert.Equal(t, "Dune", books[0].Title)
		assert.False(t, books[1].Available())
	})

	t.Run("empty data is an empty slice", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"data":null}`)
		}), 0)

		books, err := client.ListBooks(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, books)
		assert.Empty(t, books)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				writeJSON(w, http.StatusServiceUnavailable, `{"message":"warming up"}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"data":[]}`)
		}), 3)

		_, err := client.ListBooks(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusInternalServerError, `{"message":"boom"}`)
		}), 2)

		_, err := client.ListBooks(context.Background())
		require.Error(t, err)
		assert.Equal(t, apierr.KindUnknown, apierr.KindOf(err))
		assert.Contains(t, err.Error(), "after 2 retries")
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("negative max retries makes a single attempt", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusOK, `{"data":[{"_id":"1","title":"Dune","copies":1}]}`)
		}), -1)

		books, err := client.ListBooks(context.Background())
		require.NoError(t, err)
		assert.Len(t, books, 1)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("network failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		client := NewClient(Config{BaseURL: url, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
		_, err := client.ListBooks(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, apierr.ErrNetwork))
	})
}

func TestClient_CreateBook(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/books", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Dune", body["title"])
			assert.Equal(t, float64(3), body["copies"])
			assert.Equal(t, true, body["available"])
			assert.NotContains(t, body, "_id")

			writeJSON(w, http.StatusCreated, `{"data":{"_id":"new-1","title":"Dune","copies":3}}`)
		}), 0)

		created, err := client.CreateBook(context.Background(), validFields())
		require.NoError(t, err)
		assert.Equal(t, "new-1", created.ID)
	})

	t.Run("duplicate isbn", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"message":"E11000 duplicate key error collection: library.books index: isbn_1 dup key"}`)
		}), 0)

		_, err := client.CreateBook(context.Background(), validFields())
		assert.True(t, errors.Is(err, apierr.ErrDuplicateKey))
	})

	t.Run("server side isbn length", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"message":"Book validation failed: isbn: ISBN must be at least 4 characters"}`)
		}), 0)

		_, err := client.CreateBook(context.Background(), validFields())
		assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	})

	t.Run("short isbn never reaches the server", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}), 0)

		f := validFields()
		f.ISBN = book.Ptr("12")
		_, err := client.CreateBook(context.Background(), f)
		assert.True(t, errors.Is(err, apierr.ErrValidation))
		assert.Zero(t, calls.Load())
	})

	t.Run("mutations are not retried", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusInternalServerError, `{"message":"boom"}`)
		}), 3)

		_, err := client.CreateBook(context.Background(), validFields())
		assert.Equal(t, apierr.KindUnknown, apierr.KindOf(err))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestClient_UpdateBook(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/books/abc", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"title": "Dune Messiah"}, body)

		writeJSON(w, http.StatusOK, `{"data":{"_id":"abc","title":"Dune Messiah","copies":1}}`)
	}), 0)

	updated, err := client.UpdateBook(context.Background(), "abc", book.Fields{Title: book.Ptr("Dune Messiah")})
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", updated.Title)

	_, err = client.UpdateBook(context.Background(), "", book.Fields{Title: book.Ptr("x")})
	assert.True(t, errors.Is(err, apierr.ErrValidation))
}

func TestClient_DeleteBook(t *testing.T) {
	t.Run("no content", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "/api/books/abc", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}), 0)

		assert.NoError(t, client.DeleteBook(context.Background(), "abc"))
	})

	t.Run("not found", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, `{"success":false,"error":{"code":"NOT_FOUND","message":"Book not found"}}`)
		}), 0)

		err := client.DeleteBook(context.Background(), "missing")
		assert.True(t, errors.Is(err, apierr.ErrNotFound))
		var e *apierr.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, http.StatusNotFound, e.Status)
	})
}

func TestClient_CreateBorrow(t *testing.T) {
	due := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/borrow", r.URL.Path)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "b1", body["book"])
			assert.Equal(t, float64(2), body["quantity"])
			assert.Equal(t, "2026-11-02T00:00:00Z", body["dueDate"])

			writeJSON(w, http.StatusCreated, `{"data":{"_id":"r1","quantity":2,"dueDate":"2026-11-02T00:00:00Z"}}`)
		}), 0)

		record, err := client.CreateBorrow(context.Background(), book.BorrowRequest{BookID: "b1", Quantity: 2, DueDate: due})
		require.NoError(t, err)
		assert.Equal(t, "r1", record.ID)
		assert.Equal(t, "b1", record.BookID)
		assert.True(t, due.Equal(record.DueDate))
	})

	t.Run("invalid quantity is rejected locally", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}), 0)

		for _, q := range []int{0, -1} {
			_, err := client.CreateBorrow(context.Background(), book.BorrowRequest{BookID: "b1", Quantity: q, DueDate: due})
			assert.True(t, errors.Is(err, apierr.ErrValidation))
		}
		_, err := client.CreateBorrow(context.Background(), book.BorrowRequest{BookID: "b1", Quantity: 1})
		assert.True(t, errors.Is(err, apierr.ErrValidation))
		assert.Zero(t, calls.Load())
	})

	t.Run("server rejects quantity", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"message":"Not enough copies available"}`)
		}), 0)

		_, err := client.CreateBorrow(context.Background(), book.BorrowRequest{BookID: "b1", Quantity: 9, DueDate: due})
		assert.True(t, errors.Is(err, apierr.ErrInsufficientCopies))
	})
}

func TestClient_ListBorrowSummary(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/borrow", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"data":[{"book":{"title":"Dune","isbn":"9780441013593"},"totalQuantity":4}]}`)
	}), 0)

	entries, err := client.ListBorrowSummary(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "9780441013593", entries[0].Book.ISBN)
	assert.Equal(t, 4, entries[0].TotalQuantity)
}
