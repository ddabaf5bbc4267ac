package libraryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bookcatalog/internal/apierr"
	"bookcatalog/internal/book"
	"bookcatalog/internal/httpx"
)

// DefaultBaseURL is where the library service listens in development.
const DefaultBaseURL = "http://localhost:5000/api"

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RPS limits outbound requests per second. Zero disables the limiter.
	RPS   float64
	Burst int
	// MaxRetries applies to GET requests only.
	MaxRetries int
	// Backoff is the first retry delay; it doubles on each attempt.
	Backoff   time.Duration
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client talks to the library service. It holds no catalog state.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient builds a client from cfg, filling in defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: httpx.Chain(cfg.Transport,
				httpx.RequestID(),
				httpx.RateLimit(limiter),
				httpx.AccessLog(cfg.Logger),
			),
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     cfg.Logger,
	}
}

// ListBooks handles GET /books
func (c *Client) ListBooks(ctx context.Context) ([]book.Book, error) {
	var books []book.Book
	if err := get(c, ctx, "/books", &books); err != nil {
		return nil, err
	}
	if books == nil {
		books = []book.Book{}
	}
	return books, nil
}

// CreateBook handles POST /books
func (c *Client) CreateBook(ctx context.Context, fields book.Fields) (book.Book, error) {
	if err := book.ValidateCreate(fields); err != nil {
		return book.Book{}, err
	}
	var created book.Book
	if err := do(c, ctx, http.MethodPost, "/books", fields.WithDerivedAvailability(), &created); err != nil {
		return book.Book{}, err
	}
	return created, nil
}

// UpdateBook handles PUT /books/{id}
func (c *Client) UpdateBook(ctx context.Context, id string, fields book.Fields) (book.Book, error) {
	if strings.TrimSpace(id) == "" {
		return book.Book{}, apierr.Validation("id", "book id is required")
	}
	if err := book.ValidateUpdate(fields); err != nil {
		return book.Book{}, err
	}
	var updated book.Book
	if err := do(c, ctx, http.MethodPut, "/books/"+url.PathEscape(id), fields.WithDerivedAvailability(), &updated); err != nil {
		return book.Book{}, err
	}
	return updated, nil
}

// DeleteBook handles DELETE /books/{id}
func (c *Client) DeleteBook(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apierr.Validation("id", "book id is required")
	}
	var ignored json.RawMessage
	if err := do(c, ctx, http.MethodDelete, "/books/"+url.PathEscape(id), nil, &ignored); err != nil {
		return err
	}
	return nil
}

// CreateBorrow handles POST /borrow
func (c *Client) CreateBorrow(ctx context.Context, req book.BorrowRequest) (book.BorrowRecord, error) {
	if err := book.ValidateBorrow(req); err != nil {
		return book.BorrowRecord{}, err
	}
	var record book.BorrowRecord
	if err := do(c, ctx, http.MethodPost, "/borrow", req, &record); err != nil {
		return book.BorrowRecord{}, err
	}
	if record.BookID == "" {
		record.BookID = req.BookID
	}
	return record, nil
}

// ListBorrowSummary handles GET /borrow
func (c *Client) ListBorrowSummary(ctx context.Context) ([]book.BorrowSummaryEntry, error) {
	var entries []book.BorrowSummaryEntry
	if err := get(c, ctx, "/borrow", &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []book.BorrowSummaryEntry{}
	}
	return entries, nil
}

// get retries on transport failures, 429 and 5xx. Backoff: 1s, 2s, 4s... by default.
func get[T any](c *Client, ctx context.Context, path string, out *T) error {
	var lastErr *apierr.Error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			backoff := c.backoff * time.Duration(1<<uint(i-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return apierr.Network(ctx.Err())
			}
		}

		err := do(c, ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		c.logger.Debug("retrying request", "path", path, "attempt", i+1, "err", err)
	}
	if c.maxRetries > 0 {
		lastErr.Message = fmt.Sprintf("after %d retries: %s", c.maxRetries, lastErr.Message)
	}
	return lastErr
}

// do performs one request. Every failure comes back as an *apierr.Error.
func do[T any](c *Client, ctx context.Context, method, path string, body any, out *T) *apierr.Error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apierr.Wrap(apierr.KindUnknown, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return apierr.Wrap(apierr.KindUnknown, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.Network(err)
	}
	defer resp.Body.Close()

	if !httpx.IsSuccess(resp.StatusCode) {
		return apierr.FromResponse(resp.StatusCode, httpx.DecodeErrorMessage(resp))
	}
	if err := httpx.DecodeData(resp, out); err != nil {
		return apierr.Wrap(apierr.KindUnknown, "unexpected response", err)
	}
	return nil
}

func retryable(err *apierr.Error) bool {
	if err.Kind == apierr.KindNetwork {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return err.Status == http.StatusTooManyRequests || err.Status >= 500
}
