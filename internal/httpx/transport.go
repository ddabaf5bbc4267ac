package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RequestIDHeader is set on every outbound request.
const RequestIDHeader = "X-Request-Id"

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Middleware wraps a RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// Chain applies middlewares so that the first one listed runs first.
func Chain(base http.RoundTripper, middlewares ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	for i := len(middlewares) - 1; i >= 0; i-- {
		base = middlewares[i](base)
	}
	return base
}

// RequestID sets X-Request-Id from the context, or a fresh uuid, and stores it back in the
// request context so later middlewares can log it.
func RequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = RequestIDFrom(r.Context())
			}
			if requestID == "" {
				requestID = uuid.New().String()
			}

			r = r.Clone(ContextWithRequestID(r.Context(), requestID))
			r.Header.Set(RequestIDHeader, requestID)
			return next.RoundTrip(r)
		})
	}
}

// AccessLog logs one line per outbound request.
func AccessLog(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFrom(r.Context()),
			}
			if err != nil {
				logger.Warn("request failed", append(attrs, "err", err)...)
				return resp, err
			}
			logger.Debug("access", append(attrs, "status", resp.StatusCode)...)
			return resp, nil
		})
	}
}

// RateLimit blocks each request until limiter admits it or the request context ends.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		if limiter == nil {
			return next
		}
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if err := limiter.Wait(r.Context()); err != nil {
				return nil, err
			}
			return next.RoundTrip(r)
		})
	}
}
