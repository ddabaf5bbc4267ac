package httpx

import (
	"context"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// ContextWithRequestID returns a context carrying requestID. Outbound requests made with it reuse
// the id instead of generating one.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom retrieves the request id from ctx.
func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
