package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 8 << 20

// Envelope is the success body: {"data": ...}. Success and Meta are optional.
type Envelope[T any] struct {
	Success *bool           `json:"success,omitempty"`
	Data    T               `json:"data"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

// ErrorResponse covers both error shapes the service produces: a flat {"message"} body and the
// {"success":false,"error":{"code","message"}} envelope.
type ErrorResponse struct {
	Success *bool             `json:"success,omitempty"`
	Message string            `json:"message"`
	Error   ErrorResponseBody `json:"error"`
}

type ErrorResponseBody struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// UnmarshalJSON tolerates "error" being a plain string.
func (b *ErrorResponseBody) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.Message = s
		return nil
	}
	type plain ErrorResponseBody
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = ErrorResponseBody(p)
	return nil
}

// Text returns the most specific message in the body.
func (e ErrorResponse) Text() string {
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(e.Error.Message); msg != "" {
		return msg
	}
	if len(e.Error.Details) > 0 {
		return e.Error.Details[0].Message
	}
	return ""
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// DecodeData decodes a success envelope from resp into out. An empty body leaves out untouched.
func DecodeData[T any](resp *http.Response, out *T) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	*out = env.Data
	return nil
}

// DecodeErrorMessage extracts the message from an error response. It falls back to the status
// text when the body is empty or not JSON.
func DecodeErrorMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if msg := er.Text(); msg != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
