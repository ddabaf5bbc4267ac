// Package apierr defines the error taxonomy shared by the library client, the query cache and
// the mutation paths.
//
// Every failure that crosses a package boundary is an *Error carrying a Kind:
//
//	book, err := client.CreateBook(ctx, fields)
//	if errors.Is(err, apierr.ErrDuplicateKey) {
//	    // isbn already taken
//	}
//
//	switch apierr.KindOf(err) {
//	case apierr.KindNotFound:
//	case apierr.KindNetwork:
//	}
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a machine-readable failure category.
type Kind string

const (
	KindDuplicateKey       Kind = "DUPLICATE_KEY"
	KindValidation         Kind = "VALIDATION"
	KindInsufficientCopies Kind = "INSUFFICIENT_COPIES"
	KindNotFound           Kind = "NOT_FOUND"
	KindNetwork            Kind = "NETWORK"
	KindUnknown            Kind = "UNKNOWN"
)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrDuplicateKey       = &Error{Kind: KindDuplicateKey, Message: "duplicate key"}
	ErrValidation         = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrInsufficientCopies = &Error{Kind: KindInsufficientCopies, Message: "not enough copies available"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrNetwork            = &Error{Kind: KindNetwork, Message: "network error"}
	ErrUnknown            = &Error{Kind: KindUnknown, Message: "unknown error"}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	// Status is the HTTP status of the response, 0 when no response was received.
	Status int
	// Field names the offending input field for validation failures.
	Field string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same Kind. An insufficient-copies error also
// matches ErrValidation.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	return e.Kind == KindInsufficientCopies && t.Kind == KindValidation
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Validation returns a validation error for field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

// InsufficientCopies returns the error for a borrow that asks for more than is available.
func InsufficientCopies(requested, available int) *Error {
	return &Error{
		Kind:    KindInsufficientCopies,
		Message: fmt.Sprintf("only %d copies are available, %d requested", available, requested),
		Field:   "quantity",
	}
}

// Network wraps a transport failure where no response was received.
func Network(cause error) *Error {
	return &Error{Kind: KindNetwork, Message: "request failed", cause: cause}
}

// KindOf returns the Kind of err, KindUnknown for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// From converts any error into an *Error, keeping existing classification.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindUnknown, "unexpected error", err)
}

// Classify maps a server error message and HTTP status onto a Kind.
//
// Duplicate-key markers win over everything else, then the isbn length message, then copy
// availability, then the status code.
func Classify(status int, message string) Kind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(message, "E11000") || strings.Contains(lower, "duplicate key"):
		return KindDuplicateKey
	case strings.Contains(lower, "isbn") && strings.Contains(message, "4"):
		return KindValidation
	case strings.Contains(lower, "copies") &&
		(strings.Contains(lower, "not enough") || strings.Contains(lower, "insufficient") || strings.Contains(lower, "exceed")):
		return KindInsufficientCopies
	case status == 404:
		return KindNotFound
	case status == 400 || status == 422:
		return KindValidation
	default:
		return KindUnknown
	}
}

// FromResponse builds the error for a non-2xx response.
func FromResponse(status int, message string) *Error {
	kind := Classify(status, message)
	if message == "" {
		message = userMessage(kind)
	}
	return &Error{Kind: kind, Message: message, Status: status}
}

// UserMessage is the text shown to a person for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	e := From(err)
	switch e.Kind {
	case KindValidation, KindInsufficientCopies:
		if e.Message != "" {
			return e.Message
		}
	}
	return userMessage(e.Kind)
}

func userMessage(kind Kind) string {
	switch kind {
	case KindDuplicateKey:
		return "Duplicate ISBN! Please use a unique one."
	case KindValidation:
		return "ISBN must be at least 4 characters."
	case KindInsufficientCopies:
		return "Not enough copies available."
	case KindNotFound:
		return "Book not found."
	case KindNetwork:
		return "Could not reach the library service."
	default:
		return "Something went wrong."
	}
}
