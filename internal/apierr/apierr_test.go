package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    Kind
	}{
		{"mongo duplicate", 500, `E11000 duplicate key error collection: books index: isbn_1 dup key`, KindDuplicateKey},
		{"duplicate key text", 409, "duplicate key value violates unique constraint", KindDuplicateKey},
		{"isbn too short", 400, "ISBN must be at least 4 characters", KindValidation},
		{"isbn without digit", 500, "isbn is malformed", KindUnknown},
		{"not enough copies", 400, "Not enough copies available", KindInsufficientCopies},
		{"not found", 404, "Book not found", KindNotFound},
		{"bad request", 400, "title is required", KindValidation},
		{"server error", 500, "boom", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status, tt.message))
		})
	}
}

func TestError_Is(t *testing.T) {
	t.Run("matches by kind", func(t *testing.T) {
		err := FromResponse(404, "no such book")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.False(t, errors.Is(err, ErrDuplicateKey))
	})

	t.Run("insufficient copies is a validation error", func(t *testing.T) {
		err := InsufficientCopies(5, 2)
		assert.True(t, errors.Is(err, ErrInsufficientCopies))
		assert.True(t, errors.Is(err, ErrValidation))
		assert.False(t, errors.Is(ErrValidation, ErrInsufficientCopies))
	})

	t.Run("wrapped", func(t *testing.T) {
		err := fmt.Errorf("create book: %w", New(KindDuplicateKey, "dup"))
		assert.True(t, errors.Is(err, ErrDuplicateKey))
		assert.Equal(t, KindDuplicateKey, KindOf(err))
	})
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindNetwork, KindOf(Network(errors.New("dial tcp: refused"))))
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	plain := errors.New("plain")
	e := From(plain)
	assert.Equal(t, KindUnknown, e.Kind)
	assert.ErrorIs(t, e, plain)

	typed := Validation("isbn", "isbn too short")
	assert.Same(t, typed, From(typed))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Duplicate ISBN! Please use a unique one.", UserMessage(FromResponse(500, "E11000")))
	assert.Equal(t, "only 2 copies are available, 5 requested", UserMessage(InsufficientCopies(5, 2)))
	assert.Equal(t, "Something went wrong.", UserMessage(errors.New("x")))
	assert.Equal(t, "", UserMessage(nil))
}
