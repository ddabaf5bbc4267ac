package book

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcatalog/internal/apierr"
)

func TestBook_UnmarshalJSON(t *testing.T) {
	t.Run("mongo style payload", func(t *testing.T) {
		raw := `{"_id":"66a1","title":"Dune","author":"Frank Herbert","genre":"FANTASY","isbn":"9780441013593","copies":3,"available":true}`

		var b Book
		require.NoError(t, json.Unmarshal([]byte(raw), &b))

		assert.Equal(t, "66a1", b.ID)
		assert.Equal(t, GenreFantasy, b.Genre)
		assert.Equal(t, 3, b.AvailableCopies)
		assert.Equal(t, 3, b.TotalCopies)
		assert.True(t, b.Available())
		assert.False(t, b.AvailabilityMismatch())
	})

	t.Run("id and totalCopies", func(t *testing.T) {
		raw := `{"id":"b-2","title":"Cosmos","copies":0,"totalCopies":4}`

		var b Book
		require.NoError(t, json.Unmarshal([]byte(raw), &b))

		assert.Equal(t, "b-2", b.ID)
		assert.Equal(t, 4, b.TotalCopies)
		assert.False(t, b.Available())
	})

	t.Run("server flag diverges from copies", func(t *testing.T) {
		raw := `{"_id":"x","copies":0,"available":true}`

		var b Book
		require.NoError(t, json.Unmarshal([]byte(raw), &b))

		assert.False(t, b.Available())
		assert.True(t, b.AvailabilityMismatch())
	})
}

func TestParseGenre(t *testing.T) {
	g, ok := ParseGenre("non-fiction")
	assert.True(t, ok)
	assert.Equal(t, GenreNonFiction, g)

	_, ok = ParseGenre("poetry")
	assert.False(t, ok)
}

func TestWithout(t *testing.T) {
	books := []Book{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	out := Without(books, "b")

	assert.Equal(t, []Book{{ID: "a"}, {ID: "c"}}, out)
	assert.Len(t, books, 3)
	assert.Equal(t, 1, IndexByID(books, "b"))
	assert.Equal(t, -1, IndexByID(out, "b"))
}

func TestFields_MarshalOmitsNil(t *testing.T) {
	data, err := json.Marshal(Fields{Title: Ptr("New title")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"New title"}`, string(data))

	data, err = json.Marshal(Fields{Copies: Ptr(0)}.WithDerivedAvailability())
	require.NoError(t, err)
	assert.JSONEq(t, `{"copies":0,"available":false}`, string(data))
}

func TestValidateCreate(t *testing.T) {
	valid := Fields{
		Title:  Ptr("Dune"),
		Author: Ptr("Frank Herbert"),
		Genre:  Ptr(GenreFantasy),
		ISBN:   Ptr("9780441013593"),
		Copies: Ptr(2),
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateCreate(valid))
	})

	t.Run("missing author", func(t *testing.T) {
		f := valid
		f.Author = nil
		err := ValidateCreate(f)
		assertValidation(t, err, "author")
	})

	t.Run("isbn too short", func(t *testing.T) {
		f := valid
		f.ISBN = Ptr("123")
		err := ValidateCreate(f)
		assertValidation(t, err, "isbn")
		assert.Equal(t, "ISBN must be at least 4 characters.", err.Error())
	})

	t.Run("unknown genre", func(t *testing.T) {
		f := valid
		f.Genre = Ptr(Genre("POETRY"))
		assertValidation(t, ValidateCreate(f), "genre")
	})

	t.Run("blank title", func(t *testing.T) {
		f := valid
		f.Title = Ptr("   ")
		assertValidation(t, ValidateCreate(f), "title")
	})

	t.Run("negative copies", func(t *testing.T) {
		f := valid
		f.Copies = Ptr(-1)
		assertValidation(t, ValidateCreate(f), "copies")
	})
}

func TestValidateUpdate(t *testing.T) {
	assert.NoError(t, ValidateUpdate(Fields{Description: Ptr("")}))
	assertValidation(t, ValidateUpdate(Fields{}), "")
	assertValidation(t, ValidateUpdate(Fields{ISBN: Ptr("12")}), "isbn")
}

func TestValidateBorrow(t *testing.T) {
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, ValidateBorrow(BorrowRequest{BookID: "b1", Quantity: 1, DueDate: due}))

	for _, q := range []int{0, -3} {
		err := ValidateBorrow(BorrowRequest{BookID: "b1", Quantity: q, DueDate: due})
		assertValidation(t, err, "quantity")
	}

	assertValidation(t, ValidateBorrow(BorrowRequest{BookID: "b1", Quantity: 1}), "dueDate")
	assertValidation(t, ValidateBorrow(BorrowRequest{Quantity: 1, DueDate: due}), "book")
}

func TestBorrowRecord_Status(t *testing.T) {
	due := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	r := BorrowRecord{DueDate: due}

	assert.Equal(t, BorrowActive, r.Status(due.Add(23*time.Hour)))
	assert.Equal(t, BorrowOverdue, r.Status(due.Add(25*time.Hour)))

	r.Returned = true
	assert.Equal(t, BorrowReturned, r.Status(due.Add(240*time.Hour)))
}

func TestSummaryTotal(t *testing.T) {
	entries := []BorrowSummaryEntry{{TotalQuantity: 2}, {TotalQuantity: 5}}
	assert.Equal(t, 7, SummaryTotal(entries))
}

func assertValidation(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.ErrValidation))
	var e *apierr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, field, e.Field)
}
