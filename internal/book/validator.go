package book

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bookcatalog/internal/apierr"
)

// MinISBNLength is the shortest ISBN the library service accepts.
const MinISBNLength = 4

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	validate.RegisterValidation("notblank", validateNotBlank)
	validate.RegisterValidation("genre", validateGenre)
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func validateGenre(fl validator.FieldLevel) bool {
	return Genre(fl.Field().String()).Valid()
}

// ValidateCreate checks a create payload: every required field present and well formed.
func ValidateCreate(f Fields) error {
	missing := []struct {
		field string
		set   bool
	}{
		{"title", f.Title != nil},
		{"author", f.Author != nil},
		{"genre", f.Genre != nil},
		{"isbn", f.ISBN != nil},
		{"copies", f.Copies != nil},
	}
	for _, m := range missing {
		if !m.set {
			return apierr.Validation(m.field, fmt.Sprintf("%s is required", m.field))
		}
	}
	return ValidateStruct(f)
}

// ValidateUpdate checks a partial payload: only the fields present are validated.
func ValidateUpdate(f Fields) error {
	if f == (Fields{}) {
		return apierr.Validation("", "nothing to update")
	}
	return ValidateStruct(f)
}

// ValidateBorrow rejects a borrow request before it reaches the network.
func ValidateBorrow(r BorrowRequest) error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if r.DueDate.IsZero() {
		return apierr.Validation("dueDate", "Please select a due date.")
	}
	return nil
}

// ValidateStruct runs the struct tags on s and returns the first failure as an
// *apierr.Error.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apierr.Wrap(apierr.KindValidation, "invalid input", err)
	}

	fe := fieldErrs[0]
	field := fe.Field()
	param := fe.Param()

	var message string
	switch fe.Tag() {
	case "required", "notblank":
		message = fmt.Sprintf("%s is required", field)
	case "min":
		if field == "isbn" {
			message = fmt.Sprintf("ISBN must be at least %s characters.", param)
		} else {
			message = fmt.Sprintf("%s must be at least %s characters", field, param)
		}
	case "gte":
		if field == "quantity" {
			message = "Enter a valid quantity (1 or more)."
		} else {
			message = fmt.Sprintf("%s must be at least %s", field, param)
		}
	case "genre":
		message = fmt.Sprintf("%s must be one of %s", field, joinGenres())
	default:
		message = fmt.Sprintf("%s is invalid", field)
	}

	return apierr.Validation(field, message)
}

func joinGenres() string {
	names := make([]string, len(Genres))
	for i, g := range Genres {
		names[i] = string(g)
	}
	return strings.Join(names, ", ")
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
