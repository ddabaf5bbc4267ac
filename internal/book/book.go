package book

import (
	"encoding/json"
	"strings"
)

// Genre is one of the fixed catalog categories.
type Genre string

const (
	GenreFiction    Genre = "FICTION"
	GenreNonFiction Genre = "NON_FICTION"
	GenreScience    Genre = "SCIENCE"
	GenreHistory    Genre = "HISTORY"
	GenreBiography  Genre = "BIOGRAPHY"
	GenreFantasy    Genre = "FANTASY"
)

// Genres lists every genre in display order.
var Genres = []Genre{GenreFiction, GenreNonFiction, GenreScience, GenreHistory, GenreBiography, GenreFantasy}

// Valid reports whether g is a known genre.
func (g Genre) Valid() bool {
	for _, known := range Genres {
		if g == known {
			return true
		}
	}
	return false
}

// ParseGenre accepts any case and '-' or ' ' in place of '_'.
func ParseGenre(s string) (Genre, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	g := Genre(s)
	return g, g.Valid()
}

// Book represents a catalog record as the library service returns it.
type Book struct {
	ID              string `json:"_id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Genre           Genre  `json:"genre"`
	ISBN            string `json:"isbn"`
	Description     string `json:"description,omitempty"`
	TotalCopies     int    `json:"totalCopies"`
	AvailableCopies int    `json:"copies"`
	// ServerAvailable is the service's own availability flag, nil when not sent.
	ServerAvailable *bool `json:"available,omitempty"`
}

// Available is the derived availability used for filtering and display.
func (b Book) Available() bool {
	return b.AvailableCopies > 0
}

// AvailabilityMismatch reports whether the service's flag disagrees with the copy count.
func (b Book) AvailabilityMismatch() bool {
	return b.ServerAvailable != nil && *b.ServerAvailable != b.Available()
}

type bookWire struct {
	ID              string `json:"_id"`
	AltID           string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Genre           Genre  `json:"genre"`
	ISBN            string `json:"isbn"`
	Description     string `json:"description"`
	TotalCopies     *int   `json:"totalCopies"`
	AvailableCopies int    `json:"copies"`
	ServerAvailable *bool  `json:"available"`
}

// UnmarshalJSON accepts both "_id" and "id", and falls back to copies when totalCopies is
// absent.
func (b *Book) UnmarshalJSON(data []byte) error {
	var w bookWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Book{
		ID:              w.ID,
		Title:           w.Title,
		Author:          w.Author,
		Genre:           w.Genre,
		ISBN:            w.ISBN,
		Description:     w.Description,
		AvailableCopies: w.AvailableCopies,
		TotalCopies:     w.AvailableCopies,
		ServerAvailable: w.ServerAvailable,
	}
	if b.ID == "" {
		b.ID = w.AltID
	}
	if w.TotalCopies != nil {
		b.TotalCopies = *w.TotalCopies
	}
	return nil
}

// Fields is the mutation payload for create and update. Nil fields are left out of the request
// body, which makes an update partial.
type Fields struct {
	Title       *string `json:"title,omitempty"       validate:"omitempty,notblank"`
	Author      *string `json:"author,omitempty"      validate:"omitempty,notblank"`
	Genre       *Genre  `json:"genre,omitempty"       validate:"omitempty,genre"`
	ISBN        *string `json:"isbn,omitempty"        validate:"omitempty,min=4"`
	Description *string `json:"description,omitempty"`
	Copies      *int    `json:"copies,omitempty"      validate:"omitempty,gte=0"`
	Available   *bool   `json:"available,omitempty"`
}

// WithDerivedAvailability sets Available from Copies when copies are being written.
func (f Fields) WithDerivedAvailability() Fields {
	if f.Copies != nil {
		available := *f.Copies > 0
		f.Available = &available
	}
	return f
}

// FieldsOf returns a full payload holding every field of b.
func FieldsOf(b Book) Fields {
	return Fields{
		Title:       Ptr(b.Title),
		Author:      Ptr(b.Author),
		Genre:       Ptr(b.Genre),
		ISBN:        Ptr(b.ISBN),
		Description: Ptr(b.Description),
		Copies:      Ptr(b.TotalCopies),
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// IndexByID returns the position of the book with id, or -1.
func IndexByID(books []Book, id string) int {
	for i, b := range books {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// Without returns a copy of books with the book id removed. The input is not modified.
func Without(books []Book, id string) []Book {
	out := make([]Book, 0, len(books))
	for _, b := range books {
		if b.ID != id {
			out = append(out, b)
		}
	}
	return out
}
