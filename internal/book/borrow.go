package book

import (
	"time"
)

// BorrowStatus is derived from the due date unless the record was returned.
type BorrowStatus string

const (
	BorrowActive   BorrowStatus = "active"
	BorrowOverdue  BorrowStatus = "overdue"
	BorrowReturned BorrowStatus = "returned"
)

// BorrowRequest is the body of POST /borrow.
type BorrowRequest struct {
	BookID   string    `json:"book"     validate:"required"`
	Quantity int       `json:"quantity" validate:"gte=1"`
	DueDate  time.Time `json:"dueDate"`
}

// BorrowRecord is a single borrow transaction.
type BorrowRecord struct {
	ID       string    `json:"_id"`
	BookID   string    `json:"book"`
	Quantity int       `json:"quantity"`
	DueDate  time.Time `json:"dueDate"`
	Returned bool      `json:"returned,omitempty"`
}

// Status reports the record's state at now. A record is overdue from the day after its due
// date.
func (r BorrowRecord) Status(now time.Time) BorrowStatus {
	if r.Returned {
		return BorrowReturned
	}
	if DateOnly(now).After(DateOnly(r.DueDate)) {
		return BorrowOverdue
	}
	return BorrowActive
}

// SummaryBook is the book projection embedded in a summary entry.
type SummaryBook struct {
	Title string `json:"title"`
	ISBN  string `json:"isbn"`
}

// BorrowSummaryEntry aggregates borrowed quantity per book, keyed by ISBN.
type BorrowSummaryEntry struct {
	Book          SummaryBook `json:"book"`
	TotalQuantity int         `json:"totalQuantity"`
}

// SummaryTotal sums TotalQuantity over entries.
func SummaryTotal(entries []BorrowSummaryEntry) int {
	total := 0
	for _, e := range entries {
		total += e.TotalQuantity
	}
	return total
}
