package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"bookcatalog/internal/book"
	"bookcatalog/internal/view"
)

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func renderBooks(out io.Writer, res view.Result) {
	if res.TotalCount == 0 {
		if res.HasActiveFilters {
			fmt.Fprintln(out, "No books match the current search and filters.")
		} else {
			fmt.Fprintln(out, "No books in the catalog.")
		}
		return
	}

	tw := newTable(out)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tGENRE\tISBN\tCOPIES\tAVAILABLE")
	for _, b := range res.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			b.ID, b.Title, b.Author, b.Genre, b.ISBN, b.AvailableCopies, b.TotalCopies, yesNo(b.Available()))
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "Page %d of %d, %d book(s)\n", res.PageIndex+1, res.PageCount, res.TotalCount)
}

func renderSuggestions(out io.Writer, suggestions []view.Suggestion) {
	if len(suggestions) == 0 {
		fmt.Fprintln(out, "No suggestions.")
		return
	}
	tw := newTable(out)
	for _, s := range suggestions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Text, s.Field, s.BookID)
	}
	_ = tw.Flush()
}

func renderSummary(out io.Writer, entries []book.BorrowSummaryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "Nothing is borrowed.")
		return
	}
	tw := newTable(out)
	fmt.Fprintln(tw, "TITLE\tISBN\tTOTAL QUANTITY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", e.Book.Title, e.Book.ISBN, e.TotalQuantity)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "%d copies borrowed across %d book(s)\n", book.SummaryTotal(entries), len(entries))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
