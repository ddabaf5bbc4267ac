package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"bookcatalog/internal/apierr"
	"bookcatalog/internal/book"
	"bookcatalog/internal/library"
	"bookcatalog/internal/querycache"
	"bookcatalog/internal/view"
)

const dateLayout = "2006-01-02"

func (e *env) booksCommand() *cli.Command {
	return &cli.Command{
		Name:  "books",
		Usage: "list books with search, filters, sorting and paging",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "match title, author, isbn or description"},
			&cli.StringFlag{Name: "genre", Aliases: []string{"g"}, Usage: "only this genre"},
			&cli.StringFlag{Name: "availability", Aliases: []string{"a"}, Usage: "available, unavailable or all"},
			&cli.StringFlag{Name: "sort", Usage: "title, author, genre, isbn, copies or totalCopies"},
			&cli.StringFlag{Name: "order", Value: "asc", Usage: "asc or desc"},
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1, Usage: "page number, starting at 1"},
			&cli.IntFlag{Name: "page-size", Usage: "rows per page"},
		},
		Action: func(c *cli.Context) error {
			query, err := parseListQuery(c, e.cfg.PageSize)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			sub := e.lib.Books()
			defer sub.Unsubscribe()
			snap, err := sub.Settled(c.Context)
			if err != nil {
				return e.fail("list books", err)
			}

			books := library.BooksOf(snap)
			e.warnMismatches(books)
			res := view.Derive(books, query.search, query.filters, query.sort, query.page)
			renderBooks(e.out, res)
			return nil
		},
	}
}

type listQuery struct {
	search  string
	filters view.Filters
	sort    view.Sort
	page    view.Page
}

func parseListQuery(c *cli.Context, defaultPageSize int) (listQuery, error) {
	q := listQuery{search: c.String("search")}

	if s := c.String("genre"); s != "" {
		g, ok := book.ParseGenre(s)
		if !ok {
			return q, fmt.Errorf("unknown genre %q", s)
		}
		q.filters.Genre = g
	}
	availability, err := view.ParseAvailability(c.String("availability"))
	if err != nil {
		return q, err
	}
	q.filters.Availability = availability

	column, err := view.ParseColumn(c.String("sort"))
	if err != nil {
		return q, err
	}
	if column != view.ColumnNone {
		direction, err := view.ParseDirection(c.String("order"))
		if err != nil {
			return q, err
		}
		q.sort = view.Sort{Column: column, Direction: direction}
	}

	q.page = view.Page{Index: c.Int("page") - 1, Size: defaultPageSize}
	if c.IsSet("page-size") {
		q.page.Size = c.Int("page-size")
	}
	return q, nil
}

func (e *env) suggestCommand() *cli.Command {
	return &cli.Command{
		Name:      "suggest",
		Usage:     "typeahead suggestions for a search term",
		ArgsUsage: "TERM",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 8, Usage: "maximum suggestions"},
		},
		Action: func(c *cli.Context) error {
			term := strings.Join(c.Args().Slice(), " ")

			sub := e.lib.Books()
			defer sub.Unsubscribe()
			snap, err := sub.Settled(c.Context)
			if err != nil {
				return e.fail("list books", err)
			}

			suggestions := view.Suggest(library.BooksOf(snap), term, c.Int("limit"))
			if len(suggestions) == 0 && len([]rune(strings.TrimSpace(term))) < view.MinSuggestLength {
				fmt.Fprintf(e.out, "Type at least %d characters.\n", view.MinSuggestLength)
				return nil
			}
			renderSuggestions(e.out, suggestions)
			return nil
		},
	}
}

func bookFieldFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title"},
		&cli.StringFlag{Name: "author"},
		&cli.StringFlag{Name: "genre", Usage: strings.ToLower(joinGenres())},
		&cli.StringFlag{Name: "isbn"},
		&cli.StringFlag{Name: "description"},
		&cli.IntFlag{Name: "copies"},
	}
}

func joinGenres() string {
	names := make([]string, len(book.Genres))
	for i, g := range book.Genres {
		names[i] = string(g)
	}
	return strings.Join(names, ", ")
}

// fieldsFromFlags copies only the flags the user set, so an update stays partial.
func fieldsFromFlags(c *cli.Context) (book.Fields, error) {
	var f book.Fields
	if c.IsSet("title") {
		f.Title = book.Ptr(c.String("title"))
	}
	if c.IsSet("author") {
		f.Author = book.Ptr(c.String("author"))
	}
	if c.IsSet("genre") {
		g, ok := book.ParseGenre(c.String("genre"))
		if !ok {
			return f, apierr.Validation("genre", fmt.Sprintf("genre must be one of %s", joinGenres()))
		}
		f.Genre = &g
	}
	if c.IsSet("isbn") {
		f.ISBN = book.Ptr(c.String("isbn"))
	}
	if c.IsSet("description") {
		f.Description = book.Ptr(c.String("description"))
	}
	if c.IsSet("copies") {
		f.Copies = book.Ptr(c.Int("copies"))
	}
	return f, nil
}

func (e *env) addCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "add a book",
		Flags: bookFieldFlags(),
		Action: func(c *cli.Context) error {
			fields, err := fieldsFromFlags(c)
			if err != nil {
				return e.fail("add book", err)
			}
			created, err := e.lib.CreateBook(c.Context, fields)
			if err != nil {
				return e.fail("add book", err)
			}
			fmt.Fprintf(e.out, "Added %q (%s).\n", created.Title, created.ID)
			return nil
		},
	}
}

func (e *env) updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "change fields of a book",
		ArgsUsage: "ID",
		Flags:     bookFieldFlags(),
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("book id is required", 2)
			}
			fields, err := fieldsFromFlags(c)
			if err != nil {
				return e.fail("update book", err)
			}
			updated, err := e.lib.UpdateBook(c.Context, id, fields)
			if err != nil {
				return e.fail("update book", err)
			}
			fmt.Fprintf(e.out, "Updated %q (%s).\n", updated.Title, updated.ID)
			return nil
		},
	}
}

func (e *env) deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a book",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("book id is required", 2)
			}

			// Hold the list so the removal is applied to it before the server answers.
			sub := e.lib.Books()
			defer sub.Unsubscribe()
			if _, err := sub.Settled(c.Context); err != nil {
				e.log.Warn("book list unavailable", "err", err)
			}

			if err := e.lib.DeleteBook(c.Context, id); err != nil {
				return e.fail("delete book", err)
			}
			fmt.Fprintf(e.out, "Deleted %s.\n", id)
			return nil
		},
	}
}

func (e *env) borrowCommand() *cli.Command {
	return &cli.Command{
		Name:      "borrow",
		Usage:     "borrow copies of a book",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "quantity", Aliases: []string{"q"}, Value: 1},
			&cli.StringFlag{Name: "due", Usage: "due date, " + dateLayout},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("book id is required", 2)
			}
			var due time.Time
			if s := c.String("due"); s != "" {
				d, err := time.Parse(dateLayout, s)
				if err != nil {
					return cli.Exit(fmt.Sprintf("due date must look like %s", dateLayout), 2)
				}
				due = d
			}

			sub := e.lib.Books()
			defer sub.Unsubscribe()
			if _, err := sub.Settled(c.Context); err != nil {
				e.log.Warn("book list unavailable", "err", err)
			}

			record, err := e.lib.Borrow(c.Context, id, c.Int("quantity"), due)
			if err != nil {
				return e.fail("borrow", err)
			}
			fmt.Fprintf(e.out, "Borrowed %d copy/copies of %s, due %s.\n", record.Quantity, id, record.DueDate.Format(dateLayout))
			return nil
		},
	}
}

func (e *env) summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "borrowed copies per book",
		Action: func(c *cli.Context) error {
			sub := e.lib.BorrowSummary()
			defer sub.Unsubscribe()
			snap, err := sub.Settled(c.Context)
			if err != nil {
				return e.fail("borrow summary", err)
			}
			renderSummary(e.out, library.SummaryOf(snap))
			return nil
		},
	}
}

func (e *env) watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "re-render the book list every time it is refreshed",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Usage: "poll interval (defaults to the configured one)"},
			&cli.IntFlag{Name: "count", Usage: "stop after this many renders, 0 runs until interrupted"},
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}},
			&cli.StringFlag{Name: "genre", Aliases: []string{"g"}},
			&cli.StringFlag{Name: "availability", Aliases: []string{"a"}},
			&cli.StringFlag{Name: "sort"},
			&cli.StringFlag{Name: "order", Value: "asc"},
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1},
			&cli.IntFlag{Name: "page-size"},
		},
		Action: func(c *cli.Context) error {
			query, err := parseListQuery(c, e.cfg.PageSize)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			interval := c.Duration("interval")
			if interval <= 0 {
				interval = e.cfg.PollInterval
			}
			if interval <= 0 {
				return cli.Exit("poll interval must be positive", 2)
			}

			updates := make(chan querycache.Snapshot, 1)
			sub := e.lib.Books(
				querycache.WithPollingInterval(interval),
				querycache.WithListener(func(s querycache.Snapshot) {
					select {
					case <-updates:
					default:
					}
					updates <- s
				}),
			)
			defer sub.Unsubscribe()

			return e.watch(c.Context, updates, query, c.Int("count"))
		},
	}
}

func (e *env) watch(ctx context.Context, updates <-chan querycache.Snapshot, q listQuery, count int) error {
	var last time.Time
	var lastErr error
	renders := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-updates:
			if snap.Err != nil && snap.Err != lastErr {
				e.log.Warn("refresh failed", "err", snap.Err)
				fmt.Fprintf(e.out, "! %s (showing last good data)\n", apierr.UserMessage(snap.Err))
			}
			lastErr = snap.Err
			if snap.Value == nil || snap.UpdatedAt.Equal(last) {
				continue
			}
			last = snap.UpdatedAt

			fmt.Fprintf(e.out, "Updated %s\n", snap.UpdatedAt.Format("15:04:05"))
			renderBooks(e.out, view.Derive(library.BooksOf(snap), q.search, q.filters, q.sort, q.page))
			renders++
			if count > 0 && renders >= count {
				return nil
			}
		}
	}
}

// fail logs the full error and returns the message meant for a person.
func (e *env) fail(action string, err error) error {
	kind := apierr.KindOf(err)
	e.log.Debug(action+" failed", "kind", kind, "err", err)
	code := 1
	if kind == apierr.KindValidation || kind == apierr.KindInsufficientCopies {
		code = 2
	}
	return cli.Exit(apierr.UserMessage(err), code)
}

func (e *env) warnMismatches(books []book.Book) {
	for _, b := range books {
		if b.AvailabilityMismatch() {
			e.log.Warn("availability flag disagrees with copies", "id", b.ID, "copies", b.AvailableCopies, "available", *b.ServerAvailable)
		}
	}
}
