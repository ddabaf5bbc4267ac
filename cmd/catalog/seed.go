package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"bookcatalog/internal/apierr"
	"bookcatalog/internal/book"
)

// seedFile is the YAML layout accepted by "catalog seed --file".
type seedFile struct {
	Books []seedBook `yaml:"books"`
}

type seedBook struct {
	Title       string `yaml:"title"`
	Author      string `yaml:"author"`
	Genre       string `yaml:"genre"`
	ISBN        string `yaml:"isbn"`
	Description string `yaml:"description"`
	Copies      int    `yaml:"copies"`
}

func (s seedBook) fields() (book.Fields, error) {
	g, ok := book.ParseGenre(s.Genre)
	if !ok {
		return book.Fields{}, apierr.Validation("genre", fmt.Sprintf("%q: unknown genre %q", s.Title, s.Genre))
	}
	f := book.Fields{
		Title:  book.Ptr(s.Title),
		Author: book.Ptr(s.Author),
		Genre:  &g,
		ISBN:   book.Ptr(s.ISBN),
		Copies: book.Ptr(s.Copies),
	}
	if s.Description != "" {
		f.Description = book.Ptr(s.Description)
	}
	return f, nil
}

func readSeedFile(path string) ([]book.Fields, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	out := make([]book.Fields, 0, len(file.Books))
	for _, s := range file.Books {
		f, err := s.fields()
		if err != nil {
			return nil, err
		}
		if err := book.ValidateCreate(f); err != nil {
			return nil, fmt.Errorf("%q: %w", s.Title, err)
		}
		out = append(out, f)
	}
	return out, nil
}

var seedWords = []string{
	"Adventure", "Mystery", "Journey", "Discovery", "Secrets", "Dreams", "Hope",
	"Peace", "Science", "Nature", "History", "Future", "Wisdom", "Light", "Time",
}

var seedAuthors = []string{"Ada Park", "Tomas Berg", "Lena Ortiz", "Kofi Mensah", "Mira Sato"}

// generateBooks makes n random books with ISBNs 978-00000001 upward.
func generateBooks(n int, rng *rand.Rand) []book.Fields {
	out := make([]book.Fields, n)
	for i := range out {
		word := seedWords[rng.IntN(len(seedWords))]
		genre := book.Genres[rng.IntN(len(book.Genres))]
		out[i] = book.Fields{
			Title:       book.Ptr(fmt.Sprintf("Book Title %d - %s", i+1, word)),
			Author:      book.Ptr(seedAuthors[rng.IntN(len(seedAuthors))]),
			Genre:       &genre,
			ISBN:        book.Ptr(fmt.Sprintf("978-%08d", i+1)),
			Description: book.Ptr(fmt.Sprintf("A book about %s.", word)),
			Copies:      book.Ptr(rng.IntN(6)),
		}
	}
	return out
}

type seedResult struct {
	created    int
	duplicates int
}

// seed creates books with at most workers requests in flight. Duplicate ISBNs are counted and
// skipped; any other failure stops the run.
func (e *env) seed(ctx context.Context, books []book.Fields, workers int) (seedResult, error) {
	var (
		mu  sync.Mutex
		res seedResult
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range books {
		g.Go(func() error {
			_, err := e.lib.CreateBook(ctx, f)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.created++
			case errors.Is(err, apierr.ErrDuplicateKey):
				res.duplicates++
				e.log.Debug("seed: duplicate isbn skipped", "isbn", *f.ISBN)
			default:
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	return res, err
}

func (e *env) seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "create books from a YAML file or random sample data",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "YAML file with a top-level books list"},
			&cli.IntFlag{Name: "count", Value: 20, Usage: "number of random books when no file is given"},
			&cli.IntFlag{Name: "workers", Value: 4, Usage: "concurrent create requests"},
		},
		Action: func(c *cli.Context) error {
			var books []book.Fields
			if path := c.String("file"); path != "" {
				var err error
				if books, err = readSeedFile(path); err != nil {
					return e.fail("seed", err)
				}
			} else {
				if c.Int("count") <= 0 {
					return cli.Exit("count must be positive", 2)
				}
				books = generateBooks(c.Int("count"), rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
			}
			workers := c.Int("workers")
			if workers <= 0 {
				workers = 1
			}

			e.log.Info("seeding", "books", len(books), "workers", workers)
			res, err := e.seed(c.Context, books, workers)
			if err != nil {
				return e.fail("seed", err)
			}
			fmt.Fprintf(e.out, "Seeded %d book(s), skipped %d duplicate(s).\n", res.created, res.duplicates)
			return nil
		},
	}
}
