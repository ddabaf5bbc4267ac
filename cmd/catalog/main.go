package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"bookcatalog/internal/config"
	"bookcatalog/internal/library"
	"bookcatalog/internal/logger"
	"bookcatalog/internal/platform/libraryapi"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every command needs once flags and config are resolved.
type env struct {
	out io.Writer
	cfg config.Config
	log *slog.Logger
	lib *library.Library
}

func newApp(out io.Writer) *cli.App {
	e := &env{out: out}
	return &cli.App{
		Name:   "catalog",
		Usage:  "browse and manage the library catalog",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: []string{config.EnvConfigPath}},
			&cli.StringFlag{Name: "base-url", Usage: "library service base URL"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Before: e.setup,
		After:  e.teardown,
		Commands: []*cli.Command{
			e.booksCommand(),
			e.suggestCommand(),
			e.addCommand(),
			e.updateCommand(),
			e.deleteCommand(),
			e.borrowCommand(),
			e.summaryCommand(),
			e.watchCommand(),
			e.seedCommand(),
		},
	}
}

func (e *env) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("base-url") {
		cfg.BaseURL = c.String("base-url")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.cfg = cfg
	e.log = logger.New(logger.Config{Format: cfg.LogFormat, Level: logger.ParseLevel(cfg.LogLevel)})
	client := libraryapi.NewClient(libraryapi.Config{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.RequestTimeout,
		RPS:        cfg.RPS,
		Burst:      cfg.Burst,
		MaxRetries: cfg.MaxRetries,
		Logger:     e.log,
	})
	e.lib = library.New(client, library.Options{KeepUnusedFor: cfg.KeepUnusedFor, Logger: e.log})
	return nil
}

func (e *env) teardown(*cli.Context) error {
	if e.lib != nil {
		e.lib.Close()
	}
	return nil
}
