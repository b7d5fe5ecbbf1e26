// Command scrapectl submits accounts to a scrapejobs server, waits for the
// report and prints its records as JSON.
//
// Usage:
//
//	scrapectl -file accounts.txt
//	scrapectl -accounts @alice,https://twitter.com/bob
//	scrapectl -account carol
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/scrapejobs/internal/client"
	"github.com/kiranshivaraju/scrapejobs/internal/input"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("scrapectl failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	server   string
	file     string
	accounts string
	account  string
	poll     time.Duration
	timeout  time.Duration
	keep     bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("scrapectl", flag.ContinueOnError)
	fs.StringVar(&o.server, "server", envOr("SCRAPEJOBS_SERVER", "http://localhost:3000"), "scrapejobs server base URL")
	fs.StringVar(&o.file, "file", "", "file with one account per line")
	fs.StringVar(&o.accounts, "accounts", "", "comma-separated accounts")
	fs.StringVar(&o.account, "account", "", "a single account")
	fs.DurationVar(&o.poll, "poll", time.Second, "poll interval")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Minute, "give up waiting after this long")
	fs.BoolVar(&o.keep, "keep", false, "keep the task on the server after fetching its result")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	set := 0
	for _, v := range []string{o.file, o.accounts, o.account} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return o, errors.New("exactly one of -file, -accounts or -account is required")
	}
	return o, nil
}

// source maps the chosen flag to an input source.
func (o options) source() input.Source {
	switch {
	case o.file != "":
		return input.FromFile(o.file)
	case o.accounts != "":
		return input.FromList(strings.Split(o.accounts, ","))
	default:
		return input.FromSingle(o.account)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	src := o.source()
	accounts, err := src.Resolve()
	if err != nil {
		return fmt.Errorf("reading %s input: %w", src.Kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	c := client.New(o.server)
	c.PollInterval = o.poll

	task, err := c.Submit(ctx, accounts)
	if err != nil {
		return fmt.Errorf("submitting: %w", err)
	}
	slog.Info("task submitted", "task_id", task.ID, "accounts", len(accounts), "expires_at", task.ExpiresAt)

	result, err := c.Wait(ctx, task.ID, func(st client.TaskStatus) {
		slog.Info("task progress", "state", st.State, "done", st.Done, "total", st.Total)
	})
	if err != nil {
		return fmt.Errorf("waiting for task %s: %w", task.ID, err)
	}

	if !o.keep {
		if err := c.Delete(ctx, task.ID); err != nil {
			slog.Warn("deleting task", "task_id", task.ID, "error", err)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Payload)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
