// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Spool-intake-mock is a local telemetry intake for development and
// end-to-end tests. It accepts the uploads spool sends, gunzips them,
// counts events per endpoint and logs each request. With --fail-status
// and --fail-count the first requests fail, which exercises retry.
//
// On shutdown (SIGINT or SIGTERM) it logs the totals.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spool/lib/intake"
	"github.com/bureau-foundation/spool/lib/process"
	"github.com/bureau-foundation/spool/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	listen     string
	failStatus int
	failCount  int
}

func parseOptions(args []string) (options, bool, error) {
	var opts options
	var showVersion bool
	flagSet := pflag.NewFlagSet("spool-intake-mock", pflag.ContinueOnError)
	flagSet.StringVar(&opts.listen, "listen", "127.0.0.1:8126", "TCP listen address")
	flagSet.IntVar(&opts.failStatus, "fail-status", 503, "status returned for failed requests")
	flagSet.IntVar(&opts.failCount, "fail-count", 0, "number of initial requests to fail")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return opts, false, err
	}
	if flagSet.NArg() > 0 {
		return opts, false, fmt.Errorf("unexpected argument %q", flagSet.Arg(0))
	}
	if opts.failCount < 0 {
		return opts, false, errors.New("--fail-count must not be negative")
	}
	if opts.failCount > 0 && (opts.failStatus < 400 || opts.failStatus > 599) {
		return opts, false, fmt.Errorf("--fail-status must be a 4xx or 5xx code, got %d", opts.failStatus)
	}
	return opts, showVersion, nil
}

func run(args []string) error {
	opts, showVersion, err := parseOptions(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("spool-intake-mock")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	handler := intake.NewHandler(intake.HandlerConfig{
		FailStatus: opts.failStatus,
		FailCount:  opts.failCount,
		Logger:     logger,
	})
	server := intake.NewServer(intake.ServerConfig{
		Address: opts.listen,
		Handler: handler,
		Logger:  logger,
	})

	serveErr := server.Serve(ctx)

	stats := handler.Stats()
	logger.Info("intake totals",
		"requests", stats.Requests,
		"failed", stats.Failed,
		"events", stats.Events,
	)
	for path, count := range stats.EventsByPath {
		logger.Info("events by endpoint", "path", path, "events", count)
	}
	return serveErr
}
