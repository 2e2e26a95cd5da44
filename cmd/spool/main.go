// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Spool persists telemetry to disk in batches and uploads them to an
// intake.
//
// Three subcommands:
//
//	spool run --config FILE       read NDJSON records from stdin, persist and upload them
//	spool inspect --root DIR      list feature directories and their batches
//	spool wipe --root DIR         delete stored batches
//
// run reads the configuration from --config or SPOOL_CONFIG. inspect
// and wipe work on a storage root directly and need no configuration.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/bureau-foundation/spool/lib/process"
	"github.com/bureau-foundation/spool/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// streams are the standard streams of one invocation.
type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, std streams) error
}

var commands = []command{
	{"run", "persist NDJSON records from stdin and upload them", runCommand},
	{"inspect", "list stored batches", inspectCommand},
	{"wipe", "delete stored batches", wipeCommand},
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return dispatch(ctx, args, streams{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
}

func dispatch(ctx context.Context, args []string, std streams) error {
	if len(args) == 0 {
		printHelp(std.stderr)
		return fmt.Errorf("subcommand required")
	}
	switch args[0] {
	case "--version", "version":
		fmt.Fprintf(std.stdout, "spool %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printHelp(std.stdout)
		return nil
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, args[1:], std)
		}
	}
	return fmt.Errorf("unknown command %q\n\nRun 'spool --help' for usage.", args[0])
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, "Spool persists telemetry in batches and uploads it.\n\nUsage:\n  spool <command> [flags]\n\nCommands:\n")
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.summary)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nRun 'spool <command> --help' for the flags of a command.\n")
}

// usageError formats a flag error the way every subcommand reports it.
func usageError(name string, err error) error {
	message := err.Error()
	if strings.HasPrefix(message, "unknown") {
		return fmt.Errorf("%s: %s\n\nRun 'spool %s --help' for usage.", name, message, name)
	}
	return fmt.Errorf("%s: %w", name, err)
}
