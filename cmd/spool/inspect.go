// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/spool/lib/codec"
	"github.com/bureau-foundation/spool/lib/storage"
)

// inspectedBatch adds the CBOR diagnostic notation of the sidecar to
// a batch report.
type inspectedBatch struct {
	storage.BatchReport
	Diagnostic string `json:"diagnostic,omitempty"`
}

type inspectedDirectory struct {
	Feature   string           `json:"feature"`
	Pending   bool             `json:"pending"`
	Directory string           `json:"directory"`
	Batches   []inspectedBatch `json:"batches"`
}

func inspectCommand(_ context.Context, args []string, std streams) error {
	var root string
	var outputJSON, diagnostic bool
	flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	flagSet.SetOutput(std.stderr)
	flagSet.StringVar(&root, "root", "", "storage root directory (required)")
	flagSet.BoolVar(&outputJSON, "json", false, "output as JSON even on a terminal")
	flagSet.BoolVar(&diagnostic, "diag", false, "show batch metadata in CBOR diagnostic notation")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError("inspect", err)
	}
	if root == "" {
		return errors.New("inspect: --root is required")
	}

	reports, err := storage.Inspect(root)
	if err != nil {
		return err
	}
	directories := make([]inspectedDirectory, 0, len(reports))
	for _, report := range reports {
		directory := inspectedDirectory{
			Feature:   report.Feature,
			Pending:   report.Pending,
			Directory: report.Directory,
			Batches:   make([]inspectedBatch, 0, len(report.Batches)),
		}
		for _, batch := range report.Batches {
			inspected := inspectedBatch{BatchReport: batch}
			if diagnostic && len(batch.RawMetadata) > 0 {
				notation, err := codec.Diagnose(batch.RawMetadata)
				if err != nil {
					notation = fmt.Sprintf("<invalid CBOR: %v>", err)
				}
				inspected.Diagnostic = notation
			}
			directory.Batches = append(directory.Batches, inspected)
		}
		directories = append(directories, directory)
	}

	terminal := isTerminal(std.stdout)
	if outputJSON || !terminal {
		encoder := json.NewEncoder(std.stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(directories)
	}
	printInspectTable(std.stdout, directories, time.Now(), terminal)
	return nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
