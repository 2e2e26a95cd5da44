// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spool/lib/consent"
	"github.com/bureau-foundation/spool/lib/storage"
)

func wipeCommand(_ context.Context, args []string, std streams) error {
	var root, only string
	flagSet := pflag.NewFlagSet("wipe", pflag.ContinueOnError)
	flagSet.SetOutput(std.stderr)
	flagSet.StringVar(&root, "root", "", "storage root directory (required)")
	flagSet.StringVar(&only, "feature", "", "wipe only this feature")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError("wipe", err)
	}
	if root == "" {
		return errors.New("wipe: --root is required")
	}

	reports, err := storage.Inspect(root)
	if err != nil {
		return err
	}
	var features []string
	for _, report := range reports {
		if only != "" && report.Feature != only {
			continue
		}
		if len(features) == 0 || features[len(features)-1] != report.Feature {
			features = append(features, report.Feature)
		}
	}
	if only != "" && len(features) == 0 {
		return fmt.Errorf("wipe: no directories for feature %q under %s", only, root)
	}

	for _, name := range features {
		removed := 0
		// Opening the store takes the directory locks, so a running
		// process is never wiped underneath. Pending consent leaves
		// the pending area in place for DropAll.
		store, err := storage.Open(storage.Config{
			Root:    root,
			Feature: name,
			Consent: consent.Pending,
			OnDrop:  func(storage.BatchHandle, storage.DropReason) { removed++ },
		})
		if err != nil {
			return fmt.Errorf("wipe %s: %w", name, err)
		}
		dropErr := store.DropAll()
		store.Close()
		if dropErr != nil {
			return fmt.Errorf("wipe %s: %w", name, dropErr)
		}
		fmt.Fprintf(std.stdout, "%s: removed %d batches\n", name, removed)
	}
	return nil
}
