// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"testing"

	"github.com/bureau-foundation/spool/lib/clock"
	"github.com/bureau-foundation/spool/lib/consent"
)

func TestInspectReportsEveryDirectory(t *testing.T) {
	root := t.TempDir()
	fake := clock.Fake(testEpoch)

	logs, err := Open(Config{Root: root, Feature: "logs", Consent: consent.Granted, Clock: fake})
	if err != nil {
		t.Fatal(err)
	}
	writeEvents(t, logs, StatusWritten, "a", "b", "c")
	logs.Close()

	rum, err := Open(Config{Root: root, Feature: "rum", Consent: consent.Pending, Clock: fake})
	if err != nil {
		t.Fatal(err)
	}
	writeEvents(t, rum, StatusPending, "view")
	rum.Close()

	reports, err := Inspect(root)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(reports) != 4 {
		t.Fatalf("got %d directory reports, want 4", len(reports))
	}

	logsGranted := reports[0]
	if logsGranted.Feature != "logs" || logsGranted.Pending {
		t.Fatalf("first report = %s pending=%t, want logs granted", logsGranted.Feature, logsGranted.Pending)
	}
	if len(logsGranted.Batches) != 1 || logsGranted.Batches[0].Items != 3 {
		t.Fatalf("logs batches = %+v, want one batch of 3", logsGranted.Batches)
	}
	if metadata := logsGranted.Batches[0].Metadata; metadata == nil || metadata.Items != 3 {
		t.Errorf("logs metadata = %+v, want 3 items", metadata)
	}

	rumPending := reports[3]
	if rumPending.Feature != "rum" || !rumPending.Pending || len(rumPending.Batches) != 1 {
		t.Errorf("last report = %+v, want one pending rum batch", rumPending)
	}
}
