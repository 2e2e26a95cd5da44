// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// DirectoryReport describes one feature directory for offline
// inspection.
type DirectoryReport struct {
	Feature   string        `json:"feature"`
	Pending   bool          `json:"pending"`
	Directory string        `json:"directory"`
	Batches   []BatchReport `json:"batches"`
}

// BatchReport describes one batch file. Items counts framed records
// without decoding them, so it works on encrypted batches.
type BatchReport struct {
	Handle      BatchHandle    `json:"handle"`
	Items       int            `json:"items"`
	Metadata    *BatchMetadata `json:"metadata,omitempty"`
	RawMetadata []byte         `json:"-"`
	Problem     string         `json:"problem,omitempty"`
}

// Inspect walks root without locking or modifying anything and
// reports every feature directory it finds, sorted by feature name
// with the granted directory first.
func Inspect(root string) ([]DirectoryReport, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStorageIO, root, err)
	}

	var reports []DirectoryReport
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		feature, pending, ok := parseDirectoryName(entry.Name())
		if !ok {
			continue
		}
		report, err := inspectDirectory(root, feature, pending)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Feature != reports[j].Feature {
			return reports[i].Feature < reports[j].Feature
		}
		return !reports[i].Pending && reports[j].Pending
	})
	return reports, nil
}

func parseDirectoryName(name string) (feature string, pending bool, ok bool) {
	if base, found := strings.CutSuffix(name, "-pending-v1"); found {
		return base, true, featureNamePattern.MatchString(base)
	}
	if base, found := strings.CutSuffix(name, "-v1"); found {
		return base, false, featureNamePattern.MatchString(base)
	}
	return "", false, false
}

func inspectDirectory(root, feature string, pending bool) (DirectoryReport, error) {
	directory := GrantedDirectory(root, feature)
	if pending {
		directory = PendingDirectory(root, feature)
	}
	report := DirectoryReport{Feature: feature, Pending: pending, Directory: directory}

	handles, err := listBatches(directory)
	if err != nil {
		return report, err
	}
	for _, handle := range handles {
		batch := BatchReport{Handle: handle}
		data, err := os.ReadFile(handle.Path)
		if err != nil {
			batch.Problem = err.Error()
			report.Batches = append(report.Batches, batch)
			continue
		}
		records, _, tailErr := parseRecords(data)
		batch.Items = len(records)
		if tailErr != nil {
			batch.Problem = tailErr.Error()
		}
		if raw, err := os.ReadFile(sidecarPath(handle.Path)); err == nil {
			batch.RawMetadata = raw
		}
		if metadata, err := readSidecar(handle.Path); err != nil {
			batch.Problem = err.Error()
		} else {
			batch.Metadata = metadata
		}
		report.Batches = append(report.Batches, batch)
	}
	return report, nil
}
