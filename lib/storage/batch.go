// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Event is one serialized telemetry event as read back from a batch.
type Event struct {
	Data []byte
}

// Size returns the event's length in bytes.
func (e Event) Size() int { return len(e.Data) }

// BatchHandle identifies a batch file.
type BatchHandle struct {
	// Name is the file name: creation time in decimal Unix
	// milliseconds.
	Name string

	Path    string
	Created time.Time
	Size    int64
}

// Batch is a checked-out batch returned by Store.NextBatch.
type Batch struct {
	Handle BatchHandle
	Events []Event

	// Metadata is the feature-supplied sidecar bytes, nil when the
	// batch has none.
	Metadata []byte

	// Info is the decoded sidecar, nil when the batch was never
	// closed cleanly.
	Info *BatchMetadata
}

// Payloads returns the raw event bytes in order.
func (b *Batch) Payloads() [][]byte {
	payloads := make([][]byte, len(b.Events))
	for i, event := range b.Events {
		payloads[i] = event.Data
	}
	return payloads
}

// parseBatchName returns the creation time encoded in a batch file
// name. Names that are not all decimal digits are not batches.
func parseBatchName(name string) (int64, bool) {
	if name == "" || len(name) > 19 {
		return 0, false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return 0, false
		}
	}
	milliseconds, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return milliseconds, true
}

func batchName(milliseconds int64) string {
	return strconv.FormatInt(milliseconds, 10)
}

// listBatches returns the batch files in directory, oldest first.
// Sidecars, temporary files and the lock file are skipped. A missing
// directory has no batches.
func listBatches(directory string) ([]BatchHandle, error) {
	entries, err := os.ReadDir(directory)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", ErrStorageIO, directory, err)
	}

	type named struct {
		milliseconds int64
		handle       BatchHandle
	}
	var batches []named
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		milliseconds, ok := parseBatchName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", ErrStorageIO, entry.Name(), err)
		}
		batches = append(batches, named{
			milliseconds: milliseconds,
			handle: BatchHandle{
				Name:    entry.Name(),
				Path:    filepath.Join(directory, entry.Name()),
				Created: time.UnixMilli(milliseconds),
				Size:    info.Size(),
			},
		})
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].milliseconds < batches[j].milliseconds
	})

	handles := make([]BatchHandle, len(batches))
	for i, batch := range batches {
		handles[i] = batch.handle
	}
	return handles, nil
}

// removeBatch deletes a batch file and its sidecar. Already-missing
// files are not an error.
func removeBatch(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: deleting %s: %v", ErrStorageIO, filepath.Base(path), err)
	}
	if err := os.Remove(sidecarPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: deleting %s: %v", ErrStorageIO, filepath.Base(sidecarPath(path)), err)
	}
	return nil
}
