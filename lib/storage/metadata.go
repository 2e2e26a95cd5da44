// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/spool/lib/codec"
	"github.com/bureau-foundation/spool/lib/consent"
)

const sidecarSuffix = "_metadata"

// BatchMetadata is the CBOR sidecar written when a batch closes.
type BatchMetadata struct {
	Created   time.Time     `cbor:"created"`
	LastWrite time.Time     `cbor:"last_write"`
	Items     int           `cbor:"items"`
	Bytes     int64         `cbor:"bytes"`
	Consent   consent.State `cbor:"consent"`

	// Feature is opaque data supplied by the owning feature, for
	// example the session the batch was written in.
	Feature []byte `cbor:"feature,omitempty"`
}

func sidecarPath(batchPath string) string {
	return batchPath + sidecarSuffix
}

// writeSidecar atomically replaces the sidecar of batchPath. The
// temporary file is fsynced and renamed into place, then the
// directory is synced, so readers see either the old sidecar or the
// new one.
func writeSidecar(batchPath string, metadata BatchMetadata) error {
	data, err := codec.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling batch metadata: %w", err)
	}
	return writeFileAtomic(sidecarPath(batchPath), data)
}

// readSidecar returns the decoded sidecar for batchPath. A missing
// sidecar returns (nil, nil).
func readSidecar(batchPath string) (*BatchMetadata, error) {
	data, err := os.ReadFile(sidecarPath(batchPath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading batch metadata: %v", ErrStorageIO, err)
	}
	var metadata BatchMetadata
	if err := codec.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("%w: decoding batch metadata %s: %v", ErrCorruptBatch, filepath.Base(batchPath), err)
	}
	return &metadata, nil
}

func writeFileAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrStorageIO, filepath.Base(temporaryPath), err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("%w: writing %s: %v", ErrStorageIO, filepath.Base(temporaryPath), err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("%w: syncing %s: %v", ErrStorageIO, filepath.Base(temporaryPath), err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("%w: closing %s: %v", ErrStorageIO, filepath.Base(temporaryPath), err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("%w: renaming %s into place: %v", ErrStorageIO, filepath.Base(path), err)
	}
	syncDirectory(filepath.Dir(path))
	return nil
}

// syncDirectory makes renames and unlinks in directory durable.
// Failure is ignored: the data is already in place.
func syncDirectory(directory string) {
	handle, err := os.Open(directory)
	if err == nil {
		handle.Sync()
		handle.Close()
	}
}
