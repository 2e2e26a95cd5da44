// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "errors"

var (
	// ErrItemTooLarge is returned by Write for events larger than
	// MaxItemSize, or whose encoded record cannot fit in an empty
	// batch. The event is dropped; nothing on disk changes.
	ErrItemTooLarge = errors.New("storage: event exceeds maximum item size")

	// ErrConsentNotGranted is returned by Write while tracking consent
	// is not granted. The event is dropped.
	ErrConsentNotGranted = errors.New("storage: tracking consent not granted")

	// ErrStorageIO wraps filesystem failures on the write and read
	// paths.
	ErrStorageIO = errors.New("storage: i/o failure")

	// ErrCorruptBatch reports a batch file whose records fail framing
	// or digest checks.
	ErrCorruptBatch = errors.New("storage: corrupt batch file")

	// ErrNoDecryptionKey reports an encrypted record that the
	// configured identity cannot open, because no identity is
	// configured or the batch was written with another one. Such
	// batches are kept, not treated as corrupt.
	ErrNoDecryptionKey = errors.New("storage: no identity can decrypt the batch")

	// ErrClosed is returned by every Store method after Close.
	ErrClosed = errors.New("storage: store is closed")

	// ErrUnknownBatch is returned by Confirm for a handle that is not
	// checked out.
	ErrUnknownBatch = errors.New("storage: batch is not checked out")

	// ErrLocked is returned by Open when another process holds the
	// feature directory.
	ErrLocked = errors.New("storage: directory is locked by another process")
)
