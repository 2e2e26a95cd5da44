// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage is the durable half of the telemetry pipeline: it
// appends serialized events to batch files, decides when a batch is
// closed, and hands closed batches to the uploader in creation order.
//
// # On-disk layout
//
// Each feature owns two directories under the storage root:
//
//	<root>/<feature>-v1/           events written while consent is granted
//	<root>/<feature>-pending-v1/   events written while consent is pending
//
// A batch is one file named by its creation time in decimal Unix
// milliseconds. Names are strictly increasing within a directory, so
// lexical order on equal-length names is creation order. When a batch
// closes, a CBOR sidecar named "<batch>_metadata" is written next to
// it with [BatchMetadata].
//
// # Record framing
//
// A batch file is a sequence of records:
//
//	type u16 | length u32 | payload[length] | digest[8]
//
// The digest is the first eight bytes of a BLAKE3 keyed hash over the
// header and payload. A process that dies mid-append leaves at most
// one truncated record at the tail; the reader keeps everything before
// it. A digest mismatch ends the readable prefix in the same way. A
// batch with no readable record is deleted rather than retried.
//
// # Batch lifecycle
//
// The [Store] keeps at most one open batch per directory. The open
// batch is closed, and a new one started, when the next event would
// exceed MaxItemsPerBatch or MaxBatchSize, when the batch is older
// than its write window, or when [Store.Flush] is called. Closed
// batches are immutable. [Store.NextBatch] checks out the oldest
// closed batch; [Store.Confirm] either deletes it or releases it for
// the next attempt. Batches older than OldBatchThreshold are deleted
// unread whenever batches are listed.
//
// # Consent
//
// The store follows a [consent.Gate]. Writes are dropped while consent
// is not granted and go to the pending directory while it is pending.
// When pending becomes granted the pending batches are moved, oldest
// first, into the granted directory; when it becomes not granted they
// are deleted.
package storage
