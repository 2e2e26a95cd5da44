// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload ships closed batches to the intake and decides, from
// the response, whether each batch is deleted or kept for another
// attempt.
//
// An [Uploader] performs one HTTP request per batch and reports a
// [Status]; it never retries and never touches storage. The
// [Scheduler] owns the loop: each tick checks out at most one batch,
// uploads it, confirms the outcome with the store, and adjusts the
// delay until the next tick. Success and permanent rejection shorten
// the delay, retryable failures double it, and an empty store
// lengthens it slightly.
package upload
