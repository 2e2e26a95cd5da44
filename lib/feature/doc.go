// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package feature ties storage, upload and consent together into the
// unit an application talks to.
//
// A [Core] is created once per process with [New] and torn down with
// [Core.Stop]. It owns the consent gate, the HTTP client and the
// request context shared by every feature. [Core.Register] turns a
// [Config] into a running [Feature]: a batch store under
// <root>/<name>-v1, an HTTP uploader, a scheduler and a persistence
// goroutine.
//
// [Feature.Write] maps a record, encodes it and hands the bytes to the
// persistence goroutine through a bounded queue, so callers never wait
// on disk I/O. Flush and ClearAllData travel through the same queue
// and therefore apply after every write that preceded them.
//
// Three configurations are built in: [Logs], [RUM] and [Crash].
package feature
