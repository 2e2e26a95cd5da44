// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for spool packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never block forever on a channel; they are the only
// place tests use real wall-clock timeouts. Everything else in the
// pipeline is driven by a fake clock.
//
// [UniqueID] generates distinct payloads for tests that need to tell
// events apart after they round-trip through a batch file.
//
// [ListDir] returns the sorted names in a directory, for asserting the
// on-disk batch layout.
//
// All helpers call t.Fatalf on failure.
package testutil
