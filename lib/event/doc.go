// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the telemetry records the SDK persists and
// the user-supplied mapping step that may rewrite or drop them before
// they reach storage.
//
// A [Record] is a tagged union: [Kind] says which of the optional
// fields are meaningful. A [Mapper] holds at most one [MapFunc] per
// kind. Mapping functions edit the record in place and return it, or
// return nil to drop it. Returning any other record drops the event
// too, except for views, which can never be dropped.
package event
