// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the single CBOR configuration used for spool's
// on-disk control data.
//
// Event payloads are opaque bytes and never pass through this
// package. CBOR is used for the things spool itself owns: batch
// metadata sidecars and anything else the storage layer persists
// about a batch. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2), so the same metadata always produces the same
// bytes, and times are written as RFC 3339 text so that
// `spool inspect --diag` output is readable without a decoder.
//
// Struct tags follow one rule: `cbor` tags for types that are only
// ever CBOR, `json` tags for types that are also printed as JSON by
// the CLI (fxamacker/cbor falls back to json tags). Never both on one
// field.
package codec
