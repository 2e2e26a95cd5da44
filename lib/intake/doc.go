// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package intake implements a local stand-in for the telemetry intake.
//
// [Handler] accepts the requests produced by lib/upload: it checks the
// DD-API-KEY header, gunzips bodies, splits them into events using the
// framing implied by the content type (a JSON array for logs, one
// event per line otherwise) and records what arrived per path. It can
// be told to answer the first N requests with a failure status so that
// retry behavior can be exercised end to end.
//
// [Server] wraps a handler in a TCP listener with graceful shutdown.
// cmd/spool-intake-mock runs one; tests use Handler directly with
// net/http/httptest.
package intake
