// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for spool binaries:
// reporting the error returned by run() before the structured logger
// exists or after it is gone, and choosing the exit code.
package process
