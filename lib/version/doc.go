// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for spool
// binaries and the SDK identity sent with every upload.
//
// Three package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// [Info] formats them for --version output. [UserAgent] builds the
// User-Agent header and [SDKVersion] the DD-EVP-ORIGIN-VERSION header.
package version
