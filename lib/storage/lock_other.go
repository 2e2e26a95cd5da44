// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux || darwin)

package storage

const lockFileName = ".lock"

// directoryLock is a no-op where flock is unavailable.
type directoryLock struct{}

func acquireLock(string) (*directoryLock, error) { return &directoryLock{}, nil }

func (*directoryLock) release() {}
