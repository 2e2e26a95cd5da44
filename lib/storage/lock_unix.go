// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const lockFileName = ".lock"

// directoryLock is an exclusive advisory lock on a feature directory.
// The kernel releases it when the process exits, so a crashed writer
// never leaves the directory locked.
type directoryLock struct {
	file *os.File
}

func acquireLock(directory string) (*directoryLock, error) {
	path := filepath.Join(directory, lockFileName)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrStorageIO, path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, directory)
		}
		return nil, fmt.Errorf("%w: locking %s: %v", ErrStorageIO, path, err)
	}
	return &directoryLock{file: file}, nil
}

func (l *directoryLock) release() {
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
}
