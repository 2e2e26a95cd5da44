// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

package storage

import (
	"errors"
	"testing"
)

func TestSecondOpenIsLockedOut(t *testing.T) {
	root := t.TempDir()
	first, err := Open(Config{Root: root, Feature: "logs"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := Open(Config{Root: root, Feature: "logs"}); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open = %v, want ErrLocked", err)
	}

	other, err := Open(Config{Root: root, Feature: "rum"})
	if err != nil {
		t.Fatalf("Open of a different feature: %v", err)
	}
	other.Close()

	first.Close()
	reopened, err := Open(Config{Root: root, Feature: "logs"})
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	reopened.Close()
}
