// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfoIncludesBuildVariables(t *testing.T) {
	info := Info()
	for _, want := range []string{Version, GitCommit, BuildTime} {
		if !strings.Contains(info, want) {
			t.Errorf("Info() = %q, missing %q", info, want)
		}
	}
	if !strings.Contains(Full(), runtime.Version()) {
		t.Errorf("Full() = %q, missing Go version", Full())
	}
}

func TestUserAgent(t *testing.T) {
	agent := UserAgent("checkout")
	if !strings.HasPrefix(agent, "spool/"+Version+" (") {
		t.Errorf("UserAgent() = %q", agent)
	}
	if !strings.HasSuffix(agent, ") checkout") {
		t.Errorf("UserAgent() = %q, want application suffix", agent)
	}
	if strings.HasSuffix(UserAgent(""), " ") {
		t.Error("UserAgent(\"\") has a trailing space")
	}
}
