// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestStatusFromCode(t *testing.T) {
	tests := []struct {
		code int
		want Outcome
	}{
		{200, Success},
		{202, Success},
		{204, Success},
		{301, NonRetryableFailure},
		{400, NonRetryableFailure},
		{401, NonRetryableFailure},
		{403, NonRetryableFailure},
		{404, NonRetryableFailure},
		{408, RetryableFailure},
		{413, NonRetryableFailure},
		{429, RetryableFailure},
		{500, RetryableFailure},
		{503, RetryableFailure},
		{599, RetryableFailure},
		{100, NonRetryableFailure},
	}
	for _, test := range tests {
		if got := StatusFromCode(test.code); got.Outcome != test.want {
			t.Errorf("StatusFromCode(%d) = %v, want %v", test.code, got.Outcome, test.want)
		}
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"net timeout", timeoutError{}, "timeout"},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, "network_error"},
		{"dns", &net.DNSError{Err: "no such host", Name: "intake.invalid"}, "network_error"},
		{"other", errors.New("unexpected EOF"), "transport_error"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status := StatusFromError(test.err)
			if status.Outcome != RetryableFailure {
				t.Errorf("outcome = %v, want retryable", status.Outcome)
			}
			if status.Reason != test.reason {
				t.Errorf("reason = %q, want %q", status.Reason, test.reason)
			}
		})
	}
}
