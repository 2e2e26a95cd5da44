// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Outcome is the terminal classification of one upload attempt.
type Outcome uint8

const (
	// Success: the intake accepted the batch.
	Success Outcome = iota
	// RetryableFailure: the batch should be kept and sent again.
	RetryableFailure
	// NonRetryableFailure: sending the batch again cannot succeed.
	NonRetryableFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable_failure"
	case NonRetryableFailure:
		return "non_retryable_failure"
	default:
		return fmt.Sprintf("unknown(%d)", o)
	}
}

// Status is the result of Uploader.Upload.
type Status struct {
	Outcome Outcome

	// Code is the HTTP status code, zero when no response arrived.
	Code int

	// Reason is a short snake_case label for logs and metrics.
	Reason string

	// Err is the transport or request construction error, if any.
	Err error
}

// Retryable reports whether the batch should be kept.
func (s Status) Retryable() bool { return s.Outcome == RetryableFailure }

func (s Status) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("%s (%s): %v", s.Outcome, s.Reason, s.Err)
	case s.Code != 0:
		return fmt.Sprintf("%s (%s, HTTP %d)", s.Outcome, s.Reason, s.Code)
	default:
		return fmt.Sprintf("%s (%s)", s.Outcome, s.Reason)
	}
}

// StatusFromCode classifies an HTTP response code. 408, 429 and 5xx
// are retryable; every other non-2xx code is not.
func StatusFromCode(code int) Status {
	status := Status{Code: code}
	switch {
	case code >= 200 && code < 300:
		status.Outcome, status.Reason = Success, "accepted"
	case code == http.StatusRequestTimeout:
		status.Outcome, status.Reason = RetryableFailure, "request_timeout"
	case code == http.StatusTooManyRequests:
		status.Outcome, status.Reason = RetryableFailure, "rate_limited"
	case code >= 500 && code < 600:
		status.Outcome, status.Reason = RetryableFailure, "server_error"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		status.Outcome, status.Reason = NonRetryableFailure, "invalid_token"
	case code == http.StatusRequestEntityTooLarge:
		status.Outcome, status.Reason = NonRetryableFailure, "payload_too_large"
	case code >= 400 && code < 500:
		status.Outcome, status.Reason = NonRetryableFailure, "client_error"
	case code >= 300 && code < 400:
		status.Outcome, status.Reason = NonRetryableFailure, "redirection"
	default:
		status.Outcome, status.Reason = NonRetryableFailure, "unknown_status"
	}
	return status
}

// StatusFromError classifies an error returned by the HTTP client.
// Such errors never mean the intake saw the batch, so all of them are
// retryable; Reason separates timeouts from network failures.
func StatusFromError(err error) Status {
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Status{Outcome: RetryableFailure, Reason: "timeout", Err: err}
	case errors.Is(err, context.Canceled):
		return Status{Outcome: RetryableFailure, Reason: "canceled", Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return Status{Outcome: RetryableFailure, Reason: "timeout", Err: err}
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return Status{Outcome: RetryableFailure, Reason: "network_error", Err: err}
	case errors.As(err, &netErr):
		return Status{Outcome: RetryableFailure, Reason: "network_error", Err: err}
	default:
		return Status{Outcome: RetryableFailure, Reason: "transport_error", Err: err}
	}
}

// requestCreationFailure is the status for a request that could not
// be built. Retrying would build the same broken request.
func requestCreationFailure(err error) Status {
	return Status{Outcome: NonRetryableFailure, Reason: "request_creation_error", Err: err}
}
