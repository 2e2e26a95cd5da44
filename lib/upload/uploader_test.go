// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// intake is an httptest handler that answers with a fixed status and
// records what it received.
type intake struct {
	mu       sync.Mutex
	status   int
	bodies   [][]byte
	requests []*http.Request
}

func (i *intake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	i.mu.Lock()
	i.bodies = append(i.bodies, body)
	i.requests = append(i.requests, r)
	status := i.status
	i.mu.Unlock()
	w.WriteHeader(status)
}

func (i *intake) received() ([][]byte, []*http.Request) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([][]byte(nil), i.bodies...), append([]*http.Request(nil), i.requests...)
}

func newTestUploader(t *testing.T, status int) (*HTTPUploader, *intake, RequestContext) {
	t.Helper()
	handler := &intake{status: status}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	uploader, err := NewHTTPUploader(server.Client(), LogsRequestFactory("spool-test"), nil)
	if err != nil {
		t.Fatalf("NewHTTPUploader: %v", err)
	}
	requestContext := testRequestContext()
	requestContext.Site = server.URL
	return uploader, handler, requestContext
}

func TestHTTPUploaderClassifiesResponses(t *testing.T) {
	tests := []struct {
		code int
		want Outcome
	}{
		{http.StatusAccepted, Success},
		{http.StatusServiceUnavailable, RetryableFailure},
		{http.StatusTooManyRequests, RetryableFailure},
		{http.StatusBadRequest, NonRetryableFailure},
		{http.StatusForbidden, NonRetryableFailure},
	}
	for _, test := range tests {
		t.Run(http.StatusText(test.code), func(t *testing.T) {
			uploader, handler, requestContext := newTestUploader(t, test.code)
			status := uploader.Upload(context.Background(), requestContext, [][]byte{[]byte(`{}`)}, nil)
			if status.Outcome != test.want {
				t.Errorf("outcome = %v, want %v", status.Outcome, test.want)
			}
			if status.Code != test.code {
				t.Errorf("code = %d, want %d", status.Code, test.code)
			}
			if bodies, _ := handler.received(); len(bodies) != 1 {
				t.Errorf("intake saw %d requests, want exactly 1 (no internal retry)", len(bodies))
			}
		})
	}
}

func TestHTTPUploaderSendsHeadersAndGzipBody(t *testing.T) {
	uploader, handler, requestContext := newTestUploader(t, http.StatusOK)
	status := uploader.Upload(context.Background(), requestContext, [][]byte{[]byte(`{"n":1}`), []byte(`{"n":2}`)}, nil)
	if status.Outcome != Success {
		t.Fatalf("Upload = %v", status)
	}

	bodies, requests := handler.received()
	request := requests[0]
	if request.Method != http.MethodPost {
		t.Errorf("method = %s", request.Method)
	}
	if request.Header.Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q", request.Header.Get("Content-Encoding"))
	}
	if request.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", request.Header.Get("Content-Type"))
	}
	if request.Header.Get(HeaderAPIKey) != "pub-token" {
		t.Errorf("%s = %q", HeaderAPIKey, request.Header.Get(HeaderAPIKey))
	}
	if request.Header.Get("User-Agent") != "spool-test" {
		t.Errorf("User-Agent = %q", request.Header.Get("User-Agent"))
	}
	if body := string(gunzip(t, bodies[0])); body != `[{"n":1},{"n":2}]` {
		t.Errorf("body = %s", body)
	}
}

func TestHTTPUploaderConnectionFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	site := server.URL
	server.Close()

	uploader, err := NewHTTPUploader(nil, LogsRequestFactory("ua"), nil)
	if err != nil {
		t.Fatal(err)
	}
	requestContext := testRequestContext()
	requestContext.Site = site
	status := uploader.Upload(context.Background(), requestContext, [][]byte{[]byte("{}")}, nil)
	if status.Outcome != RetryableFailure {
		t.Fatalf("outcome = %v (%v), want retryable", status.Outcome, status.Err)
	}
}

func TestHTTPUploaderBadRequestContextIsNotRetryable(t *testing.T) {
	uploader, _, requestContext := newTestUploader(t, http.StatusOK)
	requestContext.ClientToken = ""
	status := uploader.Upload(context.Background(), requestContext, [][]byte{[]byte("{}")}, nil)
	if status.Outcome != NonRetryableFailure || status.Reason != "request_creation_error" {
		t.Fatalf("status = %v, want request_creation_error", status)
	}
}
