// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bureau-foundation/spool/lib/testutil"
	"github.com/bureau-foundation/spool/lib/upload"
)

func newTestIntake(t *testing.T, config HandlerConfig) (*Handler, upload.RequestContext, *http.Client) {
	t.Helper()
	handler := NewHandler(config)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return handler, upload.RequestContext{
		Site:        server.URL,
		ClientToken: "pub-test",
		Service:     "checkout",
		SDKVersion:  "0.1.0",
	}, server.Client()
}

func batchOf(events ...string) [][]byte {
	batch := make([][]byte, len(events))
	for i, event := range events {
		batch[i] = []byte(event)
	}
	return batch
}

func TestHandlerSplitsLogsArray(t *testing.T) {
	handler, requestContext, client := newTestIntake(t, HandlerConfig{})
	uploader, err := upload.NewHTTPUploader(client, upload.LogsRequestFactory("spool-test"), nil)
	if err != nil {
		t.Fatalf("NewHTTPUploader: %v", err)
	}

	status := uploader.Upload(context.Background(), requestContext, batchOf(`{"a":1}`, `{"b":2}`), nil)
	if status.Outcome != upload.Success {
		t.Fatalf("upload status = %s", status)
	}

	events := handler.Events()
	if len(events) != 2 || string(events[0]) != `{"a":1}` || string(events[1]) != `{"b":2}` {
		t.Errorf("events = %q", events)
	}
	accepted := handler.Accepted()
	if len(accepted) != 1 {
		t.Fatalf("accepted %d requests, want 1", len(accepted))
	}
	if accepted[0].APIKey != "pub-test" || accepted[0].RequestID == "" {
		t.Errorf("request headers not recorded: %+v", accepted[0])
	}
}

func TestHandlerSplitsRUMLines(t *testing.T) {
	handler, requestContext, client := newTestIntake(t, HandlerConfig{})
	uploader, err := upload.NewHTTPUploader(client, upload.RUMRequestFactory("spool-test"), nil)
	if err != nil {
		t.Fatalf("NewHTTPUploader: %v", err)
	}

	status := uploader.Upload(context.Background(), requestContext, batchOf(`{"type":"view"}`, `{"type":"action"}`, `{"type":"error"}`), nil)
	if status.Outcome != upload.Success {
		t.Fatalf("upload status = %s", status)
	}

	stats := handler.Stats()
	if stats.Requests != 1 || stats.Events != 3 {
		t.Errorf("stats = %+v, want 1 request with 3 events", stats)
	}
	if len(stats.EventsByPath) != 1 {
		t.Errorf("events by path = %v", stats.EventsByPath)
	}
}

func TestHandlerFailsFirstRequests(t *testing.T) {
	handler, requestContext, client := newTestIntake(t, HandlerConfig{
		FailStatus: http.StatusServiceUnavailable,
		FailCount:  2,
	})
	uploader, err := upload.NewHTTPUploader(client, upload.LogsRequestFactory("spool-test"), nil)
	if err != nil {
		t.Fatalf("NewHTTPUploader: %v", err)
	}

	want := []upload.Outcome{upload.RetryableFailure, upload.RetryableFailure, upload.Success}
	for i, outcome := range want {
		event := fmt.Sprintf(`{"id":%q}`, testutil.UniqueID("event"))
		status := uploader.Upload(context.Background(), requestContext, batchOf(event), nil)
		if status.Outcome != outcome {
			t.Errorf("attempt %d: outcome = %s, want %s", i, status.Outcome, outcome)
		}
	}
	stats := handler.Stats()
	if stats.Requests != 3 || stats.Failed != 2 || stats.Events != 1 {
		t.Errorf("stats = %+v", stats)
	}

	handler.FailNext(http.StatusBadRequest, 1)
	status := uploader.Upload(context.Background(), requestContext, batchOf(`{"n":2}`), nil)
	if status.Outcome != upload.NonRetryableFailure {
		t.Errorf("outcome after FailNext = %s, want non-retryable", status.Outcome)
	}
}

func TestHandlerRequiresAPIKey(t *testing.T) {
	handler := NewHandler(HandlerConfig{})
	request := httptest.NewRequest(http.MethodPost, "/api/v2/logs", bytes.NewReader([]byte(`[]`)))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", recorder.Code)
	}
	if len(handler.Accepted()) != 0 {
		t.Error("request without API key was accepted")
	}
}

func TestHandlerRejectsMalformedBodies(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		encoding    string
		body        string
		wantStatus  int
	}{
		{"bad json", "application/json", "", `[{"a":`, http.StatusBadRequest},
		{"bad gzip", "text/plain", "gzip", "not gzip", http.StatusBadRequest},
		{"unknown encoding", "text/plain", "br", "x", http.StatusBadRequest},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			handler := NewHandler(HandlerConfig{})
			request := httptest.NewRequest(http.MethodPost, "/api/v2/rum", bytes.NewReader([]byte(test.body)))
			request.Header.Set("DD-API-KEY", "pub-test")
			request.Header.Set("Content-Type", test.contentType)
			if test.encoding != "" {
				request.Header.Set("Content-Encoding", test.encoding)
			}
			recorder := httptest.NewRecorder()

			handler.ServeHTTP(recorder, request)

			if recorder.Code != test.wantStatus {
				t.Errorf("status = %d, want %d", recorder.Code, test.wantStatus)
			}
		})
	}
}

func TestHandlerRejectsGet(t *testing.T) {
	handler := NewHandler(HandlerConfig{})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", recorder.Code)
	}
}
