// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// maxBodySize bounds a decoded request body.
const maxBodySize = 64 << 20

// Request is one accepted upload.
type Request struct {
	Path      string
	RequestID string
	APIKey    string
	Events    [][]byte
}

// Stats counts what the handler has seen.
type Stats struct {
	Requests int
	Failed   int
	Events   int

	// EventsByPath counts accepted events per request path.
	EventsByPath map[string]int
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// FailStatus is returned for the first FailCount requests
	// instead of 202.
	FailStatus int
	FailCount  int

	Logger *slog.Logger
}

// Handler records uploads. It is safe for concurrent use.
type Handler struct {
	logger *slog.Logger

	mu         sync.Mutex
	failStatus int
	failLeft   int
	accepted   []Request
	stats      Stats
}

// NewHandler returns a Handler that accepts every well-formed request
// after the configured failures.
func NewHandler(config HandlerConfig) *Handler {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		logger:     config.Logger,
		failStatus: config.FailStatus,
		failLeft:   config.FailCount,
		stats:      Stats{EventsByPath: make(map[string]int)},
	}
}

// FailNext makes the next count requests answer with status.
func (h *Handler) FailNext(status, count int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failStatus = status
	h.failLeft = count
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.Lock()
	h.stats.Requests++
	if h.failLeft > 0 {
		h.failLeft--
		h.stats.Failed++
		status := h.failStatus
		h.mu.Unlock()
		h.logger.Info("failing request on purpose", "path", r.URL.Path, "status", status)
		w.WriteHeader(status)
		return
	}
	h.mu.Unlock()

	apiKey := r.Header.Get("DD-API-KEY")
	if apiKey == "" {
		h.reject(w, http.StatusForbidden, "missing DD-API-KEY")
		return
	}

	body, err := readBody(r)
	if err != nil {
		h.reject(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := splitEvents(body, r.Header.Get("Content-Type"))
	if err != nil {
		h.reject(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	h.accepted = append(h.accepted, Request{
		Path:      r.URL.Path,
		RequestID: r.Header.Get("DD-REQUEST-ID"),
		APIKey:    apiKey,
		Events:    events,
	})
	h.stats.Events += len(events)
	h.stats.EventsByPath[r.URL.Path] += len(events)
	h.mu.Unlock()

	h.logger.Info("accepted upload",
		"path", r.URL.Path,
		"events", len(events),
		"request_id", r.Header.Get("DD-REQUEST-ID"),
	)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) reject(w http.ResponseWriter, status int, reason string) {
	h.mu.Lock()
	h.stats.Failed++
	h.mu.Unlock()
	h.logger.Warn("rejected upload", "status", status, "reason", reason)
	http.Error(w, reason, status)
}

// Accepted returns a copy of every accepted request in arrival order.
func (h *Handler) Accepted() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Request(nil), h.accepted...)
}

// Events returns every accepted event in arrival order.
func (h *Handler) Events() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var events [][]byte
	for _, request := range h.accepted {
		events = append(events, request.Events...)
	}
	return events
}

// Stats returns a snapshot of the counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := h.stats
	stats.EventsByPath = make(map[string]int, len(h.stats.EventsByPath))
	for path, count := range h.stats.EventsByPath {
		stats.EventsByPath[path] = count
	}
	return stats
}

func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = r.Body
	switch encoding := r.Header.Get("Content-Encoding"); encoding {
	case "":
	case "gzip":
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodySize)
	}
	return body, nil
}

// splitEvents undoes the framing of lib/upload: JSON bodies are arrays
// of events, anything else is newline separated.
func splitEvents(body []byte, contentType string) ([][]byte, error) {
	if strings.HasPrefix(contentType, "application/json") {
		var raw []json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decoding JSON array: %w", err)
		}
		events := make([][]byte, len(raw))
		for i, event := range raw {
			events[i] = []byte(event)
		}
		return events, nil
	}

	var events [][]byte
	for _, line := range bytes.Split(body, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			events = append(events, line)
		}
	}
	return events, nil
}
