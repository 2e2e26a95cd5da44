// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package internallog

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bureau-foundation/spool/lib/event"
)

// DefaultTelemetryLimit is the number of telemetry events one handler
// emits before going quiet.
const DefaultTelemetryLimit = 100

// Sink receives telemetry events captured from log records. It is
// called synchronously from the logging call and must not block.
type Sink func(*event.Record)

// telemetryState is shared by a handler and every handler derived
// from it with WithAttrs or WithGroup.
type telemetryState struct {
	sink  Sink
	limit int

	mu    sync.Mutex
	seen  map[string]bool
	count int
}

// TelemetryHandler converts warn and error log records into telemetry
// events.
type TelemetryHandler struct {
	state  *telemetryState
	attrs  []slog.Attr
	prefix string
}

// NewTelemetryHandler returns a handler feeding sink. limit <= 0
// means DefaultTelemetryLimit.
func NewTelemetryHandler(sink Sink, limit int) *TelemetryHandler {
	if limit <= 0 {
		limit = DefaultTelemetryLimit
	}
	return &TelemetryHandler{state: &telemetryState{
		sink:  sink,
		limit: limit,
		seen:  make(map[string]bool),
	}}
}

// Enabled implements slog.Handler.
func (h *TelemetryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn
}

// Handle implements slog.Handler.
func (h *TelemetryHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < slog.LevelWarn {
		return nil
	}

	attributes := make(map[string]any, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		addAttr(attributes, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		addAttr(attributes, h.prefix, attr)
		return true
	})

	state := h.state
	state.mu.Lock()
	if state.count >= state.limit || state.seen[record.Message] {
		state.mu.Unlock()
		return nil
	}
	state.seen[record.Message] = true
	state.count++
	state.mu.Unlock()

	kind, status := event.KindTelemetryDebug, "debug"
	if record.Level >= slog.LevelError {
		kind, status = event.KindTelemetryError, "error"
	}
	state.sink(&event.Record{
		Kind:       kind,
		Date:       record.Time,
		Status:     status,
		Message:    record.Message,
		Attributes: attributes,
	})
	return nil
}

// WithAttrs implements slog.Handler.
func (h *TelemetryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := *h
	derived.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	derived.attrs = append(derived.attrs, h.attrs...)
	for _, attr := range attrs {
		attr.Key = h.prefix + attr.Key
		derived.attrs = append(derived.attrs, attr)
	}
	return &derived
}

// WithGroup implements slog.Handler.
func (h *TelemetryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	derived := *h
	derived.prefix = h.prefix + name + "."
	return &derived
}

func addAttr(attributes map[string]any, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			addAttr(attributes, groupPrefix, member)
		}
		return
	}
	key := strings.TrimSpace(prefix + attr.Key)
	if key == "" {
		return
	}
	if err, ok := attr.Value.Any().(error); ok {
		attributes[key] = err.Error()
		return
	}
	attributes[key] = attr.Value.Any()
}
