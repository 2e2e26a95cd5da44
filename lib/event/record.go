// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Kind discriminates Record.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLog
	KindView
	KindAction
	KindResource
	KindError
	KindLongTask
	KindTelemetryDebug
	KindTelemetryError
	KindTelemetryConfiguration
)

var kindNames = map[Kind]string{
	KindLog:                    "log",
	KindView:                   "view",
	KindAction:                 "action",
	KindResource:               "resource",
	KindError:                  "error",
	KindLongTask:               "long_task",
	KindTelemetryDebug:         "telemetry_debug",
	KindTelemetryError:         "telemetry_error",
	KindTelemetryConfiguration: "telemetry_configuration",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", k)
}

// ParseKind returns the Kind named name. Unrecognized names return
// KindUnknown, which the mapper passes through with a warning.
func ParseKind(name string) Kind {
	name = strings.ToLower(name)
	for kind, candidate := range kindNames {
		if candidate == name {
			return kind
		}
	}
	return KindUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	*k = ParseKind(string(text))
	return nil
}

// Record is one telemetry event. Fields that do not apply to Kind are
// left zero and omitted from the encoding.
type Record struct {
	Kind    Kind      `json:"type"`
	Date    time.Time `json:"-"`
	Service string    `json:"service,omitempty"`
	Message string    `json:"message,omitempty"`

	// Status is the log level for logs ("debug", "info", "warn",
	// "error") and the status for telemetry events.
	Status string `json:"status,omitempty"`

	// ViewID links RUM events to the view they happened in.
	ViewID string `json:"view_id,omitempty"`

	// Name is the view name, action target or resource URL.
	Name string `json:"name,omitempty"`

	// IsCrash marks errors that terminated the process.
	IsCrash bool `json:"is_crash,omitempty"`

	// IsFrozenFrame marks long tasks that froze the UI.
	IsFrozenFrame bool `json:"is_frozen_frame,omitempty"`

	// Frustrations lists frustration signals on an action.
	Frustrations []string `json:"frustrations,omitempty"`

	// Duration of views, resources and long tasks.
	Duration time.Duration `json:"-"`

	Attributes map[string]any `json:"attributes,omitempty"`
}

// wireRecord adds the fields whose encoding differs from the Go type.
type wireRecord struct {
	*recordAlias
	DateMillis    int64 `json:"date"`
	DurationNanos int64 `json:"duration,omitempty"`
}

type recordAlias Record

// Encode serializes the record as one line of JSON.
func (r *Record) Encode() ([]byte, error) {
	data, err := json.Marshal(wireRecord{
		recordAlias:   (*recordAlias)(r),
		DateMillis:    r.Date.UnixMilli(),
		DurationNanos: int64(r.Duration),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", r.Kind, err)
	}
	return data, nil
}

// Decode parses a record produced by Encode, or a hand-written line
// with the same field names.
func Decode(data []byte) (*Record, error) {
	wire := wireRecord{recordAlias: &recordAlias{}}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	record := (*Record)(wire.recordAlias)
	if wire.DateMillis != 0 {
		record.Date = time.UnixMilli(wire.DateMillis)
	}
	record.Duration = time.Duration(wire.DurationNanos)
	return record, nil
}

// Clone returns a copy that shares no maps or slices with r.
func (r *Record) Clone() *Record {
	clone := *r
	clone.Attributes = maps.Clone(r.Attributes)
	clone.Frustrations = append([]string(nil), r.Frustrations...)
	return &clone
}
