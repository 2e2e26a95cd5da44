// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"log/slog"
)

// MapFunc rewrites a record in place and returns it, or returns nil
// to drop it.
type MapFunc func(*Record) *Record

// Mappers holds the optional per-kind mapping functions. Nil entries
// keep events unchanged.
type Mappers struct {
	Log                    MapFunc
	View                   MapFunc
	Action                 MapFunc
	Resource               MapFunc
	Error                  MapFunc
	LongTask               MapFunc
	TelemetryConfiguration MapFunc
}

// Dropped describes an event removed by a mapper, for the view that
// counts it.
type Dropped struct {
	Kind             Kind
	FrustrationCount int
	FrozenFrame      bool
}

// DropListener is told about every event a mapper dropped.
type DropListener func(viewID string, dropped Dropped)

// Mapper applies Mappers to records.
type Mapper struct {
	mappers Mappers
	onDrop  DropListener
	logger  *slog.Logger
}

// NewMapper returns a Mapper. onDrop may be nil.
func NewMapper(mappers Mappers, onDrop DropListener, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Mapper{mappers: mappers, onDrop: onDrop, logger: logger}
}

// Map returns the record to persist, or nil when the event was
// dropped.
//
// Crash errors skip the error mapper. Telemetry debug and error
// events are never mapped. Views are never dropped: if the view
// mapper returns nil or a different record, the original is kept. For
// every other kind a nil result, or a record other than the one
// passed in, drops the event and notifies the drop listener.
func (m *Mapper) Map(record *Record) *Record {
	mapped := m.apply(record)

	switch {
	case record.Kind == KindView && mapped != record:
		m.logger.Error("view mapper did not return the original view; keeping it",
			"view_id", record.ViewID, "returned_nil", mapped == nil)
		return record
	case mapped == nil:
		m.logger.Info("event dropped by mapper", "kind", record.Kind.String(), "view_id", record.ViewID)
	case mapped != record:
		m.logger.Warn("mapper returned a different record; dropping event",
			"kind", record.Kind.String(), "view_id", record.ViewID)
	default:
		return record
	}

	m.notifyDropped(record)
	return nil
}

func (m *Mapper) apply(record *Record) *Record {
	switch record.Kind {
	case KindLog:
		return call(m.mappers.Log, record)
	case KindView:
		return call(m.mappers.View, record)
	case KindAction:
		return call(m.mappers.Action, record)
	case KindResource:
		return call(m.mappers.Resource, record)
	case KindError:
		if record.IsCrash {
			return record
		}
		return call(m.mappers.Error, record)
	case KindLongTask:
		return call(m.mappers.LongTask, record)
	case KindTelemetryConfiguration:
		return call(m.mappers.TelemetryConfiguration, record)
	case KindTelemetryDebug, KindTelemetryError:
		return record
	default:
		m.logger.Warn("no mapper assigned for event kind", "kind", record.Kind.String())
		return record
	}
}

func call(mapper MapFunc, record *Record) *Record {
	if mapper == nil {
		return record
	}
	return mapper(record)
}

func (m *Mapper) notifyDropped(record *Record) {
	if m.onDrop == nil {
		return
	}
	switch record.Kind {
	case KindAction:
		m.onDrop(record.ViewID, Dropped{Kind: KindAction, FrustrationCount: len(record.Frustrations)})
	case KindResource, KindError:
		m.onDrop(record.ViewID, Dropped{Kind: record.Kind})
	case KindLongTask:
		m.onDrop(record.ViewID, Dropped{Kind: KindLongTask, FrozenFrame: record.IsFrozenFrame})
	}
}
