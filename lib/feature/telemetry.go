// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"sync/atomic"

	"github.com/bureau-foundation/spool/lib/event"
)

// TelemetryRelay forwards internal telemetry records to a feature
// attached after the logger was built. Records that arrive while no
// feature is attached, or while its queue is full, are discarded.
type TelemetryRelay struct {
	target    atomic.Pointer[Feature]
	discarded atomic.Int64
}

// Attach sets the feature that receives telemetry. nil detaches.
func (r *TelemetryRelay) Attach(feature *Feature) {
	r.target.Store(feature)
}

// Sink has the signature of internallog.Sink.
func (r *TelemetryRelay) Sink(record *event.Record) {
	feature := r.target.Load()
	if feature == nil || feature.TryWrite(record) != nil {
		r.discarded.Add(1)
	}
}

// Discarded returns how many records could not be forwarded.
func (r *TelemetryRelay) Discarded() int64 {
	return r.discarded.Load()
}
