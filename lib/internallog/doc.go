// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package internallog builds the SDK's own logger.
//
// Records go to a maintainer handler (text or JSON on a writer,
// usually stderr), optionally to the systemd journal, and, at warn
// level and above, to a telemetry handler that turns them into
// [event.KindTelemetryError] and [event.KindTelemetryDebug] records
// for the SDK's own telemetry feed. The telemetry handler drops
// repeated messages and stops after a fixed number of events so that
// a failure inside the telemetry path cannot feed itself.
package internallog
