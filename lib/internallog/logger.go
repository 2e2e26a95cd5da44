// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package internallog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Options configures New.
type Options struct {
	// Level is the minimum level for the maintainer and journal
	// handlers. Defaults to info.
	Level slog.Leveler

	// Format is "text" (default) or "json".
	Format string

	// Writer receives maintainer output. Defaults to stderr.
	Writer io.Writer

	// Journal also sends records to the systemd journal when the
	// journal socket is available.
	Journal bool

	// Telemetry receives warn and error records as telemetry events.
	Telemetry Sink

	// TelemetryLimit caps the number of telemetry events. Zero means
	// DefaultTelemetryLimit.
	TelemetryLimit int
}

// ParseLevel converts "debug", "info", "warn" or "error".
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// New builds the fan-out logger described by options.
func New(options Options) (*slog.Logger, error) {
	if options.Level == nil {
		options.Level = slog.LevelInfo
	}
	if options.Writer == nil {
		options.Writer = os.Stderr
	}

	handlerOptions := &slog.HandlerOptions{Level: options.Level}
	var maintainer slog.Handler
	switch strings.ToLower(options.Format) {
	case "", "text":
		maintainer = slog.NewTextHandler(options.Writer, handlerOptions)
	case "json":
		maintainer = slog.NewJSONHandler(options.Writer, handlerOptions)
	default:
		return nil, fmt.Errorf("unknown log format %q", options.Format)
	}
	handlers := []slog.Handler{maintainer}

	if options.Journal {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: options.Level,
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			slog.New(maintainer).Warn("systemd journal unavailable", "error", err)
		} else {
			handlers = append(handlers, journal)
		}
	}

	if options.Telemetry != nil {
		handlers = append(handlers, NewTelemetryHandler(options.Telemetry, options.TelemetryLimit))
	}

	if len(handlers) == 1 {
		return slog.New(maintainer), nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// toJournalKey maps an attribute key to the journal field alphabet
// (upper case letters, digits and underscores).
func toJournalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}
