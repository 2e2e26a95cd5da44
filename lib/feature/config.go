// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"fmt"

	"github.com/bureau-foundation/spool/lib/event"
	"github.com/bureau-foundation/spool/lib/storage"
	"github.com/bureau-foundation/spool/lib/upload"
)

// Config describes one feature.
type Config struct {
	// Name is the directory and log name, e.g. "logs".
	Name string

	// NewFactory builds the request factory given the User-Agent.
	NewFactory func(userAgent string) upload.RequestFactory

	// FlushOnWrite closes the batch after every event and uses the
	// small write window. Crash reports use it so a report is on disk
	// in a closed batch before the process dies.
	FlushOnWrite bool

	// Mappers edit or drop records before they are persisted.
	Mappers event.Mappers

	// OnEventDropped is told about records a mapper dropped.
	OnEventDropped event.DropListener

	// MetadataProvider supplies the feature bytes stored with each
	// new batch.
	MetadataProvider func() []byte

	// OnBatchDropped is told about batches deleted without upload.
	OnBatchDropped storage.DropListener
}

// Logs returns the configuration of the logs feature.
func Logs() Config {
	return Config{
		Name: "logs",
		NewFactory: func(userAgent string) upload.RequestFactory {
			return upload.LogsRequestFactory(userAgent)
		},
	}
}

// RUM returns the configuration of the RUM feature.
func RUM(mappers event.Mappers, onDropped event.DropListener) Config {
	return Config{
		Name: "rum",
		NewFactory: func(userAgent string) upload.RequestFactory {
			return upload.RUMRequestFactory(userAgent)
		},
		Mappers:        mappers,
		OnEventDropped: onDropped,
	}
}

// Crash returns the configuration of the crash feature.
func Crash() Config {
	return Config{
		Name: "crash",
		NewFactory: func(userAgent string) upload.RequestFactory {
			return upload.CrashRequestFactory(userAgent)
		},
		FlushOnWrite: true,
	}
}

// Builtin returns the built-in configuration called name.
func Builtin(name string) (Config, error) {
	switch name {
	case "logs":
		return Logs(), nil
	case "rum":
		return RUM(event.Mappers{}, nil), nil
	case "crash":
		return Crash(), nil
	default:
		return Config{}, fmt.Errorf("feature: no built-in feature %q", name)
	}
}

// Route picks the built-in feature a record belongs to: logs go to
// logs, crashes to crash and everything else to rum.
func Route(record *event.Record) string {
	switch {
	case record.Kind == event.KindLog:
		return "logs"
	case record.Kind == event.KindError && record.IsCrash:
		return "crash"
	default:
		return "rum"
	}
}
