// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spool/lib/config"
	"github.com/bureau-foundation/spool/lib/consent"
	"github.com/bureau-foundation/spool/lib/event"
	"github.com/bureau-foundation/spool/lib/feature"
	"github.com/bureau-foundation/spool/lib/internallog"
	"github.com/bureau-foundation/spool/lib/storage"
	"github.com/bureau-foundation/spool/lib/upload"
)

func runCommand(ctx context.Context, args []string, std streams) error {
	var configPath string
	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flagSet.SetOutput(std.stderr)
	flagSet.StringVar(&configPath, "config", "", "path to spool.yaml (default: $SPOOL_CONFIG)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError("run", err)
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("run: unexpected argument %q", flagSet.Arg(0))
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	var relay feature.TelemetryRelay
	level, err := internallog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	logOptions := internallog.Options{
		Level:   level,
		Format:  cfg.Log.Format,
		Writer:  std.stderr,
		Journal: cfg.Log.Journal,
	}
	if cfg.Log.Telemetry {
		logOptions.Telemetry = relay.Sink
	}
	logger, err := internallog.New(logOptions)
	if err != nil {
		return err
	}

	coreConfig, err := coreConfigFrom(cfg, logger)
	if err != nil {
		return err
	}
	core, err := feature.New(coreConfig)
	if err != nil {
		return err
	}
	for _, name := range cfg.Features {
		builtin, err := feature.Builtin(name)
		if err != nil {
			core.Stop()
			return err
		}
		registered, err := core.Register(builtin)
		if err != nil {
			core.Stop()
			return err
		}
		if name == "rum" {
			relay.Attach(registered)
		}
	}

	lines, readErr := readRecords(ctx, std, int(cfg.Storage.MaxItemSize))
	var accepted, skipped int
read:
	for {
		var record *event.Record
		select {
		case next, ok := <-lines:
			if !ok {
				break read
			}
			record = next
		case <-ctx.Done():
			break read
		}

		route := feature.Route(record)
		target := core.Feature(route)
		if target == nil {
			skipped++
			logger.Warn("no feature registered for record", "kind", record.Kind.String(), "feature", route)
			continue
		}
		if err := target.Write(ctx, record); err != nil {
			if ctx.Err() != nil {
				break read
			}
			logger.Error("queueing record failed", "feature", target.Name(), "error", err)
			continue
		}
		accepted++
	}
	relay.Attach(nil)

	if ctx.Err() != nil {
		logger.Info("interrupted, stopping")
	}
	stopErr := core.Stop()
	for _, name := range core.Features() {
		stats := core.Feature(name).Stats()
		logger.Info("feature summary",
			"feature", name,
			"written", stats.Written,
			"pending", stats.Pending,
			"dropped", stats.Dropped,
			"mapped_out", stats.Mapped,
			"failed", stats.Failed,
			"uploads", stats.Upload.Successes,
			"upload_failures", stats.Upload.RetryableFailures+stats.Upload.NonRetryableFailures,
		)
	}
	logger.Info("run finished", "records", accepted, "skipped", skipped)

	// An interrupted run may leave the reader blocked on stdin.
	var inputErr error
	if ctx.Err() == nil {
		inputErr = <-readErr
	}
	return errors.Join(inputErr, stopErr)
}

// readRecords decodes one record per stdin line on a separate
// goroutine, so a blocked read does not delay shutdown. Malformed
// lines are reported and skipped. The error channel yields the read
// error, if any, after lines is closed.
func readRecords(ctx context.Context, std streams, maxLine int) (<-chan *event.Record, <-chan error) {
	records := make(chan *event.Record)
	readErr := make(chan error, 1)
	go func() {
		defer close(records)
		scanner := bufio.NewScanner(std.stdin)
		scanner.Buffer(make([]byte, 64*1024), maxLine+1024)
		line := 0
		for scanner.Scan() {
			line++
			if len(scanner.Bytes()) == 0 {
				continue
			}
			record, err := event.Decode(scanner.Bytes())
			if err != nil {
				fmt.Fprintf(std.stderr, "line %d: %v\n", line, err)
				continue
			}
			if record.Date.IsZero() {
				record.Date = time.Now()
			}
			select {
			case records <- record:
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- fmt.Errorf("reading stdin: %w", err)
			return
		}
		readErr <- nil
	}()
	return records, readErr
}

// coreConfigFrom converts a validated configuration.
func coreConfigFrom(cfg *config.Config, logger *slog.Logger) (feature.CoreConfig, error) {
	state, _ := consent.Parse(cfg.Consent)
	batchSize, _ := storage.ParseBatchSize(cfg.Storage.BatchSize)
	compression, _ := storage.ParseCompressionTag(cfg.Storage.Compression)
	frequency, _ := upload.ParseFrequency(cfg.Upload.Frequency)
	identity, err := cfg.EncryptionIdentity()
	if err != nil {
		return feature.CoreConfig{}, err
	}

	return feature.CoreConfig{
		Root:    cfg.Paths.Root,
		Consent: state,
		Intake: upload.RequestContext{
			Site:          cfg.Intake.Site,
			ClientToken:   cfg.Intake.ClientToken,
			Service:       cfg.Intake.Service,
			Env:           cfg.Intake.Env,
			Version:       cfg.Intake.Version,
			Source:        cfg.Intake.Source,
			ApplicationID: cfg.Intake.ApplicationID,
			Attributes:    cfg.Intake.Attributes,
		},
		Storage: storage.Config{
			MaxItemSize:        int64(cfg.Storage.MaxItemSize),
			MaxItemsPerBatch:   cfg.Storage.MaxItemsPerBatch,
			MaxBatchSize:       int64(cfg.Storage.MaxBatchSize),
			OldBatchThreshold:  time.Duration(cfg.Storage.OldBatchThreshold),
			BatchSize:          batchSize,
			MaxDiskSpace:       int64(cfg.Storage.MaxDiskSpace),
			MaxPendingSize:     int64(cfg.Storage.MaxPendingSize),
			Compression:        compression,
			EncryptionIdentity: identity,
		},
		Frequency:       frequency,
		UploadTimeout:   time.Duration(cfg.Upload.Timeout),
		ShutdownTimeout: time.Duration(cfg.Upload.ShutdownTimeout),
		Logger:          logger,
	}, nil
}
