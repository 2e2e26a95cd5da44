// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/spool/lib/consent"
	"github.com/bureau-foundation/spool/lib/event"
	"github.com/bureau-foundation/spool/lib/storage"
	"github.com/bureau-foundation/spool/lib/upload"
	"github.com/bureau-foundation/spool/lib/version"
)

// Stats counts what a feature has done since it was registered.
type Stats struct {
	// Mapped counts records dropped by a mapper.
	Mapped int64
	// Written counts events persisted in the granted area.
	Written int64
	// Pending counts events persisted in the pending area.
	Pending int64
	// Dropped counts events refused by the store: too large, or
	// consent not granted.
	Dropped int64
	// Failed counts events lost to storage errors.
	Failed int64

	Upload upload.Stats
}

// operation is one entry in the persistence queue. Exactly one of
// data and control is set.
type operation struct {
	data    []byte
	control func() error
	done    chan error
}

// Feature is a registered feature.
type Feature struct {
	name            string
	store           *storage.Store
	scheduler       *upload.Scheduler
	mapper          *event.Mapper
	flushOnWrite    bool
	shutdownTimeout time.Duration
	logger          *slog.Logger
	unsubscribe     func()

	// queue feeds the persistence goroutine. Senders hold mu for
	// reading so that Stop, which takes it for writing, knows no
	// send is in flight once it holds the lock.
	queue         chan operation
	mu            sync.RWMutex
	stopped       bool
	stopping      chan struct{}
	persisterDone chan struct{}
	stopOnce      sync.Once
	stopErr       error

	mapped, written, pending, dropped, failed atomic.Int64
}

func newFeature(core *Core, config Config) (*Feature, error) {
	logger := core.logger.With("feature", config.Name)

	storeConfig := core.config.Storage
	storeConfig.Root = core.config.Root
	storeConfig.Feature = config.Name
	storeConfig.Consent = core.gate.Get()
	storeConfig.MetadataProvider = config.MetadataProvider
	storeConfig.OnDrop = config.OnBatchDropped
	storeConfig.Clock = core.clock
	storeConfig.Logger = core.logger
	if config.FlushOnWrite {
		storeConfig.BatchSize = storage.BatchSizeSmall
	}
	store, err := storage.Open(storeConfig)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", config.Name, err)
	}

	uploader, err := upload.NewHTTPUploader(core.httpClient, config.NewFactory(version.UserAgent(core.config.Intake.Service)), logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	scheduler, err := upload.NewScheduler(upload.SchedulerConfig{
		Feature:        config.Name,
		Source:         store,
		Uploader:       uploader,
		RequestContext: core.RequestContext,
		Frequency:      core.config.Frequency,
		UploadTimeout:  core.config.UploadTimeout,
		Clock:          core.clock,
		Logger:         core.logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	feature := &Feature{
		name:            config.Name,
		store:           store,
		scheduler:       scheduler,
		flushOnWrite:    config.FlushOnWrite,
		shutdownTimeout: core.config.ShutdownTimeout,
		logger:          logger,
		queue:           make(chan operation, core.config.QueueSize),
		stopping:        make(chan struct{}),
		persisterDone:   make(chan struct{}),
	}
	feature.mapper = event.NewMapper(config.Mappers, func(viewID string, dropped event.Dropped) {
		feature.mapped.Add(1)
		if config.OnEventDropped != nil {
			config.OnEventDropped(viewID, dropped)
		}
	}, logger)

	feature.unsubscribe = core.gate.Subscribe(consent.ListenerFunc(feature.consentChanged))
	// The gate may have moved between Open and Subscribe.
	if current, opened := core.gate.Get(), store.Consent(); current != opened {
		store.ConsentChanged(opened, current)
	}

	go feature.persist()
	scheduler.Start()
	return feature, nil
}

// Name returns the feature name.
func (f *Feature) Name() string { return f.name }

// Store returns the feature's batch store.
func (f *Feature) Store() *storage.Store { return f.store }

// Write maps record, encodes it and queues it for persistence. It
// blocks only while the queue is full, and gives up when ctx is done.
// A record dropped by a mapper is not an error.
func (f *Feature) Write(ctx context.Context, record *event.Record) error {
	data, err := f.prepare(record)
	if err != nil || data == nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stopped {
		return ErrStopped
	}
	select {
	case f.queue <- operation{data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryWrite is Write without blocking: it returns ErrQueueFull instead
// of waiting for room. It is safe to call from a log handler running
// on the persistence goroutine itself.
func (f *Feature) TryWrite(record *event.Record) error {
	data, err := f.prepare(record)
	if err != nil || data == nil {
		return err
	}

	if !f.mu.TryRLock() {
		return ErrStopped
	}
	defer f.mu.RUnlock()
	if f.stopped {
		return ErrStopped
	}
	select {
	case f.queue <- operation{data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (f *Feature) prepare(record *event.Record) ([]byte, error) {
	if record == nil {
		return nil, errors.New("feature: nil record")
	}
	mapped := f.mapper.Map(record)
	if mapped == nil {
		return nil, nil
	}
	return mapped.Encode()
}

// Flush waits for every queued write and then closes the open
// batches, making them eligible for upload.
func (f *Feature) Flush(ctx context.Context) error {
	return f.control(ctx, f.store.Flush)
}

// ClearAllData deletes every batch of the feature, including events
// queued before the call.
func (f *Feature) ClearAllData(ctx context.Context) error {
	return f.control(ctx, f.store.DropAll)
}

// UploadNow uploads closed batches until none remain or an upload
// fails.
func (f *Feature) UploadNow(ctx context.Context) error {
	return f.scheduler.UploadNow(ctx)
}

func (f *Feature) control(ctx context.Context, run func() error) error {
	done := make(chan error, 1)

	f.mu.RLock()
	if f.stopped {
		f.mu.RUnlock()
		return ErrStopped
	}
	select {
	case f.queue <- operation{control: run, done: done}:
	case <-ctx.Done():
		f.mu.RUnlock()
		return ctx.Err()
	}
	f.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consentChanged queues the transition behind the writes already
// queued, so every event is judged by the consent in force when Write
// was called. It returns once the store has applied the transition.
func (f *Feature) consentChanged(_, current consent.State) {
	err := f.control(context.Background(), func() error {
		f.store.ConsentChanged(f.store.Consent(), current)
		return nil
	})
	if err != nil {
		f.logger.Debug("consent change not applied", "consent", current.String(), "error", err)
	}
}

// persist is the persistence goroutine. After stopping is closed it
// drains what is left in the queue and exits.
func (f *Feature) persist() {
	defer close(f.persisterDone)
	for {
		select {
		case op := <-f.queue:
			f.apply(op)
		case <-f.stopping:
			for {
				select {
				case op := <-f.queue:
					f.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (f *Feature) apply(op operation) {
	if op.control != nil {
		op.done <- op.control()
		return
	}

	status, err := f.store.Write(op.data)
	switch {
	case errors.Is(err, storage.ErrConsentNotGranted):
		f.dropped.Add(1)
		f.logger.Debug("event dropped: tracking consent not granted")
		return
	case errors.Is(err, storage.ErrItemTooLarge):
		f.dropped.Add(1)
		return
	case err != nil:
		f.failed.Add(1)
		f.logger.Error("persisting event failed", "error", err)
		return
	}

	switch status {
	case storage.StatusWritten:
		f.written.Add(1)
	case storage.StatusPending:
		f.pending.Add(1)
	}
	if f.flushOnWrite {
		if err := f.store.Flush(); err != nil {
			f.logger.Error("flushing after write failed", "error", err)
		}
	}
}

// Stats returns a snapshot of the feature's counters.
func (f *Feature) Stats() Stats {
	return Stats{
		Mapped:  f.mapped.Load(),
		Written: f.written.Load(),
		Pending: f.pending.Load(),
		Dropped: f.dropped.Load(),
		Failed:  f.failed.Load(),
		Upload:  f.scheduler.Stats(),
	}
}

// Stop stops the scheduler, persists every queued write, closes the
// open batches and makes one last upload pass bounded by the shutdown
// timeout. Stop is idempotent.
func (f *Feature) Stop() error {
	f.stopOnce.Do(func() {
		f.scheduler.Stop()

		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
		close(f.stopping)
		<-f.persisterDone

		var errs []error
		if err := f.store.Flush(); err != nil {
			errs = append(errs, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), f.shutdownTimeout)
		err := f.scheduler.UploadNow(ctx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, upload.ErrRetryLater), errors.Is(err, context.DeadlineExceeded):
			f.logger.Info("batches left for the next run", "reason", err)
		default:
			errs = append(errs, err)
		}

		f.unsubscribe()
		if err := f.store.Close(); err != nil {
			errs = append(errs, err)
		}
		f.stopErr = errors.Join(errs...)
		f.logger.Info("feature stopped")
	})
	return f.stopErr
}
