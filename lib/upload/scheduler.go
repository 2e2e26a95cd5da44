// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/spool/lib/clock"
	"github.com/bureau-foundation/spool/lib/storage"
)

// Source is the store side of the upload loop. *storage.Store
// implements it.
type Source interface {
	NextBatch() (*storage.Batch, error)
	Confirm(handle storage.BatchHandle, decision storage.Decision) error
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Feature labels log records.
	Feature string

	Source   Source
	Uploader Uploader

	// RequestContext is called once per upload attempt.
	RequestContext func() RequestContext

	Frequency Frequency

	// UploadTimeout bounds each upload started by the loop. Zero
	// means DefaultTimeout.
	UploadTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// TickResult says what one tick did.
type TickResult uint8

const (
	// TickIdle: there was no closed batch.
	TickIdle TickResult = iota
	// TickUploaded: a batch was accepted and deleted.
	TickUploaded
	// TickRejected: a batch was refused permanently and deleted.
	TickRejected
	// TickRetry: the upload failed and the batch was kept.
	TickRetry
	// TickStorageError: no batch could be checked out.
	TickStorageError
	// TickSkipped: another tick was still running.
	TickSkipped
)

func (r TickResult) String() string {
	switch r {
	case TickIdle:
		return "idle"
	case TickUploaded:
		return "uploaded"
	case TickRejected:
		return "rejected"
	case TickRetry:
		return "retry"
	case TickStorageError:
		return "storage_error"
	case TickSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// ErrRetryLater is returned by UploadNow when the intake asked for
// the current batch to be sent again later.
var ErrRetryLater = errors.New("upload: batch kept for a later attempt")

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Ticks                uint64
	Attempts             uint64
	Successes            uint64
	RetryableFailures    uint64
	NonRetryableFailures uint64
	IdleTicks            uint64
	SkippedTicks         uint64
	StorageErrors        uint64
	CurrentDelay         time.Duration
}

// Scheduler drives uploads for one feature: at most one batch per
// tick and never two ticks at once.
type Scheduler struct {
	feature        string
	source         Source
	uploader       Uploader
	requestContext func() RequestContext
	uploadTimeout  time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	// inFlight is held for the duration of a tick.
	inFlight sync.Mutex

	mu    sync.Mutex
	delay delayPolicy
	stats Stats

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewScheduler validates config and returns a stopped scheduler.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	if config.Source == nil {
		return nil, errors.New("upload: scheduler Source is required")
	}
	if config.Uploader == nil {
		return nil, errors.New("upload: scheduler Uploader is required")
	}
	if config.RequestContext == nil {
		return nil, errors.New("upload: scheduler RequestContext is required")
	}
	if config.UploadTimeout == 0 {
		config.UploadTimeout = DefaultTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		feature:        config.Feature,
		source:         config.Source,
		uploader:       config.Uploader,
		requestContext: config.RequestContext,
		uploadTimeout:  config.UploadTimeout,
		clock:          config.Clock,
		logger:         config.Logger.With("feature", config.Feature),
		delay:          newDelayPolicy(config.Frequency),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// Start launches the tick loop. Calling Start again has no effect.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run()
	})
}

// Stop cancels future ticks and waits for the loop to exit. A tick
// already in progress finishes its upload first. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		timer := s.clock.NewTimer(s.CurrentDelay())
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		select {
		case <-s.stop:
			return
		default:
		}
		s.Tick()
	}
}

// CurrentDelay returns the wait before the next tick.
func (s *Scheduler) CurrentDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay.current
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.CurrentDelay = s.delay.current
	return stats
}

// Tick runs one upload cycle now. It returns TickSkipped without
// doing anything if another tick is in progress.
func (s *Scheduler) Tick() TickResult {
	if !s.inFlight.TryLock() {
		s.mu.Lock()
		s.stats.SkippedTicks++
		s.mu.Unlock()
		return TickSkipped
	}
	defer s.inFlight.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.uploadTimeout)
	defer cancel()
	result, _ := s.tickLocked(ctx)
	return result
}

// UploadNow uploads closed batches back to back until the store is
// empty, an upload must be retried, or ctx ends. It waits for any
// running tick instead of skipping.
func (s *Scheduler) UploadNow(ctx context.Context) error {
	s.inFlight.Lock()
	defer s.inFlight.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.tickLocked(ctx)
		switch result {
		case TickIdle:
			return nil
		case TickRetry, TickStorageError:
			return err
		}
	}
}

func (s *Scheduler) tickLocked(ctx context.Context) (TickResult, error) {
	s.mu.Lock()
	s.stats.Ticks++
	s.mu.Unlock()

	batch, err := s.source.NextBatch()
	if err != nil {
		s.logger.Error("checking out batch failed", "error", err)
		s.record(TickStorageError)
		return TickStorageError, err
	}
	if batch == nil {
		s.record(TickIdle)
		return TickIdle, nil
	}

	s.mu.Lock()
	s.stats.Attempts++
	s.mu.Unlock()

	status := s.uploader.Upload(ctx, s.requestContext(), batch.Payloads(), batch.Metadata)

	var result TickResult
	var decision storage.Decision
	switch status.Outcome {
	case Success:
		result, decision = TickUploaded, storage.DeleteBatch
	case NonRetryableFailure:
		result, decision = TickRejected, storage.RejectBatch
		s.logger.Warn("batch rejected by intake", "batch", batch.Handle.Name, "events", len(batch.Events), "status", status.String())
	default:
		result, decision = TickRetry, storage.KeepBatch
		s.logger.Info("batch kept for retry", "batch", batch.Handle.Name, "status", status.String())
	}

	if err := s.source.Confirm(batch.Handle, decision); err != nil {
		s.logger.Error("confirming batch failed", "batch", batch.Handle.Name, "error", err)
	}
	s.record(result)

	if result == TickRetry {
		return result, fmt.Errorf("%w: %s", ErrRetryLater, status)
	}
	return result, nil
}

// record updates the counters and the delay for a finished tick. A
// permanent rejection paces like a success: the batch is gone and the
// intake is reachable.
func (s *Scheduler) record(result TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch result {
	case TickIdle:
		s.stats.IdleTicks++
		s.delay.increase()
	case TickUploaded:
		s.stats.Successes++
		s.delay.decrease()
	case TickRejected:
		s.stats.NonRetryableFailures++
		s.delay.decrease()
	case TickRetry:
		s.stats.RetryableFailures++
		s.delay.backOff()
	case TickStorageError:
		s.stats.StorageErrors++
		s.delay.backOff()
	}
}
