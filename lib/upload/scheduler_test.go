// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/spool/lib/clock"
	"github.com/bureau-foundation/spool/lib/consent"
	"github.com/bureau-foundation/spool/lib/storage"
	"github.com/bureau-foundation/spool/lib/testutil"
)

// fakeUploader answers with a scripted sequence of HTTP codes (200
// once the script runs out) and records every batch it was given.
// The called channel signals after each Upload is recorded; when
// release is non-nil, Upload blocks on it before returning.
type fakeUploader struct {
	mu      sync.Mutex
	codes   []int
	batches [][]string
	called  chan struct{}
	release chan struct{}
}

func newFakeUploader(codes ...int) *fakeUploader {
	return &fakeUploader{codes: codes, called: make(chan struct{}, 64)}
}

func (f *fakeUploader) Upload(_ context.Context, _ RequestContext, batch [][]byte, _ []byte) Status {
	f.mu.Lock()
	events := make([]string, len(batch))
	for i, event := range batch {
		events[i] = string(event)
	}
	f.batches = append(f.batches, events)
	code := 200
	if len(f.codes) > 0 {
		code, f.codes = f.codes[0], f.codes[1:]
	}
	f.mu.Unlock()

	f.called <- struct{}{}
	if f.release != nil {
		<-f.release
	}
	return StatusFromCode(code)
}

func (f *fakeUploader) uploaded() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batches...)
}

var schedulerEpoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// newStore opens a granted store with one event per batch and writes
// events into it.
func newStore(t *testing.T, events ...string) *storage.Store {
	t.Helper()
	store, err := storage.Open(storage.Config{
		Root:             t.TempDir(),
		Feature:          "logs",
		Consent:          consent.Granted,
		MaxItemsPerBatch: 1,
	})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	for _, event := range events {
		if _, err := store.Write([]byte(event)); err != nil {
			t.Fatalf("Write(%q): %v", event, err)
		}
	}
	return store
}

func newTestScheduler(t *testing.T, source Source, uploader Uploader, fake *clock.FakeClock) *Scheduler {
	t.Helper()
	config := SchedulerConfig{
		Feature:        "logs",
		Source:         source,
		Uploader:       uploader,
		RequestContext: testRequestContext,
	}
	if fake != nil {
		config.Clock = fake
	}
	scheduler, err := NewScheduler(config)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	t.Cleanup(scheduler.Stop)
	return scheduler
}

func TestRetryableFailureRetriesSameBatchFirst(t *testing.T) {
	store := newStore(t, "older", "newer")
	uploader := newFakeUploader(503)
	scheduler := newTestScheduler(t, store, uploader, nil)

	results := []TickResult{scheduler.Tick(), scheduler.Tick(), scheduler.Tick(), scheduler.Tick()}
	want := []TickResult{TickRetry, TickUploaded, TickUploaded, TickIdle}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("tick results = %v, want %v", results, want)
		}
	}

	uploaded := uploader.uploaded()
	order := []string{"older", "older", "newer"}
	if len(uploaded) != len(order) {
		t.Fatalf("uploaded %v, want %v", uploaded, order)
	}
	for i, name := range order {
		if len(uploaded[i]) != 1 || uploaded[i][0] != name {
			t.Errorf("attempt %d uploaded %v, want [%s]", i, uploaded[i], name)
		}
	}
}

func TestNonRetryableFailureDeletesAfterOneAttempt(t *testing.T) {
	store := newStore(t, "bad")
	uploader := newFakeUploader(400)
	scheduler := newTestScheduler(t, store, uploader, nil)

	if result := scheduler.Tick(); result != TickRejected {
		t.Fatalf("first tick = %v, want rejected", result)
	}
	if result := scheduler.Tick(); result != TickIdle {
		t.Fatalf("second tick = %v, want idle", result)
	}
	if attempts := len(uploader.uploaded()); attempts != 1 {
		t.Fatalf("uploaded %d times, want 1", attempts)
	}
	if stats := scheduler.Stats(); stats.NonRetryableFailures != 1 || stats.Attempts != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDelayAdaptsToOutcomes(t *testing.T) {
	store := newStore(t)
	uploader := newFakeUploader()
	scheduler := newTestScheduler(t, store, uploader, nil)

	base := FrequencyAverage.BaseStep()
	if got := scheduler.CurrentDelay(); got != 5*base {
		t.Fatalf("initial delay = %v, want %v", got, 5*base)
	}

	scheduler.Tick() // nothing to upload
	idle := scheduler.CurrentDelay()
	if idle <= 5*base {
		t.Errorf("delay after idle tick = %v, want more than %v", idle, 5*base)
	}

	policy := newDelayPolicy(FrequencyAverage)
	for range 10 {
		policy.backOff()
	}
	if policy.current != 10*base {
		t.Errorf("delay after repeated failures = %v, want cap %v", policy.current, 10*base)
	}
	for range 50 {
		policy.decrease()
	}
	if policy.current != base {
		t.Errorf("delay after repeated successes = %v, want floor %v", policy.current, base)
	}
	for range 50 {
		policy.increase()
	}
	if policy.current != 10*base {
		t.Errorf("delay after repeated idle ticks = %v, want cap %v", policy.current, 10*base)
	}
}

func TestFailureDoublesAndSuccessShrinksDelay(t *testing.T) {
	store := newStore(t, "event")
	uploader := newFakeUploader(503)
	scheduler := newTestScheduler(t, store, uploader, nil)

	before := scheduler.CurrentDelay()
	scheduler.Tick()
	afterFailure := scheduler.CurrentDelay()
	if afterFailure != 2*before {
		t.Errorf("delay after failure = %v, want %v", afterFailure, 2*before)
	}
	scheduler.Tick()
	if afterSuccess := scheduler.CurrentDelay(); afterSuccess >= afterFailure {
		t.Errorf("delay after success = %v, want less than %v", afterSuccess, afterFailure)
	}
}

func TestSchedulerLoopUploadsOnTimer(t *testing.T) {
	fake := clock.Fake(schedulerEpoch)
	store := newStore(t, "event")
	uploader := newFakeUploader()
	scheduler := newTestScheduler(t, store, uploader, fake)

	scheduler.Start()
	fake.WaitForTimers(1)
	if len(uploader.uploaded()) != 0 {
		t.Fatal("uploaded before the first delay elapsed")
	}
	fake.Advance(scheduler.CurrentDelay())
	testutil.RequireReceive(t, uploader.called, 5*time.Second, "waiting for first upload")

	// The loop re-arms only after recording the outcome.
	fake.WaitForTimers(1)
	scheduler.Stop()

	if stats := scheduler.Stats(); stats.Successes != 1 {
		t.Fatalf("stats = %+v, want one success", stats)
	}
}

func TestStopWaitsForInFlightUpload(t *testing.T) {
	fake := clock.Fake(schedulerEpoch)
	store := newStore(t, "event")
	uploader := newFakeUploader()
	uploader.release = make(chan struct{})
	scheduler := newTestScheduler(t, store, uploader, fake)

	scheduler.Start()
	fake.WaitForTimers(1)
	fake.Advance(scheduler.CurrentDelay())
	testutil.RequireReceive(t, uploader.called, 5*time.Second, "waiting for upload to start")

	if result := scheduler.Tick(); result != TickSkipped {
		t.Errorf("concurrent Tick = %v, want skipped", result)
	}

	stopped := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while an upload was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(uploader.release)
	testutil.RequireClosed(t, stopped, 5*time.Second, "waiting for Stop")

	batches, err := store.ListClosedBatches()
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 0 {
		t.Errorf("in-flight batch was not confirmed: %v", batches)
	}
	if fake.PendingCount() != 0 {
		t.Errorf("loop re-armed after Stop")
	}
}

func TestUploadNowDrainsStore(t *testing.T) {
	store := newStore(t, "a", "b", "c")
	uploader := newFakeUploader()
	scheduler := newTestScheduler(t, store, uploader, nil)

	if err := scheduler.UploadNow(context.Background()); err != nil {
		t.Fatalf("UploadNow: %v", err)
	}
	if got := len(uploader.uploaded()); got != 3 {
		t.Fatalf("uploaded %d batches, want 3", got)
	}
}

func TestUploadNowStopsAtRetryableFailure(t *testing.T) {
	store := newStore(t, "a", "b", "c")
	uploader := newFakeUploader(200, 503)
	scheduler := newTestScheduler(t, store, uploader, nil)

	err := scheduler.UploadNow(context.Background())
	if !errors.Is(err, ErrRetryLater) {
		t.Fatalf("UploadNow = %v, want ErrRetryLater", err)
	}
	batches, _ := store.ListClosedBatches()
	if len(batches) != 2 {
		t.Fatalf("%d batches left, want 2", len(batches))
	}
}

func TestUploadNowHonorsContext(t *testing.T) {
	store := newStore(t, "a")
	scheduler := newTestScheduler(t, store, newFakeUploader(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := scheduler.UploadNow(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("UploadNow = %v, want context.Canceled", err)
	}
}

func TestNewSchedulerValidates(t *testing.T) {
	if _, err := NewScheduler(SchedulerConfig{Uploader: newFakeUploader(), RequestContext: testRequestContext}); err == nil {
		t.Error("accepted config without Source")
	}
	if _, err := NewScheduler(SchedulerConfig{Source: newStore(t), RequestContext: testRequestContext}); err == nil {
		t.Error("accepted config without Uploader")
	}
}
