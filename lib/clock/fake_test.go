// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNowMovesOnlyOnAdvance(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	if got, want := clock.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfter(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(3 * time.Second)

	clock.Advance(2 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-channel:
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if clock.PendingCount() != 0 {
		t.Fatalf("expected no pending timers, got %d", clock.PendingCount())
	}
}

func TestFakeClockNonPositiveDurationFiresImmediately(t *testing.T) {
	clock := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-clock.After(d):
		default:
			t.Fatalf("After(%v) should fire immediately", d)
		}
	}
	if clock.PendingCount() != 0 {
		t.Fatalf("immediate timers must not register, got %d pending", clock.PendingCount())
	}
}

func TestFakeTimerStop(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should return true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should return false")
	}
	clock.Advance(time.Minute)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeTimerReset(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(10 * time.Second)

	if !timer.Reset(2 * time.Second) {
		t.Fatal("Reset on a pending timer should return true")
	}
	clock.Advance(2 * time.Second)
	select {
	case <-timer.C:
	default:
		t.Fatal("reset timer did not fire at its new deadline")
	}

	// Re-arm after firing.
	if timer.Reset(time.Second) {
		t.Fatal("Reset after firing should return false")
	}
	clock.Advance(time.Second)
	select {
	case <-timer.C:
	default:
		t.Fatal("re-armed timer did not fire")
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	clock := Fake(epoch)
	woke := make(chan struct{})
	go func() {
		clock.Sleep(5 * time.Second)
		close(woke)
	}()

	clock.WaitForTimers(1)
	clock.Advance(5 * time.Second)
	select {
	case <-woke:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("sleeper did not wake after Advance")
	}
}

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)
	late := clock.After(3 * time.Second)
	early := clock.After(time.Second)

	clock.Advance(5 * time.Second)

	earlyTime := <-early
	lateTime := <-late
	if !earlyTime.Equal(lateTime) {
		t.Fatalf("both timers should receive the advanced time, got %v and %v", earlyTime, lateTime)
	}
}
