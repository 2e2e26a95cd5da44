// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the pipeline depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d. The upload
	// scheduler re-arms a single timer with a different delay after
	// every tick, so Timer supports Reset.
	NewTimer(d time.Duration) *Timer

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Timer is a single-shot, resettable timer. Receive from C to wait
// for it.
type Timer struct {
	// C receives the fire time. Capacity 1.
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop disarms the timer. Returns false if it had already fired or
// was already stopped. Stop does not drain C.
func (t *Timer) Stop() bool { return t.stop() }

// Reset re-arms the timer to fire after d. Returns true if the timer
// was still pending.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
