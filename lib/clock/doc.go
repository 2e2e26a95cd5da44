// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the
// storage and upload pipeline.
//
// Batch ages, write windows, and upload delays are all computed from a
// [Clock] rather than the time package, so that tests can drive the
// upload scheduler and the batch orchestrator deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	scheduler := upload.NewScheduler(upload.SchedulerConfig{Clock: fake, ...})
//	go scheduler.Run(ctx)
//	fake.WaitForTimers(1)          // scheduler armed its first delay
//	fake.Advance(10 * time.Second) // fire it
//
// Production code passes [Real].
package clock
