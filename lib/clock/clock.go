// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the scheduling surface used by all timer-driven code in this
// module. Real() returns the production implementation; Fake() returns
// a deterministic one for tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once, after d has elapsed.
	// A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after d. The returned Timer can
	// cancel the pending call. With the fake clock, f runs
	// synchronously inside Advance.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker returns a Ticker delivering on its channel every d.
	// Panics if d <= 0.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable one-shot scheduled by AfterFunc.
type Timer interface {
	// Stop cancels the pending call. Returns false when the timer has
	// already fired or been stopped.
	Stop() bool
}

// Ticker delivers periodic ticks. Stop releases it; the channel is not
// closed by Stop, matching time.Ticker.
type Ticker interface {
	// Chan returns the tick delivery channel. Capacity 1; ticks are
	// dropped, not queued, when the consumer falls behind.
	Chan() <-chan time.Time

	// Stop turns the ticker off.
	Stop()
}
