// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a deterministic Clock frozen at start. Time moves only
// through Advance. Safe for concurrent use.
func Fake(start time.Time) *FakeClock {
	f := &FakeClock{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// FakeClock is the test Clock. Timers, tickers, and After channels
// registered against it fire when Advance moves the clock past their
// deadline, in deadline order.
//
// AfterFunc callbacks run synchronously in the goroutine calling
// Advance, without the clock lock held, so callbacks may register new
// timers or read the clock. Calling Advance from inside a callback
// deadlocks by construction; don't.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	when   time.Time
	ch     chan time.Time // nil for AfterFunc entries
	fn     func()         // nil for channel entries
	period time.Duration  // non-zero for tickers: rearm after firing
	dead   bool           // stopped or already fired (one-shot)
}

// Now returns the current virtual time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a one-shot channel delivery at now+d. Non-positive d
// delivers immediately.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.pending = append(f.pending, &pendingTimer{when: f.now.Add(d), ch: ch})
	f.changed.Broadcast()
	return ch
}

// AfterFunc registers f to run when the clock advances past now+d.
// Non-positive d runs f synchronously before returning.
func (f *FakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	if d <= 0 {
		fn()
		return firedTimer{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &pendingTimer{when: f.now.Add(d), fn: fn}
	f.pending = append(f.pending, p)
	f.changed.Broadcast()
	return &fakeTimer{clock: f, p: p}
}

// NewTicker registers a periodic delivery every d. Panics if d <= 0.
func (f *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: NewTicker interval must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &pendingTimer{when: f.now.Add(d), ch: make(chan time.Time, 1), period: d}
	f.pending = append(f.pending, p)
	f.changed.Broadcast()
	return &fakeTicker{clock: f, p: p}
}

// Advance moves virtual time forward by d and fires every registered
// timer, ticker, and After channel whose deadline is now due, in
// deadline order. Tickers fire once per elapsed period. Channel sends
// never block: a full channel drops the tick, matching time.Ticker.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.now = target
	f.mu.Unlock()

	for {
		due := f.takeDue(target)
		if len(due) == 0 {
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		for _, fire := range due {
			switch {
			case fire.fn != nil:
				fire.fn()
			case fire.ch != nil:
				select {
				case fire.ch <- fire.at:
				default:
				}
			}
		}
	}
}

// firing is a snapshot of a due entry taken under the lock, so the
// entry itself can be rearmed (tickers) or retired (one-shots) before
// anything fires.
type firing struct {
	at time.Time
	ch chan time.Time
	fn func()
}

// takeDue retires or rearms due entries in the pending list and
// returns snapshots of them for firing.
func (f *FakeClock) takeDue(target time.Time) []firing {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due []firing
	var keep []*pendingTimer
	for _, p := range f.pending {
		if p.dead {
			continue
		}
		if p.when.After(target) {
			keep = append(keep, p)
			continue
		}
		due = append(due, firing{at: p.when, ch: p.ch, fn: p.fn})
		if p.period > 0 {
			// Rearm in place; a long Advance fires the ticker again
			// on the next loop iteration.
			p.when = p.when.Add(p.period)
			keep = append(keep, p)
		} else {
			p.dead = true
		}
	}
	f.pending = keep
	return due
}

// BlockUntil parks the caller until at least n timers, tickers, or
// After channels are registered and not yet fired. It closes the race
// between a goroutine under test registering its timer and the test
// advancing the clock past it.
func (f *FakeClock) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.liveCountLocked() < n {
		f.changed.Wait()
	}
}

// LiveTimers returns the number of registered, unfired entries.
func (f *FakeClock) LiveTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveCountLocked()
}

func (f *FakeClock) liveCountLocked() int {
	n := 0
	for _, p := range f.pending {
		if !p.dead {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock *FakeClock
	p     *pendingTimer
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.p.dead {
		return false
	}
	t.p.dead = true
	return true
}

// firedTimer is returned by AfterFunc when the callback already ran.
type firedTimer struct{}

func (firedTimer) Stop() bool { return false }

type fakeTicker struct {
	clock *FakeClock
	p     *pendingTimer
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.p.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.p.dead = true
}
