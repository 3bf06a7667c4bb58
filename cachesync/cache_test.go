// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package cachesync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/praxis-advisory/consolesync/lib/testutil"
)

func TestPutOverwritesAndClearsStale(t *testing.T) {
	cache := New(nil)
	cache.Put(KeyClients, json.RawMessage(`[{"id":"1"}]`))
	cache.Invalidate(KeyClients)

	entry, ok := cache.Get(KeyClients)
	if !ok || !entry.Stale {
		t.Fatalf("entry = %+v, %v; want stale", entry, ok)
	}
	// The stale value is retained for display.
	if string(entry.Value) != `[{"id":"1"}]` {
		t.Errorf("stale value = %s, want retained payload", entry.Value)
	}

	cache.Put(KeyClients, json.RawMessage(`[{"id":"1"},{"id":"2"}]`))
	entry, _ = cache.Get(KeyClients)
	if entry.Stale {
		t.Error("entry still stale after Put")
	}
	if string(entry.Value) != `[{"id":"1"},{"id":"2"}]` {
		t.Errorf("value = %s", entry.Value)
	}
	if entry.Version != 3 {
		t.Errorf("version = %d, want 3 (one per write)", entry.Version)
	}
}

func TestInvalidateMissingEntryCreatesStalePlaceholder(t *testing.T) {
	cache := New(nil)
	cache.Invalidate(KeyFinanceApprovals)
	entry, ok := cache.Get(KeyFinanceApprovals)
	if !ok || !entry.Stale || entry.Value != nil {
		t.Errorf("entry = %+v, %v; want empty stale placeholder", entry, ok)
	}
}

func TestWatchDeliversUpdates(t *testing.T) {
	cache := New(nil)
	updates, cancel := cache.Watch(KeyClients)
	defer cancel()

	cache.Put(KeyClients, json.RawMessage(`[]`))
	entry := testutil.Receive(t, updates, 5*time.Second, "put update")
	if entry.Stale || string(entry.Value) != `[]` {
		t.Errorf("entry = %+v", entry)
	}

	cache.Invalidate(KeyClients)
	entry = testutil.Receive(t, updates, 5*time.Second, "invalidate update")
	if !entry.Stale {
		t.Errorf("entry = %+v, want stale", entry)
	}

	// Other keys do not leak into this watch.
	cache.Put(KeyFinanceApprovals, json.RawMessage(`[]`))
	select {
	case extra := <-updates:
		t.Fatalf("unexpected update: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRefetcherScheduledOnceOnStaleTransition(t *testing.T) {
	cache := New(nil)
	refetched := make(chan Key, 4)
	cache.SetRefetcher(func(key Key) { refetched <- key })

	cache.Put(KeyClients, json.RawMessage(`[]`))
	cache.Invalidate(KeyClients)
	cache.Invalidate(KeyClients) // already stale: no second refetch

	key := testutil.Receive(t, refetched, 5*time.Second, "refetch")
	if key != KeyClients {
		t.Errorf("refetched key = %q", key)
	}
	select {
	case extra := <-refetched:
		t.Fatalf("double refetch for %q", extra)
	case <-time.After(100 * time.Millisecond):
	}

	// Recovery then another invalidation schedules again.
	cache.Put(KeyClients, json.RawMessage(`[]`))
	cache.Invalidate(KeyClients)
	testutil.Receive(t, refetched, 5*time.Second, "refetch after recovery")
}

func TestKeys(t *testing.T) {
	if got := KeyClient("7"); got != Key("client:7") {
		t.Errorf("KeyClient = %q", got)
	}
	if got := KeyDashboardStats("weekly"); got != Key("dashboard-stats:weekly") {
		t.Errorf("KeyDashboardStats = %q", got)
	}
	if got := KeyLeaderboard(6, 2026); got != Key("leaderboard:2026-06") {
		t.Errorf("KeyLeaderboard = %q", got)
	}
	if got := KeyMessages("12"); got != Key("messages:12") {
		t.Errorf("KeyMessages = %q", got)
	}
}
