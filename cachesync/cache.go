// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package cachesync

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Entry is one cached query result. Value is the last known payload;
// Stale means the server has signaled it is out of date but a refetch
// has not landed yet (views may keep rendering the stale value).
// Version increments on every write and lets a consumer tell whether
// anything happened between two reads.
type Entry struct {
	Value   json.RawMessage
	Stale   bool
	Version uint64
}

// Refetcher is scheduled (on its own goroutine) when an entry turns
// stale, so the normal fetch path can recover it. Optional.
type Refetcher func(key Key)

// Cache is the local query cache. Writers only overwrite whole entries
// or invalidate whole entries; readers get copies.
type Cache struct {
	logger *slog.Logger

	mu          sync.Mutex
	entries     map[Key]Entry
	watchers    map[Key]map[int]chan Entry
	nextWatcher int
	refetch     Refetcher
}

// New creates an empty cache. A nil logger means slog.Default().
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger:   logger,
		entries:  make(map[Key]Entry),
		watchers: make(map[Key]map[int]chan Entry),
	}
}

// SetRefetcher installs the stale-entry recovery callback.
func (c *Cache) SetRefetcher(refetch Refetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refetch = refetch
}

// Put overwrites the entry wholesale and clears its stale flag. The
// payload must be self-sufficient; there is deliberately no way to
// patch part of an entry.
func (c *Cache) Put(key Key, value json.RawMessage) {
	c.mu.Lock()
	entry := c.entries[key]
	entry.Value = value
	entry.Stale = false
	entry.Version++
	c.entries[key] = entry
	c.notifyLocked(key, entry)
	c.mu.Unlock()
}

// Invalidate marks the entry stale, retaining its value for display.
// On the transition to stale the refetcher, if any, is scheduled;
// invalidating an already-stale entry bumps the version but does not
// schedule another refetch.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	entry := c.entries[key]
	wasStale := entry.Stale
	entry.Stale = true
	entry.Version++
	c.entries[key] = entry
	c.notifyLocked(key, entry)
	refetch := c.refetch
	c.mu.Unlock()

	if !wasStale && refetch != nil {
		go refetch(key)
	}
}

// Get returns a copy of the entry and whether it exists. A stale entry
// still returns its last value.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Watch returns a channel of entry updates for key and a cancel func.
// Sends are non-blocking on a buffered channel; a consumer that falls
// behind misses intermediate versions, never the latest Get.
func (c *Cache) Watch(key Key) (<-chan Entry, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextWatcher
	c.nextWatcher++
	ch := make(chan Entry, 16)
	if c.watchers[key] == nil {
		c.watchers[key] = make(map[int]chan Entry)
	}
	c.watchers[key][id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers[key], id)
	}
}

// Keys returns every key with an entry, for display layers that walk
// the cache.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

func (c *Cache) notifyLocked(key Key, entry Entry) {
	for _, ch := range c.watchers[key] {
		select {
		case ch <- entry:
		default:
			c.logger.Debug("cache watcher channel full, dropping update", "key", string(key))
		}
	}
}
