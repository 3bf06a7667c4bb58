// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Handler receives the raw payload of one push event. Handlers run on
// the connection's read goroutine: per-room server-send order is
// preserved, and a slow handler backpressures the socket rather than
// reordering events.
type Handler func(data json.RawMessage)

// Dispatcher routes inbound frames to subscribed handlers by event
// name. It outlives individual connections: subscriptions survive a
// reconnect, and the manager guarantees only the current connection's
// frames reach Dispatch.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
}

// NewDispatcher creates an empty dispatcher. A nil logger means
// slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
	}
}

// Subscribe registers handler for event and returns an unsubscribe
// func. Unsubscribing twice is harmless.
func (d *Dispatcher) Subscribe(event string, handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	if d.handlers[event] == nil {
		d.handlers[event] = make(map[int]Handler)
	}
	d.handlers[event][id] = handler
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers[event], id)
	}
}

// Dispatch delivers one frame to every handler subscribed to its event,
// sequentially. A frame nobody subscribed to is logged at Debug and
// dropped.
func (d *Dispatcher) Dispatch(frame Frame) {
	d.mu.Lock()
	subscribed := make([]Handler, 0, len(d.handlers[frame.Event]))
	for _, handler := range d.handlers[frame.Event] {
		subscribed = append(subscribed, handler)
	}
	d.mu.Unlock()

	if len(subscribed) == 0 {
		d.logger.Debug("unhandled push event", "event", frame.Event)
		return
	}
	for _, handler := range subscribed {
		handler(frame.Data)
	}
}
