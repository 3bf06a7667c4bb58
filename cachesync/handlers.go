// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package cachesync

import (
	"encoding/json"
	"log/slog"

	"github.com/praxis-advisory/consolesync/realtime"
)

// Binder wires push events to cache writes. Each Bind method registers
// the handlers for one cached query and returns an unbind func; a
// handler constructed with a context (a client ID, a filter, a period)
// acts only on events matching that context and treats everything else
// as a strict no-op.
//
// Malformed payloads degrade to invalidation: when an event cannot be
// decoded well enough to apply precisely, the entry is marked stale and
// the fetch path recovers. A push is never allowed to corrupt an entry
// or crash the pump.
type Binder struct {
	cache      *Cache
	dispatcher *realtime.Dispatcher
	logger     *slog.Logger
}

// NewBinder creates a Binder. A nil logger means slog.Default().
func NewBinder(cache *Cache, dispatcher *realtime.Dispatcher, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{cache: cache, dispatcher: dispatcher, logger: logger}
}

// BindAll registers every context-free handler: the client list, the
// archived list, and the finance queue. Context-bound handlers (detail
// views, dashboard filters, leaderboard periods) are bound by their
// views as they open.
func (b *Binder) BindAll() func() {
	return combine(
		b.BindClientList(),
		b.BindArchivedClients(),
		b.BindFinanceApprovals(),
	)
}

// BindClientList keeps the active client list coherent. Single-record
// payloads cannot be merged into a list whose shape this layer does not
// know, so every client mutation invalidates the list; archiving also
// invalidates the archived list it moves the client into.
func (b *Binder) BindClientList() func() {
	invalidate := func(json.RawMessage) {
		b.cache.Invalidate(KeyClients)
	}
	return combine(
		b.dispatcher.Subscribe(realtime.EventClientCreated, invalidate),
		b.dispatcher.Subscribe(realtime.EventClientUpdated, invalidate),
		b.dispatcher.Subscribe(realtime.EventClientUnarchived, invalidate),
		b.dispatcher.Subscribe(realtime.EventClientArchived, func(json.RawMessage) {
			b.cache.Invalidate(KeyClients)
			b.cache.Invalidate(KeyArchivedClients)
		}),
	)
}

// BindArchivedClients keeps the archived list coherent.
// archived-clients:fetched carries the complete list and overwrites;
// archived-clients:updated carries nothing and invalidates.
func (b *Binder) BindArchivedClients() func() {
	return combine(
		b.dispatcher.Subscribe(realtime.EventArchivedClientsFetched, func(data json.RawMessage) {
			var event realtime.ArchivedClientsEvent
			if err := json.Unmarshal(data, &event); err != nil || len(event.Clients) == 0 {
				b.logger.Debug("archived-clients payload unusable, invalidating", "error", err)
				b.cache.Invalidate(KeyArchivedClients)
				return
			}
			b.cache.Put(KeyArchivedClients, event.Clients)
		}),
		b.dispatcher.Subscribe(realtime.EventArchivedClientsUpdated, func(json.RawMessage) {
			b.cache.Invalidate(KeyArchivedClients)
		}),
	)
}

// BindClientDetail keeps one client's detail entry coherent. Payment
// and update events carry the full client record; an event for a
// different client is a strict no-op, a matching event with a full
// record overwrites, and a matching event without one invalidates.
func (b *Binder) BindClientDetail(clientID string) func() {
	key := KeyClient(clientID)
	apply := func(data json.RawMessage) {
		var event realtime.PaymentEvent
		if err := json.Unmarshal(data, &event); err != nil {
			b.logger.Debug("client detail payload malformed, invalidating",
				"client_id", clientID, "error", err)
			b.cache.Invalidate(key)
			return
		}
		if event.ClientID != clientID {
			return
		}
		if len(event.Client) == 0 {
			b.cache.Invalidate(key)
			return
		}
		b.cache.Put(key, event.Client)
	}
	return combine(
		b.dispatcher.Subscribe(realtime.EventClientUpdated, apply),
		b.dispatcher.Subscribe(realtime.EventPaymentCreated, apply),
		b.dispatcher.Subscribe(realtime.EventPaymentUpdated, apply),
		b.dispatcher.Subscribe(realtime.EventProductPaymentCreated, apply),
		b.dispatcher.Subscribe(realtime.EventProductPaymentUpdated, apply),
	)
}

// BindDashboard invalidates the stats entry for one filter when the
// server reports that filter changed. Other filters are no-ops.
func (b *Binder) BindDashboard(filter string) func() {
	key := KeyDashboardStats(filter)
	return b.dispatcher.Subscribe(realtime.EventDashboardUpdated, func(data json.RawMessage) {
		var event realtime.DashboardEvent
		if err := json.Unmarshal(data, &event); err != nil {
			b.logger.Debug("dashboard payload malformed, invalidating",
				"filter", filter, "error", err)
			b.cache.Invalidate(key)
			return
		}
		if event.Filter != filter {
			return
		}
		b.cache.Invalidate(key)
	})
}

// BindLeaderboard invalidates the leaderboard entry for one period.
func (b *Binder) BindLeaderboard(month, year int) func() {
	key := KeyLeaderboard(month, year)
	return b.dispatcher.Subscribe(realtime.EventLeaderboardUpdated, func(data json.RawMessage) {
		var event realtime.LeaderboardEvent
		if err := json.Unmarshal(data, &event); err != nil {
			b.logger.Debug("leaderboard payload malformed, invalidating",
				"month", month, "year", year, "error", err)
			b.cache.Invalidate(key)
			return
		}
		if event.Month != month || event.Year != year {
			return
		}
		b.cache.Invalidate(key)
	})
}

// BindMessages invalidates one user's thread on acknowledgment.
func (b *Binder) BindMessages(userID string) func() {
	key := KeyMessages(userID)
	return b.dispatcher.Subscribe(realtime.EventMessageAcknowledged, func(data json.RawMessage) {
		var event realtime.MessageAckEvent
		if err := json.Unmarshal(data, &event); err != nil {
			b.logger.Debug("message ack payload malformed, invalidating",
				"user_id", userID, "error", err)
			b.cache.Invalidate(key)
			return
		}
		if event.UserID != userID {
			return
		}
		b.cache.Invalidate(key)
	})
}

// BindFinanceApprovals invalidates the approval queue on any queue
// transition; the payload's status detail does not change the move.
func (b *Binder) BindFinanceApprovals() func() {
	invalidate := func(json.RawMessage) {
		b.cache.Invalidate(KeyFinanceApprovals)
	}
	return combine(
		b.dispatcher.Subscribe(realtime.EventFinancePending, invalidate),
		b.dispatcher.Subscribe(realtime.EventFinanceApproved, invalidate),
		b.dispatcher.Subscribe(realtime.EventFinanceRejected, invalidate),
	)
}

// combine folds unsubscribe funcs into one.
func combine(unsubscribes ...func()) func() {
	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}
