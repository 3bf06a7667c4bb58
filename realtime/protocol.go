// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"encoding/json"
	"fmt"
)

// Wire event names. These are a contract with the console backend and
// with the browser client that shares the socket; the exact spellings
// (including the camelCase productPayment and the hyphenated
// archived-clients) are load-bearing.
const (
	// Room membership requests, client to server.
	EventJoinCounsellor     = "join:counsellor"
	EventJoinRole           = "join:role"
	EventJoinUser           = "join:user"
	EventJoinAdmin          = "join:admin"
	EventJoinAdminDashboard = "join:admin:dashboard"

	// EventJoinDashboard is the legacy spelling of the dashboard-room
	// join. Older backend builds only honor this one, so it is emitted
	// alongside EventJoinAdminDashboard; the server treats a join to an
	// already-held room as a no-op.
	EventJoinDashboard = "join:dashboard"

	// Room departure requests. Only these three rooms have a leave
	// event; user and role rooms are dropped server-side when the
	// socket closes.
	EventLeaveCounsellor     = "leave:counsellor"
	EventLeaveAdmin          = "leave:admin"
	EventLeaveAdminDashboard = "leave:admin:dashboard"

	// Membership confirmations, server to client.
	EventJoinedCounsellor = "joined:counsellor"
	EventJoinedRole       = "joined:role"

	// Data push events.
	EventClientCreated          = "client:created"
	EventClientUpdated          = "client:updated"
	EventClientArchived         = "client:archived"
	EventClientUnarchived       = "client:unarchived"
	EventArchivedClientsFetched = "archived-clients:fetched"
	EventArchivedClientsUpdated = "archived-clients:updated"
	EventPaymentCreated         = "payment:created"
	EventPaymentUpdated         = "payment:updated"
	EventProductPaymentCreated  = "productPayment:created"
	EventProductPaymentUpdated  = "productPayment:updated"
	EventDashboardUpdated       = "dashboard:updated"
	EventLeaderboardUpdated     = "leaderboard:updated"
	EventMessageAcknowledged    = "message:acknowledged"
	EventFinancePending         = "allFinance:pending"
	EventFinanceApproved        = "allFinance:approved"
	EventFinanceRejected        = "allFinance:rejected"
)

// Frame is one JSON message on the socket, in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame with a marshaled payload. A nil payload
// produces a frame with no data field.
func NewFrame(event string, payload any) (Frame, error) {
	frame := Frame{Event: event}
	if payload == nil {
		return frame, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("realtime: encoding %s payload: %w", event, err)
	}
	frame.Data = data
	return frame, nil
}
