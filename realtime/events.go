// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent is returned by DecodeEvent for event names it has no
// schema for. Callers log and drop; an unknown push is never an error
// condition for the connection.
var ErrUnknownEvent = errors.New("realtime: unknown event")

// ClientEvent is the payload of the client:* push events. Client is the
// full client record when the server sends one (created, updated,
// unarchived) and empty otherwise.
type ClientEvent struct {
	ClientID string          `json:"clientId"`
	Client   json.RawMessage `json:"client"`
}

// PaymentEvent is the payload of payment:* and productPayment:* pushes.
// The server sends the full updated client record alongside the payment
// so detail views can be overwritten without a refetch.
type PaymentEvent struct {
	ClientID string          `json:"clientId"`
	Client   json.RawMessage `json:"client"`
}

// ArchivedClientsEvent is the payload of archived-clients:fetched: a
// complete, self-sufficient list. archived-clients:updated carries no
// payload at all.
type ArchivedClientsEvent struct {
	Clients json.RawMessage `json:"clients"`
}

// DashboardEvent names the dashboard filter whose stats changed.
type DashboardEvent struct {
	Filter string `json:"filter"`
}

// LeaderboardEvent names the leaderboard period that changed.
type LeaderboardEvent struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// MessageAckEvent reports a message acknowledgment for one user's
// conversation.
type MessageAckEvent struct {
	UserID    string `json:"userId"`
	MessageID string `json:"messageId"`
}

// FinanceEvent reports a finance-approval queue transition.
type FinanceEvent struct {
	Status string `json:"status"`
}

// JoinConfirmation is the payload of the joined:* confirmations. The
// server has sent both a bare room-name string and an object shape over
// time; both decode to the room name.
type JoinConfirmation struct {
	Room string `json:"room"`
}

// UnmarshalJSON tolerates the bare-string confirmation shape.
func (c *JoinConfirmation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		c.Room = name
		return nil
	}
	var wire struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.Room = wire.Room
	return nil
}

// DecodeEvent decodes a push payload into its typed form. One schema
// per event name; unknown names return ErrUnknownEvent. A decode error
// means the payload was malformed, and the caller decides how far to
// trust what it already holds (handlers degrade to invalidation).
func DecodeEvent(event string, data json.RawMessage) (any, error) {
	decode := func(target any) (any, error) {
		if len(data) == 0 {
			// Several events legitimately carry no payload; the zero
			// value of the schema is the decoded form.
			return target, nil
		}
		if err := json.Unmarshal(data, target); err != nil {
			return nil, fmt.Errorf("realtime: malformed %s payload: %w", event, err)
		}
		return target, nil
	}

	switch event {
	case EventClientCreated, EventClientUpdated, EventClientArchived, EventClientUnarchived:
		return decode(&ClientEvent{})
	case EventPaymentCreated, EventPaymentUpdated, EventProductPaymentCreated, EventProductPaymentUpdated:
		return decode(&PaymentEvent{})
	case EventArchivedClientsFetched, EventArchivedClientsUpdated:
		return decode(&ArchivedClientsEvent{})
	case EventDashboardUpdated:
		return decode(&DashboardEvent{})
	case EventLeaderboardUpdated:
		return decode(&LeaderboardEvent{})
	case EventMessageAcknowledged:
		return decode(&MessageAckEvent{})
	case EventFinancePending, EventFinanceApproved, EventFinanceRejected:
		return decode(&FinanceEvent{})
	case EventJoinedCounsellor, EventJoinedRole:
		return decode(&JoinConfirmation{})
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
}
