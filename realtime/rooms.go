// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"github.com/praxis-advisory/consolesync/session"
)

// RoomKind classifies a socket room.
type RoomKind int

const (
	// RoomCounsellor is a counsellor's private caseload room.
	RoomCounsellor RoomKind = iota
	// RoomRole is a role broadcast room (role:counsellor, role:manager).
	RoomRole
	// RoomUser is the per-user room used for direct notifications.
	RoomUser
	// RoomAdmin is the shared administrative room.
	RoomAdmin
	// RoomAdminDashboard carries dashboard and leaderboard pushes.
	RoomAdminDashboard
)

// Room identifies one socket room: a kind plus, for keyed kinds, the
// user ID or role name that scopes it. Comparable; used as a map key.
type Room struct {
	Kind RoomKind
	Key  string
}

// String returns the server-side room name.
func (r Room) String() string {
	switch r.Kind {
	case RoomCounsellor:
		return "counsellor:" + r.Key
	case RoomRole:
		return "role:" + r.Key
	case RoomUser:
		return "user:" + r.Key
	case RoomAdmin:
		return "admin"
	case RoomAdminDashboard:
		return "admin:dashboard"
	}
	return "unknown"
}

// DeriveRooms computes the full room set for an identity. It is the
// single source of truth for membership: the result depends only on the
// arguments, never on connection history, so a reconnect that re-runs
// it always lands on the same set.
//
//	counsellor            → counsellor:<id>, role:counsellor, user:<id>
//	manager               → admin, admin:dashboard, user:<id>, role:manager
//	superadmin, director  → admin, admin:dashboard, user:<id>
//
// Every manager joins role:manager; the supervisor flag widens what the
// server pushes into the room, not whether the manager is in it.
func DeriveRooms(role session.Role, isSupervisor bool, userID string) []Room {
	switch role {
	case session.RoleCounsellor:
		return []Room{
			{Kind: RoomCounsellor, Key: userID},
			{Kind: RoomRole, Key: string(session.RoleCounsellor)},
			{Kind: RoomUser, Key: userID},
		}
	case session.RoleManager:
		return []Room{
			{Kind: RoomAdmin},
			{Kind: RoomAdminDashboard},
			{Kind: RoomUser, Key: userID},
			{Kind: RoomRole, Key: string(session.RoleManager)},
		}
	case session.RoleSuperadmin, session.RoleDirector:
		return []Room{
			{Kind: RoomAdmin},
			{Kind: RoomAdminDashboard},
			{Kind: RoomUser, Key: userID},
		}
	}
	// Unknown role: the user room is always safe to hold.
	return []Room{{Kind: RoomUser, Key: userID}}
}

// JoinFrames returns the frames that request membership in room. The
// dashboard room needs two frames: the current event name plus the
// legacy alias older backends listen for.
func JoinFrames(room Room) []Frame {
	switch room.Kind {
	case RoomCounsellor:
		return []Frame{mustFrame(EventJoinCounsellor, room.Key)}
	case RoomRole:
		return []Frame{mustFrame(EventJoinRole, room.Key)}
	case RoomUser:
		return []Frame{mustFrame(EventJoinUser, room.Key)}
	case RoomAdmin:
		return []Frame{{Event: EventJoinAdmin}}
	case RoomAdminDashboard:
		return []Frame{
			{Event: EventJoinAdminDashboard},
			{Event: EventJoinDashboard},
		}
	}
	return nil
}

// LeaveFrame returns the frame that leaves room, or ok=false for rooms
// without a leave event (user and role rooms end with the socket).
func LeaveFrame(room Room) (Frame, bool) {
	switch room.Kind {
	case RoomCounsellor:
		return mustFrame(EventLeaveCounsellor, room.Key), true
	case RoomAdmin:
		return Frame{Event: EventLeaveAdmin}, true
	case RoomAdminDashboard:
		return Frame{Event: EventLeaveAdminDashboard}, true
	}
	return Frame{}, false
}

// mustFrame is NewFrame for payloads that cannot fail to marshal.
func mustFrame(event string, payload any) Frame {
	frame, err := NewFrame(event, payload)
	if err != nil {
		panic(err)
	}
	return frame
}
