// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package cachesync

import "fmt"

// Key identifies one cached query result.
type Key string

const (
	// KeyClients is the active client list.
	KeyClients Key = "clients"

	// KeyArchivedClients is the archived client list.
	KeyArchivedClients Key = "archived-clients"

	// KeyFinanceApprovals is the pending finance approval queue.
	KeyFinanceApprovals Key = "finance-approvals"
)

// KeyClient is the detail record for one client.
func KeyClient(clientID string) Key {
	return Key("client:" + clientID)
}

// KeyDashboardStats is the dashboard stats under one filter.
func KeyDashboardStats(filter string) Key {
	return Key("dashboard-stats:" + filter)
}

// KeyLeaderboard is the leaderboard for one month.
func KeyLeaderboard(month, year int) Key {
	return Key(fmt.Sprintf("leaderboard:%04d-%02d", year, month))
}

// KeyMessages is one user's message thread.
func KeyMessages(userID string) Key {
	return Key("messages:" + userID)
}
