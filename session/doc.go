// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the authenticated identity for a console client:
// who the current user is, whether that identity is still valid, and the
// in-memory credential pair used to talk to the backend.
//
// The Store is the single writer of credentials. It restores a session
// at startup (silent refresh against the backend, primed by an advisory
// snapshot in local state), keeps the access token fresh on a fixed
// cadence while authenticated, and ends the session only on explicit
// logout or after three consecutive authentication failures. Transport
// failures (a slow or cold backend, a dropped connection) are never
// treated as evidence about session validity.
//
// Consumers observe identity transitions through Store.Watch. While the
// Store is still Verifying, route guards must show a neutral loading
// state, never a login redirect.
package session
