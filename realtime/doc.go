// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

// Package realtime maintains the console's single live websocket: it
// dials with the session's access token, joins the rooms the current
// identity is entitled to, re-joins everything on reconnect, and feeds
// decoded push events to subscribers.
//
// The Manager is the only dial path, which is what guarantees at most
// one live connection per session. Room membership is recomputed from
// the session on every connect; nothing about a previous connection's
// membership survives into the next one.
package realtime
