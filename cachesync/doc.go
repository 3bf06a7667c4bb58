// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

// Package cachesync keeps a local query cache coherent with server
// push events. Writers have exactly two moves: overwrite an entry
// wholesale with a self-sufficient payload, or mark it stale and let
// the normal fetch path recover. There is no partial mutation, which
// is what makes every handler idempotent and event replay harmless.
package cachesync
