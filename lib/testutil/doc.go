// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds small assertion helpers shared by tests across
// the module. The channel helpers wrap every receive in a real-time
// safety valve so a broken test hangs for a bounded interval instead of
// forever.
package testutil
