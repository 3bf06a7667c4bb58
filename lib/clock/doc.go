// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that retry and refresh state machines
// can be tested by advancing a virtual clock instead of sleeping.
//
// Production code receives a Clock (usually via a config struct) and
// never calls the time package directly for scheduling. Tests construct
// a Fake clock, start the code under test, wait for it to register its
// timers with BlockUntil, and then Advance virtual time to fire them
// deterministically.
package clock
