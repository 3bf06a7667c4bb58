// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

// Command consolesync is the operator CLI for the Praxis console's
// realtime layer: log in, watch the push stream, or run the terminal
// dashboard.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/praxis-advisory/consolesync/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return fmt.Errorf("a command is required")
	}
	switch args[0] {
	case "login":
		return runLogin(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "dash":
		return runDash(args[1:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return nil
	}
	printUsage(os.Stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(out *os.File) {
	fmt.Fprint(out, `Usage: consolesync <command> [flags]

Commands:
  login   authenticate against the console backend
  watch   stream decoded push events to stdout
  dash    live terminal dashboard of the synced cache

Every command takes --config; CONSOLESYNC_CONFIG is used when the flag
is omitted.
`)
}

// loadConfig resolves the configuration from the flag value or the
// environment pointer.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newLogger builds the command logger: human-readable text on a
// terminal, JSON when stderr is piped.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler), nil
}
