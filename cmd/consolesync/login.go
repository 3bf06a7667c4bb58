// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/praxis-advisory/consolesync/config"
	"github.com/praxis-advisory/consolesync/session"
)

func runLogin(args []string) error {
	flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to the config file")
	email := flags.String("email", "", "account email (prompted when omitted)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	store, err := newSessionStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := interactiveLogin(context.Background(), store, *email); err != nil {
		return err
	}
	user := store.User()
	fmt.Fprintf(os.Stderr, "Logged in as %s (%s)\n", user.DisplayName, user.Role)
	return nil
}

// newSessionStore assembles the session stack shared by every command.
// The cookie jar is the persistent one: `consolesync login` in one
// process must leave a refresh cookie that `watch` or `dash` in the
// next process can resume from.
func newSessionStore(cfg *config.Config, logger *slog.Logger) (*session.Store, error) {
	jar, err := session.NewPersistentJar(cfg.State.Dir, cfg.Server.BaseURL, logger)
	if err != nil {
		return nil, err
	}
	client, err := session.NewClient(session.ClientConfig{
		BaseURL: cfg.Server.BaseURL,
		Jar:     jar,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	snapshots, err := session.NewFileSnapshotStore(cfg.State.Dir)
	if err != nil {
		return nil, err
	}
	return session.NewStore(session.StoreConfig{
		Client:    client,
		Snapshots: snapshots,
		Logger:    logger,
	}), nil
}

// interactiveLogin prompts for whatever credentials were not supplied
// and performs the login. A login failure surfaces immediately; there
// is no retry leniency on interactive attempts.
func interactiveLogin(ctx context.Context, store *session.Store, email string) error {
	if email == "" {
		fmt.Fprint(os.Stderr, "Email: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	stdinFileDescriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFileDescriptor) {
		return fmt.Errorf("no terminal available for the password prompt")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdinFileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	return store.Login(ctx, email, string(passwordBytes))
}

// ensureAuthenticated resumes the persisted session, falling back to an
// interactive login when restoration fails and a terminal is attached.
func ensureAuthenticated(ctx context.Context, store *session.Store) error {
	if err := store.Resume(ctx); err != nil {
		return err
	}
	if store.State() == session.StateAuthenticated {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("no valid session; run `consolesync login` first")
	}
	fmt.Fprintln(os.Stderr, "Session expired, please log in.")
	return interactiveLogin(ctx, store, "")
}
