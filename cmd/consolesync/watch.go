// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/praxis-advisory/consolesync/cachesync"
	"github.com/praxis-advisory/consolesync/realtime"
)

// watchedEvents are the data pushes the watch command prints. Membership
// traffic (join/joined/leave) is visible through the logger instead.
var watchedEvents = []string{
	realtime.EventClientCreated,
	realtime.EventClientUpdated,
	realtime.EventClientArchived,
	realtime.EventClientUnarchived,
	realtime.EventArchivedClientsFetched,
	realtime.EventArchivedClientsUpdated,
	realtime.EventPaymentCreated,
	realtime.EventPaymentUpdated,
	realtime.EventProductPaymentCreated,
	realtime.EventProductPaymentUpdated,
	realtime.EventDashboardUpdated,
	realtime.EventLeaderboardUpdated,
	realtime.EventMessageAcknowledged,
	realtime.EventFinancePending,
	realtime.EventFinanceApproved,
	realtime.EventFinanceRejected,
}

func runWatch(args []string) error {
	flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to the config file")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureAuthenticated(ctx, store); err != nil {
		return err
	}

	manager := realtime.NewManager(realtime.ManagerConfig{
		SocketURL: cfg.Server.SocketURL,
		Session:   store,
		Logger:    logger,
	})
	cache := cachesync.New(logger)
	binder := cachesync.NewBinder(cache, manager.Dispatcher(), logger)
	unbind := binder.BindAll()
	defer unbind()

	for _, event := range watchedEvents {
		name := event
		manager.Dispatcher().Subscribe(name, func(data json.RawMessage) {
			line, err := formatEvent(name, data)
			if err != nil {
				logger.Warn("dropping undecodable push", "event", name, "error", err)
				return
			}
			if _, err := os.Stdout.Write(line); err != nil {
				logger.Warn("writing event to stdout", "error", err)
			}
		})
	}

	states, cancelStates := manager.Watch()
	defer cancelStates()
	go func() {
		for state := range states {
			logger.Info("connection state changed", "state", state.String())
		}
	}()

	err = manager.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// formatEvent renders one push as a JSON line: the event name plus its
// decoded, typed payload. Payloads that fail their schema are the
// caller's problem to drop; raw bytes never reach stdout.
func formatEvent(event string, data json.RawMessage) ([]byte, error) {
	decoded, err := realtime.DecodeEvent(event, data)
	if err != nil {
		return nil, err
	}
	line := struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: decoded}
	encoded, err := json.Marshal(line)
	if err != nil {
		return nil, err
	}
	return append(encoded, '\n'), nil
}
