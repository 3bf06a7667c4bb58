// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/praxis-advisory/consolesync/cachesync"
	"github.com/praxis-advisory/consolesync/realtime"
	"github.com/praxis-advisory/consolesync/session"
)

func runDash(args []string) error {
	flags := pflag.NewFlagSet("dash", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to the config file")
	filter := flags.String("filter", "weekly", "dashboard stats filter")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
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
	defer binder.BindAll()()
	defer binder.BindDashboard(*filter)()
	now := time.Now()
	defer binder.BindLeaderboard(int(now.Month()), now.Year())()

	go manager.Run(ctx)
	states, cancelStates := manager.Watch()
	defer cancelStates()

	model := dashModel{
		cache:  cache,
		user:   store.User(),
		filter: *filter,
		state:  manager.State(),
		states: states,
		keys:   newDashKeys(),
	}
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

type dashKeys struct {
	Quit key.Binding
}

func newDashKeys() dashKeys {
	return dashKeys{
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

type connStateMsg realtime.State

type refreshMsg time.Time

// dashModel is a read-only view of the synced cache: a status line for
// the connection, the dashboard stats entry, and one row per cached
// query. Realtime degradation (manager in error state) is shown as a
// badge while stale data keeps rendering.
type dashModel struct {
	cache  *cachesync.Cache
	user   *session.User
	filter string
	state  realtime.State
	states <-chan realtime.State
	keys   dashKeys
	width  int
	height int
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.waitState(), tickRefresh())
}

func (m dashModel) waitState() tea.Cmd {
	states := m.states
	return func() tea.Msg {
		return connStateMsg(<-states)
	}
}

func tickRefresh() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m dashModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		if key.Matches(message, m.keys.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = message.Width
		m.height = message.Height
	case connStateMsg:
		m.state = realtime.State(message)
		return m, m.waitState()
	case refreshMsg:
		return m, tickRefresh()
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	statusOKStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("2")).
			Padding(0, 1)

	statusBadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("1")).
			Padding(0, 1)

	staleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	freshStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	paneStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

func (m dashModel) View() string {
	identity := "not signed in"
	if m.user != nil {
		identity = fmt.Sprintf("%s (%s)", m.user.DisplayName, m.user.Role)
	}
	title := titleStyle.Render("consolesync · " + identity)

	var status string
	switch m.state {
	case realtime.StateConnected:
		status = statusOKStyle.Render("realtime: connected")
	case realtime.StateError:
		status = statusBadStyle.Render("REALTIME DEGRADED: showing last known data")
	default:
		status = statusBadStyle.Render("realtime: " + m.state.String())
	}

	stats := "no dashboard stats yet"
	if entry, ok := m.cache.Get(cachesync.KeyDashboardStats(m.filter)); ok && entry.Value != nil {
		stats = truncate(string(entry.Value), 400)
		if entry.Stale {
			stats = staleStyle.Render("(stale) ") + stats
		}
	}
	statsPane := paneStyle.Render("dashboard [" + m.filter + "]\n" + stats)

	keys := m.cache.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	rows := fmt.Sprintf("%-32s %-8s %s\n", "KEY", "STATE", "VERSION")
	for _, cacheKey := range keys {
		entry, _ := m.cache.Get(cacheKey)
		// Pad before styling; ANSI escapes would skew %-8s widths.
		state := freshStyle.Render(fmt.Sprintf("%-8s", "fresh"))
		if entry.Stale {
			state = staleStyle.Render(fmt.Sprintf("%-8s", "stale"))
		}
		rows += fmt.Sprintf("%-32s %s v%d\n", truncate(string(cacheKey), 32), state, entry.Version)
	}
	cachePane := paneStyle.Render("cache\n" + rows)

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		status,
		statsPane,
		cachePane,
		lipgloss.NewStyle().Faint(true).Render("q to quit"),
	)
}

// truncate shortens s to at most n runes. Counting runes rather than
// bytes keeps a cut inside multi-byte text from emitting invalid UTF-8
// into the terminal.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
