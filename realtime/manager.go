// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/praxis-advisory/consolesync/lib/clock"
	"github.com/praxis-advisory/consolesync/session"
)

// State is the connection lifecycle state. There are no auth substates
// here: authentication belongs to the session store, and the manager
// only ever acts on an already-authenticated identity.
type State int

const (
	// StateDisconnected means no session wants a connection.
	StateDisconnected State = iota
	// StateConnecting means a dial or reconnect cycle is in progress.
	StateConnecting
	// StateConnected means the socket is live and rooms are joined.
	StateConnected
	// StateError means reconnection was exhausted. The session itself
	// is untouched: authenticated but realtime-degraded. A new session
	// transition (re-login) restarts the cycle.
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

const (
	defaultReconnectAttempts  = 5
	defaultBackoffStep        = 1 * time.Second
	defaultBackoffCap         = 5 * time.Second
	defaultRoleJoinAttempts   = 3
	defaultRoleJoinFirstDelay = 300 * time.Millisecond
	defaultRoleJoinInterval   = 2 * time.Second
)

// defaultSweepOffsets are the ensure-joined sweep times after a
// connect. The server has historically dropped join requests that
// raced its own room setup; blanket re-joins shortly after connecting
// are a stateless, idempotent correction.
var defaultSweepOffsets = []time.Duration{
	500 * time.Millisecond,
	1500 * time.Millisecond,
	3000 * time.Millisecond,
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// SocketURL is the websocket endpoint. Required.
	SocketURL string

	// Session is the store whose identity drives connections. Required.
	Session *session.Store

	// Dispatcher receives inbound frames. If nil, one is created; read
	// it back with Dispatcher().
	Dispatcher *Dispatcher

	// Dialer opens connections. If nil, WebsocketDialer.
	Dialer Dialer

	// Clock drives every retry and sweep timer. If nil, clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger

	// ReconnectAttempts, BackoffStep, BackoffCap tune the reconnect
	// policy: attempts at linearly growing spacing, capped. Zero values
	// take the defaults (5 attempts, 1s step, 5s cap).
	ReconnectAttempts int
	BackoffStep       time.Duration
	BackoffCap        time.Duration

	// RoleJoinAttempts, RoleJoinFirstDelay, RoleJoinInterval tune the
	// role-room join retry machine. Zero values take the defaults
	// (3 attempts, first at +300ms, then every 2s).
	RoleJoinAttempts   int
	RoleJoinFirstDelay time.Duration
	RoleJoinInterval   time.Duration

	// SweepOffsets overrides the ensure-joined sweep schedule.
	SweepOffsets []time.Duration
}

// Manager owns the console's one live socket. It watches the session
// store and reacts to identity transitions: a user appearing connects,
// a user disappearing leaves held rooms and closes, a different user
// appearing tears the old connection down first. Membership is derived
// fresh on every connect.
type Manager struct {
	socketURL          string
	session            *session.Store
	dispatcher         *Dispatcher
	dialer             Dialer
	clk                clock.Clock
	logger             *slog.Logger
	reconnectAttempts  int
	backoffStep        time.Duration
	backoffCap         time.Duration
	roleJoinAttempts   int
	roleJoinFirstDelay time.Duration
	roleJoinInterval   time.Duration
	sweepOffsets       []time.Duration

	mu    sync.Mutex
	state State
	user  *session.User
	conn  *Conn

	// generation increments whenever the current connection changes.
	// Timer callbacks capture the generation they were scheduled under
	// and refuse to act if it has moved on.
	generation int

	// joined is the set of rooms this client believes it has joined on
	// the current connection. Leaves are emitted only for these.
	joined map[Room]bool

	roleConfirmed bool
	timers        []clock.Timer

	sessionCancel context.CancelFunc
	sessionDone   chan struct{}

	watchers    map[int]chan State
	nextWatcher int
}

// NewManager creates a Manager in StateDisconnected. Call Run to start.
func NewManager(config ManagerConfig) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dispatcher := config.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher(logger)
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	manager := &Manager{
		socketURL:          config.SocketURL,
		session:            config.Session,
		dispatcher:         dispatcher,
		dialer:             dialer,
		clk:                clk,
		logger:             logger,
		reconnectAttempts:  config.ReconnectAttempts,
		backoffStep:        config.BackoffStep,
		backoffCap:         config.BackoffCap,
		roleJoinAttempts:   config.RoleJoinAttempts,
		roleJoinFirstDelay: config.RoleJoinFirstDelay,
		roleJoinInterval:   config.RoleJoinInterval,
		sweepOffsets:       config.SweepOffsets,
		watchers:           make(map[int]chan State),
	}
	if manager.reconnectAttempts == 0 {
		manager.reconnectAttempts = defaultReconnectAttempts
	}
	if manager.backoffStep == 0 {
		manager.backoffStep = defaultBackoffStep
	}
	if manager.backoffCap == 0 {
		manager.backoffCap = defaultBackoffCap
	}
	if manager.roleJoinAttempts == 0 {
		manager.roleJoinAttempts = defaultRoleJoinAttempts
	}
	if manager.roleJoinFirstDelay == 0 {
		manager.roleJoinFirstDelay = defaultRoleJoinFirstDelay
	}
	if manager.roleJoinInterval == 0 {
		manager.roleJoinInterval = defaultRoleJoinInterval
	}
	if manager.sweepOffsets == nil {
		manager.sweepOffsets = defaultSweepOffsets
	}
	return manager
}

// Dispatcher returns the dispatcher inbound frames are routed to.
func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Rooms returns the rooms this client currently believes it has joined.
func (m *Manager) Rooms() []Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]Room, 0, len(m.joined))
	for room := range m.joined {
		rooms = append(rooms, room)
	}
	return rooms
}

// Watch returns a channel of connection state transitions and a cancel
// func. Sends are non-blocking on a buffered channel.
func (m *Manager) Watch() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextWatcher
	m.nextWatcher++
	ch := make(chan State, 16)
	m.watchers[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}

// Run watches the session and maintains the connection until ctx is
// cancelled. It always returns ctx.Err().
func (m *Manager) Run(ctx context.Context) error {
	changes, cancelWatch := m.session.Watch()
	defer cancelWatch()

	// The session may already be authenticated by the time Run starts.
	if m.session.State() == session.StateAuthenticated {
		if user := m.session.User(); user != nil {
			m.startSession(user)
		}
	}

	for {
		select {
		case <-ctx.Done():
			m.stopSession()
			return ctx.Err()
		case change := <-changes:
			switch change.State {
			case session.StateAuthenticated:
				m.startSession(change.User)
			case session.StateUnauthenticated:
				m.stopSession()
				m.setState(StateDisconnected)
			}
		}
	}
}

// startSession connects on behalf of user, tearing down any connection
// owned by a different identity first. Re-announcing the same user is a
// no-op.
func (m *Manager) startSession(user *session.User) {
	if user == nil {
		return
	}
	m.mu.Lock()
	if m.sessionCancel != nil && m.user != nil && m.user.ID == user.ID {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.stopSession()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	identity := *user
	m.mu.Lock()
	m.user = &identity
	m.sessionCancel = cancel
	m.sessionDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.runSession(ctx, identity)
	}()
}

// stopSession leaves held rooms (best-effort), closes the connection,
// and joins the session goroutine. Idempotent. Cancellation happens
// under the lock so a connection being installed concurrently either
// sees the cancellation and closes itself, or is installed in time for
// this teardown to close it; never neither.
func (m *Manager) stopSession() {
	m.mu.Lock()
	cancel, done := m.sessionCancel, m.sessionDone
	m.sessionCancel, m.sessionDone = nil, nil
	m.user = nil
	if cancel != nil {
		cancel()
	}
	conn := m.conn
	var leaves []Frame
	for room := range m.joined {
		if frame, ok := LeaveFrame(room); ok {
			leaves = append(leaves, frame)
		}
	}
	m.dropConnLocked()
	m.mu.Unlock()

	if conn != nil {
		for _, frame := range leaves {
			if err := conn.Send(frame); err != nil {
				m.logger.Debug("leave on teardown failed", "error", err)
				break
			}
		}
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

// runSession is the per-identity connection loop: connect with retry,
// hold the socket until it drops, reconnect from scratch. Exhausted
// retries end in StateError with the session left alone.
func (m *Manager) runSession(ctx context.Context, user session.User) {
	for {
		conn := m.connectWithRetry(ctx, user)
		if conn == nil {
			if ctx.Err() == nil {
				m.logger.Warn("socket reconnection exhausted, realtime degraded",
					"attempts", m.reconnectAttempts,
				)
				m.setState(StateError)
			}
			return
		}

		if !m.installConn(ctx, conn, user) {
			return
		}
		err := m.readUntilClosed(conn)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("socket lost, reconnecting", "error", err)
		m.disposeConn(conn)
	}
}

// connectWithRetry dials up to reconnectAttempts times with linearly
// growing, capped spacing. Returns nil when exhausted or cancelled.
func (m *Manager) connectWithRetry(ctx context.Context, user session.User) *Conn {
	m.setState(StateConnecting)
	for attempt := 1; ; attempt++ {
		credentials := m.session.Credentials()
		conn, err := m.dialer.DialContext(ctx, m.socketURL, credentials.AccessToken)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		m.logger.Warn("socket dial failed",
			"attempt", attempt,
			"max_attempts", m.reconnectAttempts,
			"user_id", user.ID,
			"error", err,
		)
		if attempt >= m.reconnectAttempts {
			return nil
		}
		backoff := time.Duration(attempt) * m.backoffStep
		if backoff > m.backoffCap {
			backoff = m.backoffCap
		}
		select {
		case <-ctx.Done():
			return nil
		case <-m.clk.After(backoff):
		}
	}
}

// installConn makes conn current: new generation, fresh membership
// derived from the identity, all joins emitted, retry and sweep timers
// scheduled. Returns false when the session was torn down while the
// dial was completing; the connection is closed, not installed.
func (m *Manager) installConn(ctx context.Context, conn *Conn, user session.User) bool {
	rooms := DeriveRooms(user.Role, user.IsSupervisor, user.ID)

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		conn.Close()
		return false
	}
	m.generation++
	generation := m.generation
	m.conn = conn
	m.joined = make(map[Room]bool, len(rooms))
	m.roleConfirmed = false
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info("socket connected",
		"connection_id", conn.ID(),
		"user_id", user.ID,
		"rooms", len(rooms),
	)
	m.joinAll(conn, rooms)

	for _, offset := range m.sweepOffsets {
		m.afterFunc(generation, offset, func() {
			m.joinAll(conn, rooms)
		})
	}
	for _, room := range rooms {
		if room.Kind == RoomRole {
			m.scheduleRoleRetry(generation, conn, room, 1)
			break
		}
	}
	return true
}

// joinAll emits the join frames for every room and records the
// membership claim. Safe to run repeatedly: the server treats joins to
// held rooms as no-ops, and so does our bookkeeping.
func (m *Manager) joinAll(conn *Conn, rooms []Room) {
	for _, room := range rooms {
		for _, frame := range JoinFrames(room) {
			if err := conn.Send(frame); err != nil {
				m.logger.Debug("join send failed", "room", room.String(), "error", err)
				return
			}
		}
		m.mu.Lock()
		if m.conn == conn {
			m.joined[room] = true
		}
		m.mu.Unlock()
	}
}

// scheduleRoleRetry re-requests the role room until the server confirms
// with joined:role, up to roleJoinAttempts times. After exhaustion the
// confirmation handling stays live (handleFrame), so a late server-side
// join is still recorded; the ensure-joined sweep keeps requesting.
func (m *Manager) scheduleRoleRetry(generation int, conn *Conn, room Room, attempt int) {
	delay := m.roleJoinInterval
	if attempt == 1 {
		delay = m.roleJoinFirstDelay
	}
	m.afterFunc(generation, delay, func() {
		m.mu.Lock()
		confirmed := m.roleConfirmed
		m.mu.Unlock()
		if confirmed {
			return
		}
		m.logger.Debug("role room unconfirmed, re-joining",
			"room", room.String(),
			"attempt", attempt,
			"max_attempts", m.roleJoinAttempts,
		)
		for _, frame := range JoinFrames(room) {
			if err := conn.Send(frame); err != nil {
				return
			}
		}
		if attempt < m.roleJoinAttempts {
			m.scheduleRoleRetry(generation, conn, room, attempt+1)
		}
	})
}

// afterFunc schedules fn on the clock, guarded by generation: if the
// connection has turned over by the time the timer fires, fn does not
// run. A timer from a dead connection must never act on a live one.
func (m *Manager) afterFunc(generation int, d time.Duration, fn func()) {
	timer := m.clk.AfterFunc(d, func() {
		m.mu.Lock()
		stale := m.generation != generation
		m.mu.Unlock()
		if stale {
			return
		}
		fn()
	})

	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		timer.Stop()
		return
	}
	m.timers = append(m.timers, timer)
	m.mu.Unlock()
}

// readUntilClosed pumps frames from conn until it dies. Frames from a
// connection that is no longer current are dropped, not dispatched.
func (m *Manager) readUntilClosed(conn *Conn) error {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		m.mu.Lock()
		current := m.conn == conn
		m.mu.Unlock()
		if !current {
			return nil
		}
		m.handleFrame(frame)
	}
}

// handleFrame records membership confirmations and forwards everything
// to the dispatcher.
func (m *Manager) handleFrame(frame Frame) {
	switch frame.Event {
	case EventJoinedRole:
		var confirmation JoinConfirmation
		if len(frame.Data) > 0 {
			if err := confirmation.UnmarshalJSON(frame.Data); err != nil {
				m.logger.Debug("malformed join confirmation", "error", err)
			}
		}
		m.mu.Lock()
		m.roleConfirmed = true
		m.mu.Unlock()
		m.logger.Debug("role room confirmed", "room", confirmation.Room)
	case EventJoinedCounsellor:
		m.logger.Debug("counsellor room confirmed")
	}
	m.dispatcher.Dispatch(frame)
}

// disposeConn retires conn between reconnect cycles. Unlike
// stopSession, no leaves are sent: the socket is already dead.
func (m *Manager) disposeConn(conn *Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.dropConnLocked()
	}
	m.mu.Unlock()
	conn.Close()
}

// dropConnLocked clears connection-scoped state: current conn,
// membership, pending timers. Bumps the generation so in-flight timer
// callbacks see themselves stale. Caller holds m.mu.
func (m *Manager) dropConnLocked() {
	for _, timer := range m.timers {
		timer.Stop()
	}
	m.timers = nil
	m.conn = nil
	m.joined = nil
	m.roleConfirmed = false
	m.generation++
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(state)
}

// setStateLocked records a transition and notifies watchers without
// blocking. Caller holds m.mu.
func (m *Manager) setStateLocked(state State) {
	if state == m.state {
		return
	}
	m.state = state
	for _, ch := range m.watchers {
		select {
		case ch <- state:
		default:
			m.logger.Debug("connection watcher channel full, dropping transition")
		}
	}
}
