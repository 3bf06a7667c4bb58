// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/praxis-advisory/consolesync/lib/clock"
	"github.com/praxis-advisory/consolesync/lib/httpx"
)

const (
	// defaultRefreshInterval is the background refresh cadence. The
	// access token lives ~15 minutes; refreshing at 14 keeps a margin.
	defaultRefreshInterval = 14 * time.Minute

	// defaultMaxAuthFailures is the consecutive-auth-failure threshold
	// that ends the session. Three strikes: a single 401 can be a
	// deploy-window blip; three in a row on a 14-minute cadence means
	// the refresh cookie is genuinely gone.
	defaultMaxAuthFailures = 3
)

// StoreConfig configures a Store.
type StoreConfig struct {
	// Client performs the session API calls. Required.
	Client *Client

	// Snapshots persists the advisory user snapshot. Required; use
	// NewFileSnapshotStore for the standard layout.
	Snapshots SnapshotStore

	// Clock drives the refresh cadence. If nil, clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger

	// RefreshInterval overrides the 14-minute refresh cadence.
	RefreshInterval time.Duration

	// MaxAuthFailures overrides the three-strikes threshold.
	MaxAuthFailures int
}

// Store is the authoritative holder of the current session. It is the
// only writer of the credential pair; everything else reads copies or
// dispatches intents (Resume, Login, Logout).
type Store struct {
	client          *Client
	snapshots       SnapshotStore
	clk             clock.Clock
	logger          *slog.Logger
	refreshInterval time.Duration
	maxAuthFailures int

	mu           sync.Mutex
	state        State
	user         *User
	credentials  Credentials
	authFailures int
	closed       bool

	// announcedUser is the user ID carried by the last watcher
	// notification, used to suppress repeat announcements when a
	// background refresh re-confirms the same identity.
	announcedUser string

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	watchers    map[int]chan Change
	nextWatcher int
}

// NewStore creates a Store in StateVerifying. Call Resume to run the
// startup restoration protocol, or Login to authenticate directly.
func NewStore(config StoreConfig) *Store {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	refreshInterval := config.RefreshInterval
	if refreshInterval == 0 {
		refreshInterval = defaultRefreshInterval
	}
	maxAuthFailures := config.MaxAuthFailures
	if maxAuthFailures == 0 {
		maxAuthFailures = defaultMaxAuthFailures
	}
	return &Store{
		client:          config.Client,
		snapshots:       config.Snapshots,
		clk:             clk,
		logger:          logger,
		refreshInterval: refreshInterval,
		maxAuthFailures: maxAuthFailures,
		state:           StateVerifying,
		watchers:        make(map[int]chan Change),
	}
}

// State returns the current session state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns a copy of the current user, or nil when not
// authenticated.
func (s *Store) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	user := *s.user
	return &user
}

// Credentials returns a copy of the in-memory credential pair. Zero
// value when not authenticated.
func (s *Store) Credentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials
}

// Watch returns a channel of session transitions and a cancel func.
// The channel is buffered; a consumer that falls far behind loses
// intermediate transitions, never the ordering of the ones it sees.
func (s *Store) Watch() (<-chan Change, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatcher
	s.nextWatcher++
	ch := make(chan Change, 16)
	s.watchers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Resume runs the startup restoration protocol:
//
//  1. Load the advisory snapshot; discard it outright when its user ID
//     looks like a raw timestamp (a known historical corruption).
//  2. If a snapshot primed the attempt, try one silent refresh.
//  3. If not yet verified, try one more silent refresh.
//  4. Success: store credentials, persist the re-verified snapshot,
//     enter StateAuthenticated, start the background refresh cadence.
//  5. Failure: clear everything, enter StateUnauthenticated.
//
// Returns an error only when ctx is cancelled mid-flight; an ordinary
// "no valid session" outcome is reported through State, not an error.
// A cancelled Resume mutates no state.
func (s *Store) Resume(ctx context.Context) error {
	snapshot := s.loadSnapshot()

	var response *AuthResponse
	var err error
	if snapshot != nil {
		response, err = s.client.Refresh(ctx)
	}
	if response == nil && ctx.Err() == nil {
		response, err = s.client.Refresh(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ctx.Err() != nil {
		return ctx.Err()
	}

	if err != nil || response == nil {
		s.logger.Info("session restore failed, starting unauthenticated", "error", err)
		s.clearLocked()
		return nil
	}
	s.applyAuthLocked(response)
	s.startRefreshLoopLocked(false)
	return nil
}

// Login authenticates interactively. Any failure is returned to the
// caller immediately; login is not subject to three-strikes leniency.
func (s *Store) Login(ctx context.Context, email, password string) error {
	response, err := s.client.Login(ctx, email, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ctx.Err() != nil {
		return ctx.Err()
	}
	s.applyAuthLocked(response)
	// The login response's token may already be near expiry on a slow
	// network; the immediate refresh restores a full-lifetime token.
	s.startRefreshLoopLocked(true)
	return nil
}

// Logout notifies the backend (best-effort, failure ignored) and then
// unconditionally clears credentials and the persisted snapshot.
func (s *Store) Logout(ctx context.Context) {
	credentials := s.Credentials()
	if err := s.client.Logout(ctx, credentials); err != nil {
		s.logger.Debug("logout notification failed, clearing anyway", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Close stops the background refresh loop and releases watchers. The
// session itself is left as-is: Close is process teardown, not logout.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	cancel, done := s.loopCancel, s.loopDone
	s.loopCancel, s.loopDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// loadSnapshot reads and sanity-checks the advisory snapshot.
func (s *Store) loadSnapshot() *Snapshot {
	snapshot, err := s.snapshots.Load()
	if err != nil {
		s.logger.Warn("failed to load session snapshot", "error", err)
		return nil
	}
	if snapshot == nil {
		return nil
	}
	if timestampLikeID(snapshot.User.ID) {
		s.logger.Warn("discarding session snapshot with timestamp-like user id",
			"user_id", snapshot.User.ID,
		)
		if err := s.snapshots.Clear(); err != nil {
			s.logger.Warn("failed to clear corrupt snapshot", "error", err)
		}
		return nil
	}
	return snapshot
}

// applyAuthLocked installs a successful auth response: credentials,
// user, persisted snapshot, StateAuthenticated. Resets the failure
// counter. Caller holds s.mu.
func (s *Store) applyAuthLocked(response *AuthResponse) {
	user := response.User()
	s.credentials = response.Credentials()
	s.user = &user
	s.authFailures = 0
	s.setStateLocked(StateAuthenticated)

	if err := s.snapshots.Save(&Snapshot{User: user, SavedAt: s.clk.Now()}); err != nil {
		s.logger.Warn("failed to persist session snapshot", "error", err)
	}
}

// clearLocked drops all session state: credentials, user, snapshot,
// refresh loop. Caller holds s.mu.
func (s *Store) clearLocked() {
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
		s.loopDone = nil
	}
	s.credentials = Credentials{}
	s.user = nil
	s.authFailures = 0
	if err := s.snapshots.Clear(); err != nil {
		s.logger.Warn("failed to clear session snapshot", "error", err)
	}
	s.setStateLocked(StateUnauthenticated)
}

// setStateLocked records a transition and notifies watchers. A
// background refresh that re-confirms the same user is not a
// transition and is not announced. Sends are non-blocking: a full
// watcher channel loses transitions by the consumer's inaction, not
// ours.
func (s *Store) setStateLocked(state State) {
	sameUser := state == s.state &&
		(state != StateAuthenticated || (s.user != nil && s.announcedUser == s.user.ID))
	if sameUser {
		return
	}
	s.state = state
	if state == StateAuthenticated && s.user != nil {
		s.announcedUser = s.user.ID
	} else {
		s.announcedUser = ""
	}
	change := Change{State: state}
	if state == StateAuthenticated && s.user != nil {
		user := *s.user
		change.User = &user
	}
	for _, ch := range s.watchers {
		select {
		case ch <- change:
		default:
			s.logger.Debug("session watcher channel full, dropping transition")
		}
	}
}

// startRefreshLoopLocked starts the background refresh goroutine if it
// is not already running. Caller holds s.mu.
func (s *Store) startRefreshLoopLocked(immediate bool) {
	if s.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.loopCancel = cancel
	s.loopDone = done
	go s.runRefreshLoop(ctx, done, immediate)
}

// runRefreshLoop refreshes on the configured cadence until cancelled.
func (s *Store) runRefreshLoop(ctx context.Context, done chan struct{}, immediate bool) {
	defer close(done)

	if immediate {
		s.refreshOnce(ctx)
	}

	ticker := s.clk.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.refreshOnce(ctx)
		}
	}
}

// refreshOnce performs one background refresh cycle and applies the
// auth-versus-transport policy:
//
//   - success: install the new credentials, counter back to zero.
//   - auth failure (401/403): one strike; at the threshold, the
//     session is cleared.
//   - transport failure: not evidence of anything. Counter back to
//     zero, wait for the next tick. No retry within a cycle.
func (s *Store) refreshOnce(ctx context.Context) {
	requestCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	response, err := s.client.Refresh(requestCtx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ctx.Err() != nil || s.state != StateAuthenticated {
		// The session ended while the request was in flight; whatever
		// came back must not resurrect it.
		return
	}

	if err == nil {
		s.applyAuthLocked(response)
		return
	}

	if httpx.IsAuthError(err) {
		s.authFailures++
		s.logger.Warn("session refresh rejected",
			"consecutive_failures", s.authFailures,
			"threshold", s.maxAuthFailures,
			"error", err,
		)
		if s.authFailures >= s.maxAuthFailures {
			s.logger.Warn("session expired after repeated refresh rejections, logging out")
			s.clearLocked()
		}
		return
	}

	// Transport failure: the backend is slow, cold, or unreachable.
	s.authFailures = 0
	s.logger.Debug("session refresh transport failure, will retry next cycle", "error", err)
}
