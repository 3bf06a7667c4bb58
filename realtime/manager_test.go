// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/praxis-advisory/consolesync/lib/clock"
	"github.com/praxis-advisory/consolesync/lib/testutil"
	"github.com/praxis-advisory/consolesync/session"
)

// pushServer is the console backend's socket endpoint for tests: it
// accepts upgrades, funnels every client frame into a channel, and can
// push frames the other way.
type pushServer struct {
	t      *testing.T
	server *httptest.Server
	frames chan Frame

	mu      sync.Mutex
	sockets []*websocket.Conn
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	p := &pushServer{t: t, frames: make(chan Frame, 64)}
	upgrader := websocket.Upgrader{}
	p.server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		socket, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.sockets = append(p.sockets, socket)
		p.mu.Unlock()
		for {
			var frame Frame
			if err := socket.ReadJSON(&frame); err != nil {
				return
			}
			p.frames <- frame
		}
	}))
	t.Cleanup(func() {
		p.dropAll()
		p.server.Close()
	})
	return p
}

func (p *pushServer) url() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http")
}

// push sends a frame to the most recently connected client.
func (p *pushServer) push(t *testing.T, frame Frame) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sockets) == 0 {
		t.Fatal("push: no connected client")
	}
	socket := p.sockets[len(p.sockets)-1]
	if err := socket.WriteJSON(frame); err != nil {
		t.Fatalf("push: %v", err)
	}
}

// dropAll closes every server-side socket, simulating a network cut.
func (p *pushServer) dropAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, socket := range p.sockets {
		socket.Close()
	}
	p.sockets = nil
}

func (p *pushServer) expectFrames(t *testing.T, n int) []Frame {
	t.Helper()
	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, testutil.Receive(t, p.frames, 5*time.Second, "client frame"))
	}
	return frames
}

func (p *pushServer) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case frame := <-p.frames:
		t.Fatalf("unexpected frame: %+v", frame)
	case <-time.After(200 * time.Millisecond):
	}
}

// newAuthenticatedStore builds a session store already resumed against
// a stub backend reporting the given identity.
func newAuthenticatedStore(t *testing.T, role, userID string, isSupervisor bool) *session.Store {
	t.Helper()
	supervisor := "false"
	if isSupervisor {
		supervisor = "true"
	}
	backend := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Write([]byte(`{
			"accessToken": "token-` + userID + `",
			"role": "` + role + `",
			"userId": "` + userID + `",
			"username": "u` + userID + `",
			"name": "User ` + userID + `",
			"isSupervisor": ` + supervisor + `,
			"csrfToken": "csrf"
		}`))
	}))
	t.Cleanup(backend.Close)

	client, err := session.NewClient(session.ClientConfig{BaseURL: backend.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	snapshots, err := session.NewFileSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSnapshotStore: %v", err)
	}
	store := session.NewStore(session.StoreConfig{
		Client:    client,
		Snapshots: snapshots,
		Clock:     clock.Fake(time.Now()),
	})
	t.Cleanup(store.Close)
	if err := store.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if store.State() != session.StateAuthenticated {
		t.Fatal("stub backend did not authenticate")
	}
	return store
}

func startManager(t *testing.T, config ManagerConfig) *Manager {
	t.Helper()
	manager := NewManager(config)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		manager.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return manager
}

func waitConnected(t *testing.T, manager *Manager) {
	t.Helper()
	testutil.Eventually(t, 5*time.Second, func() bool {
		return manager.State() == StateConnected
	}, "manager connected")
}

func TestManagerJoinsCounsellorRooms(t *testing.T) {
	server := newPushServer(t)
	store := newAuthenticatedStore(t, "counsellor", "17", false)
	manager := startManager(t, ManagerConfig{
		SocketURL: server.url(),
		Session:   store,
		Clock:     clock.Fake(time.Now()),
	})
	waitConnected(t, manager)

	frames := server.expectFrames(t, 3)
	wantEvents := []string{EventJoinCounsellor, EventJoinRole, EventJoinUser}
	for i, want := range wantEvents {
		if frames[i].Event != want {
			t.Errorf("frame %d = %q, want %q", i, frames[i].Event, want)
		}
	}
	if string(frames[0].Data) != `"17"` {
		t.Errorf("counsellor join payload = %s", frames[0].Data)
	}
	if string(frames[1].Data) != `"counsellor"` {
		t.Errorf("role join payload = %s", frames[1].Data)
	}
}

func TestManagerJoinsManagerRoomsWithLegacyDashboardAlias(t *testing.T) {
	server := newPushServer(t)
	store := newAuthenticatedStore(t, "manager", "5", true)
	manager := startManager(t, ManagerConfig{
		SocketURL: server.url(),
		Session:   store,
		Clock:     clock.Fake(time.Now()),
	})
	waitConnected(t, manager)

	frames := server.expectFrames(t, 5)
	wantEvents := []string{
		EventJoinAdmin,
		EventJoinAdminDashboard,
		EventJoinDashboard,
		EventJoinUser,
		EventJoinRole,
	}
	for i, want := range wantEvents {
		if frames[i].Event != want {
			t.Errorf("frame %d = %q, want %q", i, frames[i].Event, want)
		}
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		return len(manager.Rooms()) == 4
	}, "membership bookkeeping")
}

func TestRoleJoinRetryStopsOnConfirmation(t *testing.T) {
	server := newPushServer(t)
	store := newAuthenticatedStore(t, "counsellor", "17", false)
	clk := clock.Fake(time.Now())
	manager := startManager(t, ManagerConfig{
		SocketURL:    server.url(),
		Session:      store,
		Clock:        clk,
		SweepOffsets: []time.Duration{}, // isolate the role retry machine
	})
	waitConnected(t, manager)
	server.expectFrames(t, 3) // initial joins

	// First retry at +300ms: the role room is unconfirmed, so the join
	// is re-sent.
	clk.BlockUntil(1)
	clk.Advance(300 * time.Millisecond)
	retry := testutil.Receive(t, server.frames, 5*time.Second, "role re-join")
	if retry.Event != EventJoinRole {
		t.Fatalf("retry frame = %q, want %q", retry.Event, EventJoinRole)
	}

	server.push(t, Frame{Event: EventJoinedRole, Data: []byte(`"role:counsellor"`)})
	testutil.Eventually(t, 5*time.Second, func() bool {
		manager.mu.Lock()
		defer manager.mu.Unlock()
		return manager.roleConfirmed
	}, "confirmation recorded")

	// Second retry slot comes and goes without a send.
	clk.Advance(2 * time.Second)
	server.expectNoFrame(t)
}

func TestRoleJoinRetryExhaustsAtConfiguredAttempts(t *testing.T) {
	server := newPushServer(t)
	store := newAuthenticatedStore(t, "counsellor", "17", false)
	clk := clock.Fake(time.Now())
	manager := startManager(t, ManagerConfig{
		SocketURL:    server.url(),
		Session:      store,
		Clock:        clk,
		SweepOffsets: []time.Duration{},
	})
	waitConnected(t, manager)
	server.expectFrames(t, 3)

	// Never confirm: retries at +300ms, +2s, +2s, then nothing.
	for i := 0; i < 3; i++ {
		clk.BlockUntil(1)
		if i == 0 {
			clk.Advance(300 * time.Millisecond)
		} else {
			clk.Advance(2 * time.Second)
		}
		frame := testutil.Receive(t, server.frames, 5*time.Second, "role re-join")
		if frame.Event != EventJoinRole {
			t.Fatalf("retry %d = %q", i+1, frame.Event)
		}
	}
	clk.Advance(time.Minute)
	server.expectNoFrame(t)
}

func TestEnsureJoinedSweepRejoinsEverything(t *testing.T) {
	server := newPushServer(t)
	store := newAuthenticatedStore(t, "superadmin", "1", false)
	clk := clock.Fake(time.Now())
	manager := startManager(t, ManagerConfig{
		SocketURL:    server.url(),
		Session:      store,
		Clock:        clk,
		SweepOffsets: []time.Duration{500 * time.Millisecond},
	})
	waitConnected(t, manager)
	initial := server.expectFrames(t, 4) // admin, admin:dashboard, dashboard alias, user

	clk.BlockUntil(1)
	clk.Advance(500 * time.Millisecond)
	swept := server.expectFrames(t, 4)
	for i := range initial {
		if swept[i].Event != initial[i].Event {
			t.Errorf("sweep frame %d = %q, want %q", i, swept[i].Event, initial[i].Event)
		}
	}

	// Joins are idempotent in our bookkeeping too: still exactly three
	// rooms held after the sweep.
	testutil.Eventually(t, 5*time.Second, func() bool {
		return len(manager.Rooms()) == 3
	}, "idempotent membership")
}

func TestReconnectRederivesRoomsFromScratch(t *testing.T) {
	server := newPushServer(t)
	store := newAuthenticatedStore(t, "counsellor", "17", false)
	manager := startManager(t, ManagerConfig{
		SocketURL: server.url(),
		Session:   store,
		Clock:     clock.Fake(time.Now()),
	})
	waitConnected(t, manager)
	server.expectFrames(t, 3)

	server.dropAll()

	// The manager redials immediately; the new connection re-derives
	// and re-joins the full set. A fresh membership epoch.
	frames := server.expectFrames(t, 3)
	wantEvents := []string{EventJoinCounsellor, EventJoinRole, EventJoinUser}
	for i, want := range wantEvents {
		if frames[i].Event != want {
			t.Errorf("rejoin frame %d = %q, want %q", i, frames[i].Event, want)
		}
	}
	if manager.State() != StateConnected {
		t.Errorf("state = %v after reconnect", manager.State())
	}
}

func TestReconnectExhaustionEntersErrorState(t *testing.T) {
	dialer := &failingDialer{}
	store := newAuthenticatedStore(t, "manager", "5", false)
	clk := clock.Fake(time.Now())
	manager := startManager(t, ManagerConfig{
		SocketURL:  "ws://unreachable.invalid/socket",
		Session:    store,
		Dialer:     dialer,
		Clock:      clk,
		BackoffCap: 3 * time.Second,
	})

	// Five attempts with capped linear spacing: waits of 1s, 2s, 3s,
	// 3s between them.
	for _, wait := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second} {
		clk.BlockUntil(1)
		clk.Advance(wait)
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		return manager.State() == StateError
	}, "error state after exhaustion")
	if got := dialer.count(); got != 5 {
		t.Errorf("dial attempts = %d, want 5", got)
	}

	// The session is untouched: authenticated but realtime-degraded.
	if store.State() != session.StateAuthenticated {
		t.Errorf("session state = %v, want authenticated", store.State())
	}
}

func TestLogoutLeavesJoinedRoomsAndDisconnects(t *testing.T) {
	server := newPushServer(t)
	store := newAuthenticatedStore(t, "manager", "5", false)
	manager := startManager(t, ManagerConfig{
		SocketURL: server.url(),
		Session:   store,
		Clock:     clock.Fake(time.Now()),
	})
	waitConnected(t, manager)
	server.expectFrames(t, 5)
	testutil.Eventually(t, 5*time.Second, func() bool {
		return len(manager.Rooms()) == 4
	}, "membership bookkeeping")

	store.Logout(context.Background())

	// Only rooms with a leave event get one: admin and admin:dashboard.
	// The user and role rooms end with the socket.
	got := map[string]bool{}
	for _, frame := range server.expectFrames(t, 2) {
		got[frame.Event] = true
	}
	if !got[EventLeaveAdmin] || !got[EventLeaveAdminDashboard] {
		t.Errorf("leave frames = %v, want admin and admin:dashboard", got)
	}
	server.expectNoFrame(t)

	testutil.Eventually(t, 5*time.Second, func() bool {
		return manager.State() == StateDisconnected
	}, "disconnected after logout")
}

func TestPushEventsReachDispatcher(t *testing.T) {
	server := newPushServer(t)
	store := newAuthenticatedStore(t, "superadmin", "1", false)
	manager := startManager(t, ManagerConfig{
		SocketURL: server.url(),
		Session:   store,
		Clock:     clock.Fake(time.Now()),
	})
	waitConnected(t, manager)
	server.expectFrames(t, 4)

	received := make(chan string, 1)
	manager.Dispatcher().Subscribe(EventClientUpdated, func(data json.RawMessage) {
		received <- string(data)
	})
	server.push(t, Frame{Event: EventClientUpdated, Data: []byte(`{"clientId":"7"}`)})

	payload := testutil.Receive(t, received, 5*time.Second, "dispatched payload")
	if payload != `{"clientId":"7"}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestStaleTimerNeverFiresIntoNewGeneration(t *testing.T) {
	clk := clock.Fake(time.Now())
	manager := NewManager(ManagerConfig{SocketURL: "ws://x.invalid", Clock: clk})

	fired := false
	manager.afterFunc(manager.generation, time.Second, func() { fired = true })

	// Turn the connection over before the timer is due.
	manager.mu.Lock()
	manager.dropConnLocked()
	manager.mu.Unlock()

	clk.Advance(time.Second)
	if fired {
		t.Error("timer from a retired generation fired")
	}
}

type failingDialer struct {
	mu       sync.Mutex
	attempts int
}

func (d *failingDialer) DialContext(ctx context.Context, socketURL, accessToken string) (*Conn, error) {
	d.mu.Lock()
	d.attempts++
	d.mu.Unlock()
	return nil, errors.New("dial refused")
}

func (d *failingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}
