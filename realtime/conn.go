// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// handshakeTimeout bounds the websocket upgrade itself; the
	// manager's backoff owns retry timing above this.
	handshakeTimeout = 15 * time.Second

	// writeTimeout bounds any single frame write. The socket is not a
	// bulk channel; a write that takes this long means the peer is gone.
	writeTimeout = 10 * time.Second

	// maxFrameSize bounds inbound frames. Push payloads are single
	// records or small lists; anything near this is a protocol fault.
	maxFrameSize = 4 << 20
)

// Conn is one live websocket connection. Reads belong to a single
// loop; writes are serialized internally, so joins, leaves, and retry
// timers may all send without coordinating.
type Conn struct {
	id     string
	socket *websocket.Conn

	writeMu sync.Mutex
}

// Dialer opens socket connections. The manager is written against this
// so tests can serve the other end from httptest.
type Dialer interface {
	DialContext(ctx context.Context, socketURL string, accessToken string) (*Conn, error)
}

// WebsocketDialer is the production Dialer.
type WebsocketDialer struct{}

// DialContext performs the websocket handshake. The access token rides
// both as a bearer header and as a token query parameter; the backend
// has accepted only the query form in some deployments.
func (WebsocketDialer) DialContext(ctx context.Context, socketURL string, accessToken string) (*Conn, error) {
	parsed, err := url.Parse(socketURL)
	if err != nil {
		return nil, fmt.Errorf("realtime: invalid socket URL %q: %w", socketURL, err)
	}
	if accessToken != "" {
		query := parsed.Query()
		query.Set("token", accessToken)
		parsed.RawQuery = query.Encode()
	}

	header := http.Header{}
	if accessToken != "" {
		header.Set("Authorization", "Bearer "+accessToken)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	socket, response, err := dialer.DialContext(ctx, parsed.String(), header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("realtime: socket handshake rejected with status %d: %w", response.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: socket dial: %w", err)
	}
	return NewConn(socket), nil
}

// NewConn wraps an established websocket with a fresh instance ID.
func NewConn(socket *websocket.Conn) *Conn {
	socket.SetReadLimit(maxFrameSize)
	return &Conn{id: uuid.NewString(), socket: socket}
}

// ID returns the connection instance ID. Everything scoped to one
// connection generation (timers, membership) is keyed by it.
func (c *Conn) ID() string {
	return c.id
}

// Send writes one frame. Safe for concurrent use.
func (c *Conn) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.socket.WriteJSON(frame); err != nil {
		return fmt.Errorf("realtime: sending %s: %w", frame.Event, err)
	}
	return nil
}

// ReadFrame blocks for the next inbound frame. Only one goroutine may
// read.
func (c *Conn) ReadFrame() (Frame, error) {
	var frame Frame
	if err := c.socket.ReadJSON(&frame); err != nil {
		return Frame{}, fmt.Errorf("realtime: reading frame: %w", err)
	}
	return frame, nil
}

// Close sends a close frame (best-effort) and tears the socket down.
// Unblocks any pending ReadFrame.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.socket.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.socket.Close()
}
