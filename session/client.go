// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/praxis-advisory/consolesync/lib/httpx"
)

// defaultRequestTimeout bounds every session API call. Generous on
// purpose: the backend cold-starts and a refresh against a waking
// instance can legitimately take tens of seconds.
const defaultRequestTimeout = 30 * time.Second

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the console backend base URL (e.g. "https://api.praxis.example").
	BaseURL string

	// HTTPClient is used for all requests. If nil, a client with a
	// 30-second timeout and the configured Jar is created. The jar
	// matters: the refresh endpoint authenticates with an HTTP-only
	// cookie set at login.
	HTTPClient *http.Client

	// Jar supplies cookie storage when HTTPClient is nil. Pass a
	// PersistentJar so the refresh cookie survives process restarts;
	// nil falls back to an in-memory jar that lasts only as long as
	// the process, after which resuming requires a fresh login.
	Jar http.CookieJar

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client talks to the console backend's session endpoints. It holds no
// identity state of its own; the Store owns that.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a session API client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("session: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("session: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		jar := config.Jar
		if jar == nil {
			memoryJar, err := cookiejar.New(nil)
			if err != nil {
				return nil, fmt.Errorf("session: creating cookie jar: %w", err)
			}
			jar = memoryJar
		}
		httpClient = &http.Client{
			Timeout: defaultRequestTimeout,
			Jar:     jar,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections drops pooled connections. Call after a network
// disruption so the next request opens a fresh socket instead of
// reusing a poisoned one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// loginRequest is the wire body for POST /api/users/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates with email and password. Unlike refresh, a login
// failure is surfaced immediately to the caller; there is no
// three-strikes leniency on an interactive login attempt.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	if email == "" {
		return nil, fmt.Errorf("session: email is required for login")
	}
	if password == "" {
		return nil, fmt.Errorf("session: password is required for login")
	}

	body, err := c.doRequest(ctx, "/api/users/login", loginRequest{Email: email, Password: password}, Credentials{})
	if err != nil {
		return nil, fmt.Errorf("session: login failed: %w", err)
	}

	var response AuthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("session: failed to parse login response: %w", err)
	}

	c.logger.Info("logged in to console",
		"user_id", response.UserID,
		"role", response.Role,
	)
	return &response, nil
}

// Refresh exchanges the HTTP-only refresh cookie for a fresh access
// token. Used both for silent session restoration at startup and for
// the background refresh cadence.
func (c *Client) Refresh(ctx context.Context) (*AuthResponse, error) {
	body, err := c.doRequest(ctx, "/api/users/refresh", nil, Credentials{})
	if err != nil {
		return nil, fmt.Errorf("session: refresh failed: %w", err)
	}

	var response AuthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("session: failed to parse refresh response: %w", err)
	}
	return &response, nil
}

// Logout notifies the backend that the session is ending. Best-effort
// from the client's perspective: the caller clears local state whether
// or not this call succeeds.
func (c *Client) Logout(ctx context.Context, credentials Credentials) error {
	if _, err := c.doRequest(ctx, "/api/users/logout", nil, credentials); err != nil {
		return fmt.Errorf("session: logout notification failed: %w", err)
	}
	return nil
}

// doRequest POSTs to a session endpoint and returns the response body.
// Non-2xx responses come back as a *httpx.StatusError so callers can
// classify auth versus transport failures.
func (c *Client) doRequest(ctx context.Context, path string, requestBody any, credentials Credentials) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if credentials.AccessToken != "" {
		request.Header.Set("Authorization", "Bearer "+credentials.AccessToken)
	}
	if credentials.CSRFToken != "" {
		request.Header.Set("X-CSRF-Token", credentials.CSRFToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s: %w", path, err)
	}
	defer response.Body.Close()

	responseBody, err := httpx.ReadBody(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", path, err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}
	return nil, httpx.NewStatusError(response.StatusCode, responseBody)
}
