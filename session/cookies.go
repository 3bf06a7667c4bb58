// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// cookieFileName is where the backend host's cookies live in the state
// directory, next to the user snapshot.
const cookieFileName = "cookies.json"

// storedCookie is the on-disk form of one cookie. Only the attributes
// needed to replay the cookie into a fresh jar are kept.
type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// PersistentJar is an http.CookieJar that writes the backend host's
// cookies to the state directory. The refresh endpoint authenticates
// with an HTTP-only cookie set at login; an in-memory jar would lose it
// when the process exits, and every later invocation would need an
// interactive login instead of a silent resume.
//
// Cookies for hosts other than the backend pass through to the wrapped
// in-memory jar and are never persisted. Cookies without an expiry are
// persisted too: the refresh cookie is the reason this jar exists,
// whether or not the backend stamps it with a Max-Age.
type PersistentJar struct {
	inner *cookiejar.Jar
	base  *url.URL
	path  string

	mu     sync.Mutex
	stored map[string]storedCookie

	logger *slog.Logger
}

// NewPersistentJar creates a jar rooted at stateDir for the host of
// baseURL, loading any cookies a previous process left behind. Expired
// cookies are dropped at load time.
func NewPersistentJar(stateDir, baseURL string, logger *slog.Logger) (*PersistentJar, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("session: invalid base URL %q: %w", baseURL, err)
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("session: creating state directory: %w", err)
	}
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("session: creating cookie jar: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	jar := &PersistentJar{
		inner:  inner,
		base:   base,
		path:   filepath.Join(stateDir, cookieFileName),
		stored: make(map[string]storedCookie),
		logger: logger,
	}
	if err := jar.load(); err != nil {
		return nil, err
	}
	return jar, nil
}

// load reads the cookie file and seeds the in-memory jar. A missing
// file is not an error; a corrupt one is discarded with a warning so a
// bad write can never lock the user out of logging in again.
func (j *PersistentJar) load() error {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("session: reading cookies: %w", err)
	}
	var cookies []storedCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		j.logger.Warn("discarding corrupt cookie file", "path", j.path, "error", err)
		return nil
	}

	now := time.Now()
	var live []*http.Cookie
	for _, cookie := range cookies {
		if !cookie.Expires.IsZero() && cookie.Expires.Before(now) {
			continue
		}
		j.stored[cookie.Name] = cookie
		live = append(live, &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Expires:  cookie.Expires,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HTTPOnly,
		})
	}
	if len(live) > 0 {
		j.inner.SetCookies(j.base, live)
	}
	return nil
}

// SetCookies stores cookies from a response. Cookies for the backend
// host are additionally written to disk; a cookie the server expires
// (Max-Age zero or negative, or an Expires in the past) is removed from
// disk, which is how logout clears the persisted session.
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)
	if u.Hostname() != j.base.Hostname() {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	for _, cookie := range cookies {
		expires := cookie.Expires
		if cookie.MaxAge > 0 {
			expires = now.Add(time.Duration(cookie.MaxAge) * time.Second)
		}
		expired := cookie.MaxAge < 0 || (!expires.IsZero() && expires.Before(now))
		if expired {
			delete(j.stored, cookie.Name)
			continue
		}
		j.stored[cookie.Name] = storedCookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Expires:  expires,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HttpOnly,
		}
	}
	if err := j.persistLocked(); err != nil {
		// SetCookies has no error return. The in-memory jar is still
		// correct for this process; only the next one suffers.
		j.logger.Warn("persisting cookies failed", "path", j.path, "error", err)
	}
}

// Cookies returns the cookies to send with a request to u.
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// persistLocked atomically writes the cookie file with owner-only
// permissions. Caller holds j.mu.
func (j *PersistentJar) persistLocked() error {
	cookies := make([]storedCookie, 0, len(j.stored))
	for _, cookie := range j.stored {
		cookies = append(cookies, cookie)
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cookies: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := j.path + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0600); err != nil {
		return fmt.Errorf("writing cookies: %w", err)
	}
	if err := os.Rename(temporaryPath, j.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming cookies into place: %w", err)
	}
	return nil
}
