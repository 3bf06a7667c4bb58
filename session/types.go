// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "encoding/json"

// Role is a console role. The backend's legacy "admin" spelling is
// normalized to RoleSuperadmin at the decode boundary; no other code
// ever sees it.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleManager    Role = "manager"
	RoleCounsellor Role = "counsellor"
	RoleDirector   Role = "director"
)

// NormalizeRole maps a server-reported role string to a Role. "admin"
// becomes RoleSuperadmin; anything else passes through unchanged.
func NormalizeRole(reported string) Role {
	if reported == "admin" {
		return RoleSuperadmin
	}
	return Role(reported)
}

// User is the identity attached to an authenticated session.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"name"`
	Role        Role   `json:"role"`

	// IsSupervisor is meaningful only for managers; it is carried for
	// all roles because the wire sends it unconditionally.
	IsSupervisor bool `json:"isSupervisor"`
}

// Credentials is the in-memory credential pair. It is never persisted:
// the access token is short-lived (~15 minutes) and the Store refreshes
// it proactively, so durable storage would only widen exposure.
type Credentials struct {
	AccessToken string
	CSRFToken   string
}

// State is the session lifecycle state.
type State int

const (
	// StateVerifying is the startup state: a restore attempt is in
	// flight and the outcome is unknown. Consumers must not treat this
	// as logged-out.
	StateVerifying State = iota

	// StateAuthenticated means credentials are held and believed valid.
	StateAuthenticated

	// StateUnauthenticated means there is no session: never logged in,
	// logged out, or forced out after repeated auth failures.
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// Change is delivered on Store.Watch whenever the session transitions.
// User is nil unless State is StateAuthenticated.
type Change struct {
	State State
	User  *User
}

// AuthResponse is the decoded body of a successful login or refresh
// call, normalized from the several shapes backends have shipped: the
// CSRF token arrives as either "csrfToken" or "csrf_token", and logins
// may nest the user fields under "user" instead of sending them flat.
// Normalizing here keeps shape tolerance out of everything downstream.
type AuthResponse struct {
	AccessToken  string
	Role         Role
	UserID       string
	Username     string
	Name         string
	IsSupervisor bool
	CSRFToken    string
}

// UnmarshalJSON decodes the wire shape and normalizes it. This is the
// single place where historical payload variants are tolerated.
func (r *AuthResponse) UnmarshalJSON(data []byte) error {
	var wire struct {
		AccessToken  string `json:"accessToken"`
		Role         string `json:"role"`
		UserID       string `json:"userId"`
		Username     string `json:"username"`
		Name         string `json:"name"`
		IsSupervisor bool   `json:"isSupervisor"`
		CSRFCamel    string `json:"csrfToken"`
		CSRFSnake    string `json:"csrf_token"`
		User         *struct {
			ID           string `json:"id"`
			Username     string `json:"username"`
			Name         string `json:"name"`
			IsSupervisor bool   `json:"isSupervisor"`
		} `json:"user"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	r.AccessToken = wire.AccessToken
	r.Role = NormalizeRole(wire.Role)
	r.UserID = wire.UserID
	r.Username = wire.Username
	r.Name = wire.Name
	r.IsSupervisor = wire.IsSupervisor
	r.CSRFToken = wire.CSRFCamel
	if r.CSRFToken == "" {
		r.CSRFToken = wire.CSRFSnake
	}
	if wire.User != nil {
		if r.UserID == "" {
			r.UserID = wire.User.ID
		}
		if r.Username == "" {
			r.Username = wire.User.Username
		}
		if r.Name == "" {
			r.Name = wire.User.Name
		}
		if !r.IsSupervisor {
			r.IsSupervisor = wire.User.IsSupervisor
		}
	}
	return nil
}

// User assembles the identity carried by this response.
func (r *AuthResponse) User() User {
	return User{
		ID:           r.UserID,
		Username:     r.Username,
		DisplayName:  r.Name,
		Role:         r.Role,
		IsSupervisor: r.IsSupervisor,
	}
}

// Credentials assembles the in-memory credential pair.
func (r *AuthResponse) Credentials() Credentials {
	return Credentials{AccessToken: r.AccessToken, CSRFToken: r.CSRFToken}
}
