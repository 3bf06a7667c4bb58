// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpx provides HTTP response plumbing shared by the session
// layer: bounded body reads, the console API's structured error shape,
// and the auth-versus-transport error classification that the session
// refresh policy is built on.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodySize bounds API response body reads: 64 MB. Real console API
// responses are orders of magnitude smaller; the bound only exists so a
// misbehaving server cannot exhaust memory.
const MaxBodySize int64 = 64 << 20

// ReadBody reads a JSON API response body up to MaxBodySize. Use
// instead of io.ReadAll on HTTP response bodies.
func ReadBody(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxBodySize))
}

// DecodeBody reads a response body (bounded at MaxBodySize) and
// JSON-decodes it into v.
func DecodeBody(body io.Reader, v any) error {
	data, err := ReadBody(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// StatusError is a non-2xx response from the console API. Callers
// extract it with errors.As to read the status and the server's error
// code.
type StatusError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Code is the machine-readable error code, when the server sent one.
	Code string
	// Message is the human-readable description from the server.
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// errorBody is the server's error envelope. Current backends send
// {"error": {"code", "message"}}; older ones send a flat {"message"}.
// Both are normalized here, at the boundary, so nothing downstream
// needs to tolerate multiple shapes.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// NewStatusError builds a StatusError from a non-2xx response body.
// A body that is not the expected JSON envelope still produces a usable
// error carrying the status code and the raw body as the message.
func NewStatusError(statusCode int, body []byte) *StatusError {
	var envelope errorBody
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &StatusError{StatusCode: statusCode, Message: string(body)}
	}
	message := envelope.Error.Message
	if message == "" {
		message = envelope.Message
	}
	return &StatusError{
		StatusCode: statusCode,
		Code:       envelope.Error.Code,
		Message:    message,
	}
}

// IsAuthError reports whether err is a StatusError with HTTP status 401
// or 403, the only failures that are evidence the session itself is
// invalid.
func IsAuthError(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized ||
		statusErr.StatusCode == http.StatusForbidden
}

// IsTransportError reports whether err is a failure that says nothing
// about session validity: no HTTP response at all (refused, reset,
// timeout, DNS), or any status outside {401, 403}. Transport errors
// are expected from a slow or cold backend and never accumulate toward
// a forced logout.
func IsTransportError(err error) bool {
	return err != nil && !IsAuthError(err)
}
