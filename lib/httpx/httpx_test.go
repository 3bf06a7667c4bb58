// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
)

func TestNewStatusError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{
			name:        "envelope shape",
			status:      401,
			body:        `{"error": {"code": "TOKEN_EXPIRED", "message": "access token expired"}}`,
			wantCode:    "TOKEN_EXPIRED",
			wantMessage: "access token expired",
		},
		{
			name:        "legacy flat shape",
			status:      400,
			body:        `{"message": "duplicate invoice number"}`,
			wantMessage: "duplicate invoice number",
		},
		{
			name:        "non-JSON body",
			status:      502,
			body:        "Bad Gateway",
			wantMessage: "Bad Gateway",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := NewStatusError(test.status, []byte(test.body))
			if got.StatusCode != test.status {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, test.status)
			}
			if got.Code != test.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, test.wantCode)
			}
			if got.Message != test.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, test.wantMessage)
			}
		})
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantAuth      bool
		wantTransport bool
	}{
		{"nil", nil, false, false},
		{"401", &StatusError{StatusCode: http.StatusUnauthorized}, true, false},
		{"403", &StatusError{StatusCode: http.StatusForbidden}, true, false},
		{"wrapped 401", fmt.Errorf("refresh: %w", &StatusError{StatusCode: 401}), true, false},
		{"404", &StatusError{StatusCode: http.StatusNotFound}, false, true},
		{"500", &StatusError{StatusCode: http.StatusInternalServerError}, false, true},
		{"503", &StatusError{StatusCode: http.StatusServiceUnavailable}, false, true},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, false, true},
		{"timeout", context.DeadlineExceeded, false, true},
		{"plain error", errors.New("EOF"), false, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsAuthError(test.err); got != test.wantAuth {
				t.Errorf("IsAuthError = %v, want %v", got, test.wantAuth)
			}
			if got := IsTransportError(test.err); got != test.wantTransport {
				t.Errorf("IsTransportError = %v, want %v", got, test.wantTransport)
			}
		})
	}
}

func TestReadBodyBounded(t *testing.T) {
	data, err := ReadBody(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadBody = %q", data)
	}
}

func TestDecodeBody(t *testing.T) {
	var decoded struct {
		Name string `json:"name"`
	}
	if err := DecodeBody(strings.NewReader(`{"name": "praxis"}`), &decoded); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if decoded.Name != "praxis" {
		t.Errorf("Name = %q, want praxis", decoded.Name)
	}
}
