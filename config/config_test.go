// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
server:
  base_url: https://api.praxis.example
  socket_url: wss://api.praxis.example/socket
state:
  dir: /var/lib/consolesync
log:
  level: debug
`

func TestParseValid(t *testing.T) {
	config, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if config.Server.BaseURL != "https://api.praxis.example" {
		t.Errorf("base_url = %q", config.Server.BaseURL)
	}
	level, err := config.LogLevel()
	if err != nil {
		t.Fatalf("LogLevel: %v", err)
	}
	if level.String() != "DEBUG" {
		t.Errorf("level = %v", level)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(validConfig + "\nserver_url: oops\n"))
	if err == nil {
		t.Error("unknown field accepted")
	}
}

func TestEnvironmentOverlay(t *testing.T) {
	config, err := Parse([]byte(`
environment: development
server:
  base_url: https://api.praxis.example
  socket_url: wss://api.praxis.example/socket
state:
  dir: /var/lib/consolesync
environments:
  development:
    server:
      base_url: http://localhost:4000
      socket_url: ws://localhost:4000/socket
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if config.Server.BaseURL != "http://localhost:4000" {
		t.Errorf("base_url = %q, want the development override", config.Server.BaseURL)
	}
	// Fields the overlay does not name keep their base values.
	if config.State.Dir != "/var/lib/consolesync" {
		t.Errorf("state.dir = %q, want base value", config.State.Dir)
	}
}

func TestEnvironmentWithoutOverlayFails(t *testing.T) {
	_, err := Parse([]byte(`
environment: staging
server:
  base_url: https://api.praxis.example
  socket_url: wss://api.praxis.example/socket
state:
  dir: /var/lib/consolesync
`))
	if err == nil || !strings.Contains(err.Error(), "staging") {
		t.Errorf("err = %v, want missing-overlay failure naming the environment", err)
	}
}

func TestStateDirExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("CONSOLESYNC_TEST_HOME", "/home/ana")
	config, err := Parse([]byte(`
server:
  base_url: https://api.praxis.example
  socket_url: wss://api.praxis.example/socket
state:
  dir: ${CONSOLESYNC_TEST_HOME}/.consolesync
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if config.State.Dir != "/home/ana/.consolesync" {
		t.Errorf("state.dir = %q", config.State.Dir)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
server:
  base_url: ftp://wrong
  socket_url: ""
state:
  dir: ""
log:
  level: loud
`))
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"base_url", "socket_url", "state.dir", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolesync.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if config.Server.SocketURL != "wss://api.praxis.example/socket" {
		t.Errorf("socket_url = %q", config.Server.SocketURL)
	}
}

func TestLoadUsesEnvPointer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolesync.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(EnvConfigPath, path)
	if _, err := Load(); err != nil {
		t.Errorf("Load: %v", err)
	}

	t.Setenv(EnvConfigPath, "")
	if _, err := Load(); err == nil {
		t.Error("Load with no pointer succeeded")
	}
}
