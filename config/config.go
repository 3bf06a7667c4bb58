// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the consolesync CLI configuration from a single
// YAML file. The file is named explicitly (flag or CONSOLESYNC_CONFIG);
// there are no search paths and no hidden fallbacks. Unknown fields are
// rejected so typos fail loudly instead of silently using defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file when no flag is given.
const EnvConfigPath = "CONSOLESYNC_CONFIG"

// ServerConfig locates the console backend.
type ServerConfig struct {
	// BaseURL is the HTTP API origin, e.g. "https://api.praxis.example".
	BaseURL string `yaml:"base_url"`
	// SocketURL is the websocket endpoint, e.g. "wss://api.praxis.example/socket".
	SocketURL string `yaml:"socket_url"`
}

// StateConfig locates local persistent state (the session snapshot).
type StateConfig struct {
	// Dir is the state directory. ${VAR} references are expanded.
	Dir string `yaml:"dir"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `yaml:"level"`
}

// Overlay is a partial configuration applied on top of the base for one
// named environment. Absent sections and empty fields leave the base
// untouched.
type Overlay struct {
	Server *ServerConfig `yaml:"server,omitempty"`
	State  *StateConfig  `yaml:"state,omitempty"`
	Log    *LogConfig    `yaml:"log,omitempty"`
}

// Config is the full consolesync configuration.
type Config struct {
	// Environment selects which overlay from Environments applies.
	// Empty means the base configuration as written.
	Environment string `yaml:"environment,omitempty"`

	Server ServerConfig `yaml:"server"`
	State  StateConfig  `yaml:"state"`
	Log    LogConfig    `yaml:"log,omitempty"`

	Environments map[string]Overlay `yaml:"environments,omitempty"`
}

// Load reads the file named by CONSOLESYNC_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return nil, fmt.Errorf("config: %s is not set and no --config flag was given", EnvConfigPath)
	}
	return LoadFile(path)
}

// LoadFile reads, overlays, expands, and validates the configuration
// at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return config, nil
}

// Parse decodes raw YAML into a validated Config.
func Parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var config Config
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	if config.Environment != "" {
		overlay, ok := config.Environments[config.Environment]
		if !ok {
			return nil, fmt.Errorf("environment %q has no overlay", config.Environment)
		}
		config.apply(overlay)
	}
	config.State.Dir = os.ExpandEnv(config.State.Dir)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) apply(overlay Overlay) {
	if overlay.Server != nil {
		if overlay.Server.BaseURL != "" {
			c.Server.BaseURL = overlay.Server.BaseURL
		}
		if overlay.Server.SocketURL != "" {
			c.Server.SocketURL = overlay.Server.SocketURL
		}
	}
	if overlay.State != nil && overlay.State.Dir != "" {
		c.State.Dir = overlay.State.Dir
	}
	if overlay.Log != nil && overlay.Log.Level != "" {
		c.Log.Level = overlay.Log.Level
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []error
	if c.Server.BaseURL == "" {
		problems = append(problems, errors.New("server.base_url is required"))
	} else if u, err := url.Parse(c.Server.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		problems = append(problems, fmt.Errorf("server.base_url %q must be an http(s) URL", c.Server.BaseURL))
	}
	if c.Server.SocketURL == "" {
		problems = append(problems, errors.New("server.socket_url is required"))
	} else if u, err := url.Parse(c.Server.SocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		problems = append(problems, fmt.Errorf("server.socket_url %q must be a ws(s) URL", c.Server.SocketURL))
	}
	if c.State.Dir == "" {
		problems = append(problems, errors.New("state.dir is required"))
	}
	if _, err := c.LogLevel(); err != nil {
		problems = append(problems, err)
	}
	return errors.Join(problems...)
}

// LogLevel maps the configured level name to a slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch c.Log.Level {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
}
