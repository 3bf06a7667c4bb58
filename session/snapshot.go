// Copyright 2026 The Consolesync Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the denormalized user record persisted between runs so
// the UI can paint a plausible identity before verification completes.
// Advisory only: the Store always re-verifies against the backend and
// discards the snapshot on any disagreement.
type Snapshot struct {
	User    User      `json:"user"`
	SavedAt time.Time `json:"saved_at"`
}

// SnapshotStore persists the advisory user snapshot. Load returns
// (nil, nil) when no snapshot exists.
type SnapshotStore interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
	Clear() error
}

// snapshotFileName is the single key under which the snapshot lives,
// matching the browser client's local-storage key.
const snapshotFileName = "auth_user.json"

// FileSnapshotStore keeps the snapshot as a JSON file in a state
// directory, written atomically (temporary file, then rename) so a
// crash mid-write never leaves a corrupt snapshot behind.
type FileSnapshotStore struct {
	path string
}

// NewFileSnapshotStore creates a store rooted at stateDir, creating the
// directory if needed.
func NewFileSnapshotStore(stateDir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("session: creating state directory: %w", err)
	}
	return &FileSnapshotStore{path: filepath.Join(stateDir, snapshotFileName)}, nil
}

// Load reads the snapshot. A missing file is not an error.
func (s *FileSnapshotStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: reading snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("session: parsing snapshot %s: %w", s.path, err)
	}
	return &snapshot, nil
}

// Save atomically writes the snapshot with owner-only permissions.
func (s *FileSnapshotStore) Save(snapshot *Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshaling snapshot: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := s.path + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0600); err != nil {
		return fmt.Errorf("session: writing snapshot: %w", err)
	}
	if err := os.Rename(temporaryPath, s.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("session: renaming snapshot into place: %w", err)
	}
	return nil
}

// Clear removes the snapshot. Idempotent.
func (s *FileSnapshotStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: removing snapshot: %w", err)
	}
	return nil
}

// timestampLikeID reports whether id looks like a raw millisecond
// timestamp (13+ digits, all numeric). A historical bug generated user
// IDs from clock values; snapshots carrying one are discarded before
// anything trusts them.
func timestampLikeID(id string) bool {
	if len(id) < 13 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
