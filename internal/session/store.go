// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/util"
)

// Store loads and persists session state.
type Store interface {
	// Load returns the session's state, or an empty state on first access.
	Load(ctx context.Context, sessionID string) (*State, error)

	// Persist writes state durably and marks it clean.
	Persist(ctx context.Context, sessionID string, state *State) error

	// Reset discards everything stored for the session.
	Reset(ctx context.Context, sessionID string) error

	Close() error
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ErrInvalidSessionID is returned for IDs that are empty or unsafe.
var ErrInvalidSessionID = errors.New("invalid session ID")

// ValidateID checks that id is usable as a key and a file name.
func ValidateID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON document per session in Dir.
type FileStore struct {
	Dir string
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, sessionID string) (*State, error) {
	if err := ValidateID(sessionID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return FromSnapshot(snap), nil
}

// Persist implements Store.
func (s *FileStore) Persist(_ context.Context, sessionID string, state *State) error {
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sessionID, err)
	}
	if err := util.AtomicWriteFile(s.path(sessionID), data, 0600); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", sessionID, err)
	}
	state.MarkClean()
	return nil
}

// Reset implements Store.
func (s *FileStore) Reset(_ context.Context, sessionID string) error {
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	if err := os.Remove(s.path(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to reset session %s: %w", sessionID, err)
	}
	return nil
}

// Sessions lists the IDs with persisted state.
func (s *FileStore) Sessions(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() || ValidateID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.Dir, sessionID+".json")
}
