// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
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

// ErrPlanNotFound is returned when no stored plan matches.
var ErrPlanNotFound = errors.New("plan not found")

// Store persists plans.
type Store interface {
	// Save writes the current state of p.
	Save(p *Plan) error

	// Load reads a plan, searching live plans before archived ones.
	Load(sessionID, id string) (*Plan, error)

	// List returns a session's live and archived plans, oldest first.
	List(sessionID string) ([]*Plan, error)

	// Archive moves p out of the live set. Archived plans are kept.
	Archive(p *Plan) error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidID reports whether id is safe to use as a file name component.
func ValidID(id string) bool {
	return idPattern.MatchString(id) && id != "." && id != ".." && !strings.HasPrefix(id, ".")
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON document per plan:
//
//	<BaseDir>/live/<session>/<plan>.json
//	<BaseDir>/archive/<session>/<plan>.json
type FileStore struct {
	BaseDir string
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	for _, sub := range []string{"live", "archive"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create plan directory: %w", err)
		}
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// Save writes p atomically.
func (s *FileStore) Save(p *Plan) error {
	path, err := s.path("live", p.SessionID, p.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save plan %s: %w", p.ID, err)
	}
	return nil
}

// Load reads a plan by session and ID.
func (s *FileStore) Load(sessionID, id string) (*Plan, error) {
	for _, area := range []string{"live", "archive"} {
		path, err := s.path(area, sessionID, id)
		if err != nil {
			return nil, err
		}
		p, err := readPlan(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return p, err
	}
	return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
}

// List returns every plan of a session ordered by creation time.
func (s *FileStore) List(sessionID string) ([]*Plan, error) {
	if !ValidID(sessionID) {
		return nil, fmt.Errorf("invalid session ID %q", sessionID)
	}

	var plans []*Plan
	for _, area := range []string{"live", "archive"} {
		dir := filepath.Join(s.BaseDir, area, sessionID)
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			p, err := readPlan(filepath.Join(dir, e.Name()))
			if err != nil {
				// Skip corrupt documents rather than hiding the whole history.
				continue
			}
			plans = append(plans, p)
		}
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].CreatedAt.Before(plans[j].CreatedAt)
	})
	return plans, nil
}

// Archive saves p into the archive area and removes the live copy.
func (s *FileStore) Archive(p *Plan) error {
	dst, err := s.path("archive", p.SessionID, p.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := util.AtomicWriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("failed to archive plan %s: %w", p.ID, err)
	}

	src, _ := s.path("live", p.SessionID, p.ID)
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove live plan %s: %w", p.ID, err)
	}
	return nil
}

func (s *FileStore) path(area, sessionID, id string) (string, error) {
	if !ValidID(sessionID) {
		return "", fmt.Errorf("invalid session ID %q", sessionID)
	}
	if !ValidID(id) {
		return "", fmt.Errorf("invalid plan ID %q", id)
	}
	return filepath.Join(s.BaseDir, area, sessionID, id+".json"), nil
}

func readPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return &p, nil
}
