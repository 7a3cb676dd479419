// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Scope selects which index an entry lives in.
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeGlobal Scope = "global"

	// ScopeAll is only valid for Search.
	ScopeAll Scope = "all"
)

// ParseScope maps a user-supplied scope, defaulting to local.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeLocal:
		return ScopeLocal, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", fmt.Errorf("unknown knowledge scope %q", s)
}

// ErrEmptyPath is returned when an entry has no path.
var ErrEmptyPath = errors.New("knowledge path cannot be empty")

// Entry is one stored fact.
type Entry struct {
	Path      []string  `json:"path"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary"`
	Scope     Scope     `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score,omitempty"`
}

// Key is the slash-joined path.
func (e Entry) Key() string {
	return strings.Join(e.Path, "/")
}

// Store is what capabilities see.
type Store interface {
	Store(ctx context.Context, e Entry) error
	Search(ctx context.Context, q string, scope Scope, limit int) ([]Entry, error)
	Close() error
}

// =============================================================================
// BLEVE STORE
// =============================================================================

// Config locates the two indexes. An empty directory keeps that scope in
// memory.
type Config struct {
	LocalDir  string
	GlobalDir string
}

// BleveStore implements Store with one bleve index per scope.
type BleveStore struct {
	mu      sync.RWMutex
	indexes map[Scope]bleve.Index
}

type document struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
}

// Open opens or creates both indexes.
func Open(cfg Config) (*BleveStore, error) {
	local, err := openIndex(cfg.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("local knowledge index: %w", err)
	}
	global, err := openIndex(cfg.GlobalDir)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("global knowledge index: %w", err)
	}
	return &BleveStore{indexes: map[Scope]bleve.Index{
		ScopeLocal:  local,
		ScopeGlobal: global,
	}}, nil
}

func openIndex(dir string) (bleve.Index, error) {
	if dir == "" {
		return bleve.NewMemOnly(buildIndexMapping())
	}
	path := filepath.Join(dir, "knowledge.bleve")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		return bleve.New(path, buildIndexMapping())
	}
	return bleve.Open(path)
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	keyword := bleve.NewKeywordFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc.AddFieldMappingsAt("path", keyword)
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("summary", text)
	doc.AddFieldMappingsAt("scope", keyword)
	doc.AddFieldMappingsAt("created_at", date)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// Store indexes e. Storing the same path in the same scope replaces it.
func (s *BleveStore) Store(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := cleanPath(e.Path)
	if len(path) == 0 {
		return ErrEmptyPath
	}
	scope := e.Scope
	if scope == "" {
		scope = ScopeLocal
	}

	s.mu.RLock()
	idx, ok := s.indexes[scope]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cannot store into scope %q", scope)
	}

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	key := strings.Join(path, "/")
	doc := document{
		Path:      key,
		Content:   e.Content,
		Summary:   e.Summary,
		Scope:     string(scope),
		CreatedAt: created,
	}
	if err := idx.Index(key, doc); err != nil {
		return fmt.Errorf("failed to index %s: %w", key, err)
	}
	return nil
}

// Search runs a match query over content, summary and path.
func (s *BleveStore) Search(ctx context.Context, q string, scope Scope, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	var scopes []Scope
	switch scope {
	case ScopeAll:
		scopes = []Scope{ScopeLocal, ScopeGlobal}
	case "", ScopeLocal:
		scopes = []Scope{ScopeLocal}
	case ScopeGlobal:
		scopes = []Scope{ScopeGlobal}
	default:
		return nil, fmt.Errorf("unknown knowledge scope %q", scope)
	}

	var sq query.Query
	if strings.TrimSpace(q) == "" {
		sq = bleve.NewMatchAllQuery()
	} else {
		sq = bleve.NewDisjunctionQuery(
			fieldMatch(q, "content"),
			fieldMatch(q, "summary"),
			bleve.NewPrefixQuery(strings.TrimSpace(q)),
		)
	}

	var out []Entry
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range scopes {
		req := bleve.NewSearchRequest(sq)
		req.Size = limit
		req.Fields = []string{"*"}
		res, err := s.indexes[sc].SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("knowledge search failed: %w", err)
		}
		for _, hit := range res.Hits {
			e := Entry{Scope: sc, Score: hit.Score}
			if p, ok := hit.Fields["path"].(string); ok {
				e.Path = strings.Split(p, "/")
			}
			e.Content, _ = hit.Fields["content"].(string)
			e.Summary, _ = hit.Fields["summary"].(string)
			if ts, ok := hit.Fields["created_at"].(string); ok {
				e.CreatedAt, _ = time.Parse(time.RFC3339, ts)
			}
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close closes both indexes.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, idx := range s.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func fieldMatch(q, field string) query.Query {
	m := bleve.NewMatchQuery(q)
	m.SetField(field)
	return m
}

func cleanPath(path []string) []string {
	out := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
