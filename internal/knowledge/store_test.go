// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAndSearch(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Config{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Store(ctx, Entry{
		Path:    []string{"project", "build"},
		Content: "run make release with CGO disabled",
		Summary: "release build recipe",
	}))
	require.NoError(t, s.Store(ctx, Entry{
		Path:    []string{"tools", "python"},
		Content: "prefer uv over pip for installs",
		Summary: "python packaging",
		Scope:   ScopeGlobal,
	}))

	local, err := s.Search(ctx, "release", ScopeLocal, 5)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "project/build", local[0].Key())
	assert.Equal(t, ScopeLocal, local[0].Scope)
	assert.Contains(t, local[0].Content, "CGO")

	none, err := s.Search(ctx, "packaging", ScopeLocal, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.Search(ctx, "packaging", ScopeAll, 5)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ScopeGlobal, all[0].Scope)
}

func TestStoreReplacesSamePath(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Config{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Store(ctx, Entry{Path: []string{"a"}, Content: "first version"}))
	require.NoError(t, s.Store(ctx, Entry{Path: []string{"a"}, Content: "second version"}))

	hits, err := s.Search(ctx, "", ScopeLocal, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second version", hits[0].Content)
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Config{})
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Store(ctx, Entry{Path: []string{" ", "/"}}), ErrEmptyPath)
	assert.Error(t, s.Store(ctx, Entry{Path: []string{"x"}, Scope: ScopeAll}))
	_, err = s.Search(ctx, "x", Scope("nope"), 1)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, s.Store(cancelled, Entry{Path: []string{"x"}}))
}

func TestOnDiskIndexReopens(t *testing.T) {
	ctx := context.Background()
	cfg := Config{LocalDir: t.TempDir(), GlobalDir: t.TempDir()}

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Store(ctx, Entry{Path: []string{"k"}, Content: "durable fact"}))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	hits, err := s.Search(ctx, "durable", ScopeLocal, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestParseScope(t *testing.T) {
	sc, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeLocal, sc)
	sc, err = ParseScope("GLOBAL")
	require.NoError(t, err)
	assert.Equal(t, ScopeGlobal, sc)
	_, err = ParseScope("team")
	assert.Error(t, err)
}
