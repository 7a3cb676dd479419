// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T, dir string) Store

func storeBackends() map[string]storeFactory {
	return map[string]storeFactory{
		"sqlite": func(t *testing.T, dir string) Store {
			s, err := OpenSQLite(filepath.Join(dir, "state.db"))
			require.NoError(t, err)
			return s
		},
		"file": func(t *testing.T, dir string) Store {
			s, err := NewFileStore(filepath.Join(dir, "sessions"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()

			first := open(t, dir)
			st, err := first.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, st.Keys(), "first access is empty")

			st.Set("x", 42)
			st.Set("cfg", map[string]any{"debug": true})
			st.RecordEnvironment("created py311")
			st.AdoptEnvironment("py311")
			require.NoError(t, first.Persist(ctx, "s1", st))
			assert.False(t, st.Dirty())
			require.NoError(t, first.Close())

			second := open(t, dir)
			defer second.Close()
			got, err := second.Load(ctx, "s1")
			require.NoError(t, err)

			x, ok := got.Get("x")
			require.True(t, ok)
			assert.EqualValues(t, 42, x)
			assert.Equal(t, "py311", got.ActiveEnvironment())
			assert.Equal(t, []string{"created py311", "adopted py311"}, got.EnvironmentHistory())
			cfg, _ := got.Get("cfg")
			assert.Equal(t, map[string]any{"debug": true}, cfg)
		})
	}
}

func TestStorePersistDeletesMemoryAndAppendsHistory(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			defer store.Close()

			st := NewState()
			st.Set("a", "1")
			st.Set("b", "2")
			st.RecordEnvironment("one")
			require.NoError(t, store.Persist(ctx, "s", st))

			st.Delete("a")
			st.RecordEnvironment("two")
			require.NoError(t, store.Persist(ctx, "s", st))

			got, err := store.Load(ctx, "s")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, got.Keys())
			assert.Equal(t, []string{"one", "two"}, got.EnvironmentHistory())
		})
	}
}

func TestStoreReset(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			defer store.Close()

			st := NewState()
			st.Set("k", "v")
			require.NoError(t, store.Persist(ctx, "s", st))
			require.NoError(t, store.Reset(ctx, "s"))
			require.NoError(t, store.Reset(ctx, "s"))

			got, err := store.Load(ctx, "s")
			require.NoError(t, err)
			assert.Empty(t, got.Keys())
		})
	}
}

func TestStoreRejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			defer store.Close()
			_, err := store.Load(ctx, "../../etc/passwd")
			assert.ErrorIs(t, err, ErrInvalidSessionID)
		})
	}
}

func TestSQLiteSessions(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Persist(ctx, "a", NewState()))
	require.NoError(t, store.Persist(ctx, "b", NewState()))
	ids, err := store.Sessions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestFileStoreSessions(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)

	require.NoError(t, store.Persist(ctx, "b", NewState()))
	require.NoError(t, store.Persist(ctx, "a", NewState()))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir, "notes.txt"), []byte("x"), 0o600))

	ids, err := store.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
