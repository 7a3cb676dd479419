// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "state.json")
	require.NoError(t, AtomicWriteFile(path, []byte(`{"x":1}`), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestAtomicWriteFileOverwritesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")
	require.NoError(t, AtomicWriteFile(path, []byte("old"), 0644))
	require.NoError(t, AtomicWriteFile(path, []byte("new"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.HasPrefix(entries[0].Name(), ".tmp-"))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "hello", TruncateRunes("hello", 10))
	assert.Equal(t, "he...", TruncateRunes("hello world", 5))
	assert.Equal(t, "日本", TruncateRunes("日本語", 2))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestTruncateMiddle(t *testing.T) {
	out, clipped := TruncateMiddle("short", 100)
	assert.False(t, clipped)
	assert.Equal(t, "short", out)

	long := strings.Repeat("a", 50) + strings.Repeat("z", 50)
	out, clipped = TruncateMiddle(long, 20)
	assert.True(t, clipped)
	assert.True(t, strings.HasPrefix(out, "aaaaaaaaaa"))
	assert.True(t, strings.HasSuffix(out, "zzzzzzzzzz"))
	assert.Contains(t, out, "80 bytes truncated")

	multi := strings.Repeat("é", 40)
	out, _ = TruncateMiddle(multi, 15)
	assert.True(t, utf8.ValidString(out))
}
