// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestWorkspaceResolve(t *testing.T) {
	ws := newWorkspace(t)

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"relative file", "notes.txt", nil},
		{"nested new file", "a/b/c.txt", nil},
		{"dot", ".", nil},
		{"absolute inside", filepath.Join(ws.Root, "x"), nil},
		{"traversal", "../outside", ErrOutsideWorkspace},
		{"absolute outside", "/etc/passwd", ErrOutsideWorkspace},
		{"shell rc", ".bashrc", ErrBlockedPath},
		{"ssh dir", ".ssh/id_rsa", ErrBlockedPath},
		{"state dir", ".rigrun/envs/x", ErrBlockedPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.Resolve(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, isPathWithinDir(got, ws.Root))
		})
	}

	_, err := ws.Resolve("  ")
	assert.Error(t, err)
}

func TestWorkspaceResolveSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	ws := newWorkspace(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(ws.Root, "link")))

	_, err := ws.Resolve("link/secret.txt")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestIsPathWithinDirPrefixTrap(t *testing.T) {
	assert.True(t, isPathWithinDir("/home/user/file", "/home/user"))
	assert.True(t, isPathWithinDir("/home/user", "/home/user"))
	assert.False(t, isPathWithinDir("/home/userEVIL/file", "/home/user"))
}

func TestWorkspaceEnvPath(t *testing.T) {
	ws := newWorkspace(t)
	p, err := ws.EnvPath("py311")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root, StateDirName, "envs", "py311"), p)

	for _, bad := range []string{"", "../x", "a/b", ".hidden"} {
		_, err := ws.EnvPath(bad)
		assert.Error(t, err, bad)
	}
}
