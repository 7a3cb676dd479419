// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// StateDirName is the per-workspace directory owned by rigrun-agent.
const StateDirName = ".rigrun"

// ErrOutsideWorkspace is returned for paths that escape the workspace.
var ErrOutsideWorkspace = errors.New("path escapes the workspace")

// ErrBlockedPath is returned for paths capabilities may never touch.
var ErrBlockedPath = errors.New("path is blocked")

// blockedShellFiles can be used for persistence and are never touched.
var blockedShellFiles = []string{
	".bashrc", ".bash_profile", ".bash_login", ".bash_logout",
	".zshrc", ".zprofile", ".zlogin", ".zlogout",
	".profile", ".login", ".cshrc", ".tcshrc", ".kshrc",
}

// blockedDirs hold credentials or agent state.
var blockedDirs = []string{".ssh", ".gnupg", ".aws", ".kube", ".docker", StateDirName}

var envNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// =============================================================================
// WORKSPACE
// =============================================================================

// Workspace confines file capabilities to one directory tree.
type Workspace struct {
	// Root is the absolute, symlink-resolved workspace directory
	Root string

	// EnvDir holds environment directories
	EnvDir string
}

// NewWorkspace resolves root and prepares the environment directory path.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", abs, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", resolved)
	}
	return &Workspace{
		Root:   resolved,
		EnvDir: filepath.Join(resolved, StateDirName, "envs"),
	}, nil
}

// Resolve maps a user path (relative to Root, or absolute inside it) to a
// safe absolute path.
func (w *Workspace) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: contains NUL byte", ErrBlockedPath)
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(w.Root, target)
	}
	target = filepath.Clean(target)

	resolved, err := resolveExisting(target)
	if err != nil {
		return "", err
	}
	if !isPathWithinDir(resolved, w.Root) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}

	rel, _ := filepath.Rel(w.Root, resolved)
	if isBlocked(rel) {
		return "", fmt.Errorf("%w: %s", ErrBlockedPath, p)
	}
	return resolved, nil
}

// Rel returns path relative to Root with forward slashes.
func (w *Workspace) Rel(path string) string {
	rel, err := filepath.Rel(w.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// EnvPath returns the directory of a named environment.
func (w *Workspace) EnvPath(name string) (string, error) {
	if !envNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid environment name %q", name)
	}
	return filepath.Join(w.EnvDir, name), nil
}

// resolveExisting follows symlinks on the longest existing prefix of path
// and re-attaches the part that does not exist yet.
func resolveExisting(path string) (string, error) {
	var missing []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}

// isPathWithinDir avoids the /home/userEVIL prefix trap.
func isPathWithinDir(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
}

func isBlocked(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts {
		for _, d := range blockedDirs {
			if part == d {
				return true
			}
		}
	}
	base := parts[len(parts)-1]
	for _, f := range blockedShellFiles {
		if base == f {
			return true
		}
	}
	return false
}
