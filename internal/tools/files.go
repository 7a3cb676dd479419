// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/jeranaias/rigrun-agent/internal/permission"
	"github.com/jeranaias/rigrun-agent/internal/util"
)

const (
	// MaxFileSize bounds read_file and write_file.
	MaxFileSize = 10 * 1024 * 1024

	// maxReadOutput is the slice of a file returned to the planner.
	maxReadOutput = 256 * 1024

	defaultListMax = 500
)

// =============================================================================
// READ
// =============================================================================

// ReadFileTool returns the read_file capability.
func ReadFileTool() *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read a text file from the workspace.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "path", Type: TypeString, Required: true, Description: "Workspace-relative path"},
		}},
		PermissionGroup: permission.GroupFilesystemRead,
		IsDefault:       true,
		Executor:        ExecutorFunc(readFile),
	}
}

func readFile(ctx context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	ws, err := requireWorkspace(ec)
	if err != nil {
		return Fail("%v", err), nil
	}
	path, err := ws.Resolve(stringParam(params, "path", ""))
	if err != nil {
		return Fail("%v", err), nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Fail("cannot read %s: %v", ws.Rel(path), err), nil
	}
	if info.IsDir() {
		return Fail("%s is a directory", ws.Rel(path)), nil
	}
	if info.Size() > MaxFileSize {
		return Fail("%s is too large (%d bytes)", ws.Rel(path), info.Size()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Fail("cannot read %s: %v", ws.Rel(path), err), nil
	}
	out, truncated := util.TruncateMiddle(string(data), maxReadOutput)
	return Result{Success: true, Output: out, Truncated: truncated}, nil
}

// =============================================================================
// WRITE
// =============================================================================

// WriteFileTool returns the write_file capability.
func WriteFileTool() *Tool {
	return &Tool{
		Name:        "write_file",
		Description: "Create, overwrite, or append to a file in the workspace.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "path", Type: TypeString, Required: true, Description: "Workspace-relative path"},
			{Name: "content", Type: TypeString, Required: true},
			{Name: "append", Type: TypeBoolean, Default: false},
		}},
		PermissionGroup: permission.GroupFilesystemWrite,
		IsDefault:       true,
		Executor:        ExecutorFunc(writeFile),
	}
}

func writeFile(ctx context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	ws, err := requireWorkspace(ec)
	if err != nil {
		return Fail("%v", err), nil
	}
	path, err := ws.Resolve(stringParam(params, "path", ""))
	if err != nil {
		return Fail("%v", err), nil
	}
	if path == ws.Root {
		return Fail("cannot write to the workspace root"), nil
	}
	content := stringParam(params, "content", "")
	if len(content) > MaxFileSize {
		return Fail("content too large (%d bytes)", len(content)), nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if boolParam(params, "append", false) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Fail("cannot create directory: %v", err), nil
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return Fail("cannot open %s: %v", ws.Rel(path), err), nil
		}
		_, werr := f.WriteString(content)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return Fail("cannot append to %s: %v", ws.Rel(path), err), nil
		}
		return OK(fmt.Sprintf("appended %d bytes to %s", len(content), ws.Rel(path))), nil
	}

	if err := util.AtomicWriteFile(path, []byte(content), 0o644); err != nil {
		return Fail("cannot write %s: %v", ws.Rel(path), err), nil
	}
	return OK(fmt.Sprintf("wrote %d bytes to %s", len(content), ws.Rel(path))), nil
}

// =============================================================================
// LIST
// =============================================================================

// ListFilesTool returns the list_files capability.
func ListFilesTool() *Tool {
	return &Tool{
		Name:        "list_files",
		Description: "List files under a workspace directory, optionally filtered by a glob such as **.go.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "path", Type: TypeString, Default: "."},
			{Name: "pattern", Type: TypeString, Description: "Glob matched against the relative path"},
			{Name: "max", Type: TypeInteger, Default: defaultListMax},
		}},
		PermissionGroup: permission.GroupFilesystemRead,
		IsDefault:       true,
		Executor:        ExecutorFunc(listFiles),
	}
}

func listFiles(ctx context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	ws, err := requireWorkspace(ec)
	if err != nil {
		return Fail("%v", err), nil
	}
	dir, err := ws.Resolve(stringParam(params, "path", "."))
	if err != nil {
		return Fail("%v", err), nil
	}

	var matcher glob.Glob
	if pattern := stringParam(params, "pattern", ""); pattern != "" {
		matcher, err = glob.Compile(pattern, '/')
		if err != nil {
			return Fail("invalid pattern %q: %v", pattern, err), nil
		}
	}
	limit := intParam(params, "max", defaultListMax)
	if limit <= 0 {
		limit = defaultListMax
	}

	var files []string
	errLimit := errors.New("limit reached")
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if path != dir && (d.Name() == ".git" || d.Name() == StateDirName) {
				return filepath.SkipDir
			}
			return nil
		}
		rel := ws.Rel(path)
		if matcher != nil && !matcher.Match(rel) {
			return nil
		}
		files = append(files, rel)
		if len(files) >= limit {
			return errLimit
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errLimit) {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Fail("cannot list %s: %v", ws.Rel(dir), walkErr), nil
	}
	if len(files) == 0 {
		return OK("no files"), nil
	}
	return Result{
		Success:   true,
		Output:    strings.Join(files, "\n"),
		Truncated: errors.Is(walkErr, errLimit),
	}, nil
}

func requireWorkspace(ec *ExecutionContext) (*Workspace, error) {
	if ec == nil || ec.Workspace == nil {
		return nil, errors.New("no workspace configured")
	}
	return ec.Workspace, nil
}
