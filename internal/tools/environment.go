// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/permission"
)

// Environments are directories under the workspace state dir with a bin/
// subdirectory. Adopting one puts its bin/ first on the shell PATH.

var envNameParam = Parameter{Name: "name", Type: TypeString, Required: true, Description: "Environment name"}

// EnvCreateTool returns the env_create capability.
func EnvCreateTool() *Tool {
	return &Tool{
		Name:             "env_create",
		Description:      "Create a named environment. Set adopt to make it active.",
		Schema:           Schema{Parameters: []Parameter{envNameParam, {Name: "adopt", Type: TypeBoolean, Default: false}}},
		PermissionGroup:  permission.GroupFilesystemWrite,
		IsDefault:        true,
		UsesSessionState: true,
		Executor:         ExecutorFunc(envCreate),
	}
}

// EnvAdoptTool returns the env_adopt capability.
func EnvAdoptTool() *Tool {
	return &Tool{
		Name:             "env_adopt",
		Description:      "Make an existing environment the session's active environment.",
		Schema:           Schema{Parameters: []Parameter{envNameParam}},
		PermissionGroup:  permission.GroupNone,
		IsDefault:        true,
		UsesSessionState: true,
		Executor:         ExecutorFunc(envAdopt),
	}
}

// EnvDeleteTool returns the env_delete capability. It is opt-in.
func EnvDeleteTool() *Tool {
	return &Tool{
		Name:             "env_delete",
		Description:      "Delete a named environment and its contents.",
		Schema:           Schema{Parameters: []Parameter{envNameParam}},
		PermissionGroup:  permission.GroupFilesystemWrite,
		UsesSessionState: true,
		Executor:         ExecutorFunc(envDelete),
	}
}

// EnvListTool returns the env_list capability.
func EnvListTool() *Tool {
	return &Tool{
		Name:            "env_list",
		Description:     "List environments; the active one is marked with *.",
		PermissionGroup: permission.GroupFilesystemRead,
		IsDefault:       true,
		Executor:        ExecutorFunc(envList),
	}
}

func envCreate(_ context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	dir, name, res, ok := envDir(params, ec)
	if !ok {
		return res, nil
	}
	if _, err := os.Stat(dir); err == nil {
		return Fail("environment %s already exists", name), nil
	}
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		return Fail("cannot create environment %s: %v", name, err), nil
	}
	ec.State.RecordEnvironment("created " + name)
	if boolParam(params, "adopt", false) {
		ec.State.AdoptEnvironment(name)
		return OK(fmt.Sprintf("created and adopted environment %s", name)), nil
	}
	return OK(fmt.Sprintf("created environment %s", name)), nil
}

func envAdopt(_ context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	dir, name, res, ok := envDir(params, ec)
	if !ok {
		return res, nil
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return Fail("environment %s does not exist", name), nil
	}
	ec.State.AdoptEnvironment(name)
	return OK(fmt.Sprintf("adopted environment %s", name)), nil
}

func envDelete(_ context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	dir, name, res, ok := envDir(params, ec)
	if !ok {
		return res, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return Fail("environment %s does not exist", name), nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return Fail("cannot delete environment %s: %v", name, err), nil
	}
	ec.State.ClearEnvironment(name)
	ec.State.RecordEnvironment("deleted " + name)
	return OK(fmt.Sprintf("deleted environment %s", name)), nil
}

func envList(_ context.Context, _ map[string]any, ec *ExecutionContext) (Result, error) {
	ws, err := requireWorkspace(ec)
	if err != nil {
		return Fail("%v", err), nil
	}
	entries, err := os.ReadDir(ws.EnvDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Fail("cannot list environments: %v", err), nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if name == ec.ActiveEnvironment {
			name = "* " + name
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return OK("no environments"), nil
	}
	sort.Strings(names)
	return OK(strings.Join(names, "\n")), nil
}

func envDir(params map[string]any, ec *ExecutionContext) (string, string, Result, bool) {
	ws, err := requireWorkspace(ec)
	if err != nil {
		return "", "", Fail("%v", err), false
	}
	if ec.State == nil {
		return "", "", Fail("%v", errNoState), false
	}
	name := stringParam(params, "name", "")
	dir, err := ws.EnvPath(name)
	if err != nil {
		return "", "", Fail("%v", err), false
	}
	return dir, name, Result{}, true
}
