// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/permission"
)

func echoTool(name string, group permission.Group) *Tool {
	return &Tool{
		Name:            name,
		Description:     "echo\nsecond line",
		PermissionGroup: group,
		IsDefault:       true,
		Schema: Schema{Parameters: []Parameter{
			{Name: "text", Type: TypeString, Required: true},
		}},
		Executor: ExecutorFunc(func(_ context.Context, params map[string]any, _ *ExecutionContext) (Result, error) {
			return OK(stringParam(params, "text", "")), nil
		}),
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", permission.GroupNone)))

	got, err := r.Lookup("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name)
	assert.Equal(t, "echo", got.Summary())

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", permission.GroupNone)))
	err := r.Register(echoTool("echo", permission.GroupShellExecution))
	assert.ErrorIs(t, err, ErrDuplicateName)

	got, _ := r.Lookup("echo")
	assert.Equal(t, permission.GroupNone, got.PermissionGroup, "first registration wins")
}

func TestRegistrySealed(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	assert.True(t, r.Sealed())
	assert.ErrorIs(t, r.Register(echoTool("late", permission.GroupNone)), ErrRegistrySealed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryRejectsInvalidDefinitions(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name string
		tool *Tool
	}{
		{"nil", nil},
		{"no name", &Tool{Executor: ExecutorFunc(nil)}},
		{"no executor", &Tool{Name: "x"}},
		{"bad group", func() *Tool { t := echoTool("x", "root_access"); return t }()},
		{"bad type", func() *Tool {
			t := echoTool("x", permission.GroupNone)
			t.Schema.Parameters[0].Type = "blob"
			return t
		}()},
		{"duplicate param", func() *Tool {
			t := echoTool("x", permission.GroupNone)
			t.Schema.Parameters = append(t.Schema.Parameters, t.Schema.Parameters[0])
			return t
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.Register(tt.tool))
		})
	}
}

func TestRegistryAvailable(t *testing.T) {
	r := NewRegistry()
	optIn := echoTool("b_optin", permission.GroupNone)
	optIn.IsDefault = false
	require.NoError(t, r.Register(optIn))
	require.NoError(t, r.Register(echoTool("a_default", permission.GroupNone)))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a_default", all[0].Name)

	assert.Len(t, r.Defaults(), 1)
	assert.Len(t, r.Available(nil), 1)
	assert.Len(t, r.Available(map[string]bool{"b_optin": true}), 2)
}

func TestRegistryConcurrentLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinOptions{}))
	r.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, name := range []string{"shell", "read_file", "note", "memory_get"} {
				_, err := r.Lookup(name)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinOptions{WebRatePerSec: 2}))
	assert.Equal(t, 15, r.Len())

	optIn := map[string]bool{}
	for _, tool := range r.All() {
		if !tool.IsDefault {
			optIn[tool.Name] = true
		}
	}
	assert.Equal(t, map[string]bool{"web_fetch": true, "env_delete": true}, optIn)

	shell, err := r.Lookup("shell")
	require.NoError(t, err)
	assert.Equal(t, permission.GroupShellExecution, shell.PermissionGroup)

	mem, err := r.Lookup("memory_set")
	require.NoError(t, err)
	assert.True(t, mem.UsesSessionState)

	assert.Error(t, RegisterBuiltins(r, BuiltinOptions{}), "second registration collides")
}
