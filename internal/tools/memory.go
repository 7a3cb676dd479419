// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/permission"
)

var errNoState = errors.New("session state unavailable")

// MemorySetTool returns the memory_set capability.
func MemorySetTool() *Tool {
	return &Tool{
		Name:        "memory_set",
		Description: "Store a value in the session's persistent memory. With json set, a string value is decoded as JSON first.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "key", Type: TypeString, Required: true},
			{Name: "value", Type: TypeAny, Required: true},
			{Name: "json", Type: TypeBoolean, Default: false, Description: "decode a string value as JSON"},
		}},
		PermissionGroup:  permission.GroupNone,
		IsDefault:        true,
		UsesSessionState: true,
		Executor:         ExecutorFunc(memorySet),
	}
}

// MemoryGetTool returns the memory_get capability.
func MemoryGetTool() *Tool {
	return &Tool{
		Name:        "memory_get",
		Description: "Read a value from the session's persistent memory as JSON.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "key", Type: TypeString, Required: true},
		}},
		PermissionGroup:  permission.GroupNone,
		IsDefault:        true,
		UsesSessionState: true,
		Executor:         ExecutorFunc(memoryGet),
	}
}

// MemoryDeleteTool returns the memory_delete capability.
func MemoryDeleteTool() *Tool {
	return &Tool{
		Name:        "memory_delete",
		Description: "Remove a key from the session's persistent memory.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "key", Type: TypeString, Required: true},
		}},
		PermissionGroup:  permission.GroupNone,
		IsDefault:        true,
		UsesSessionState: true,
		Executor:         ExecutorFunc(memoryDelete),
	}
}

func memorySet(_ context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	if ec == nil || ec.State == nil {
		return Fail("%v", errNoState), nil
	}
	key := strings.TrimSpace(stringParam(params, "key", ""))
	if key == "" {
		return Fail("key cannot be empty"), nil
	}

	value := params["value"]
	if s, ok := value.(string); ok && boolParam(params, "json", false) {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return Fail("value for %s is not valid JSON: %v", key, err), nil
		}
		value = decoded
	}
	if _, err := json.Marshal(value); err != nil {
		return Fail("value for %s is not serialisable: %v", key, err), nil
	}
	ec.State.Set(key, value)
	return OK(fmt.Sprintf("stored %s", key)), nil
}

func memoryGet(_ context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	if ec == nil || ec.State == nil {
		return Fail("%v", errNoState), nil
	}
	key := stringParam(params, "key", "")
	v, ok := ec.State.Get(key)
	if !ok {
		return Fail("no memory for key %q", key), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Fail("cannot encode %s: %v", key, err), nil
	}
	return OK(string(data)), nil
}

func memoryDelete(_ context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	if ec == nil || ec.State == nil {
		return Fail("%v", errNoState), nil
	}
	key := stringParam(params, "key", "")
	if !ec.State.Delete(key) {
		return Fail("no memory for key %q", key), nil
	}
	return OK(fmt.Sprintf("deleted %s", key)), nil
}
