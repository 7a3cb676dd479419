// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/permission"
	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/util"
)

// NoteTool returns the note capability. It writes to the active plan's
// scratchpad, or to its investigation log.
func NoteTool() *Tool {
	return &Tool{
		Name:        "note",
		Description: "Record a note on the current plan.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "text", Type: TypeString, Required: true},
			{Name: "investigation", Type: TypeBoolean, Default: false, Description: "Record as an investigation entry"},
			{Name: "kind", Type: TypeString, Default: "note"},
		}},
		PermissionGroup: permission.GroupNone,
		IsDefault:       true,
		Executor:        ExecutorFunc(note),
	}
}

func note(_ context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	if ec == nil || ec.Plan == nil {
		return Fail("no active plan"), nil
	}
	text := strings.TrimSpace(stringParam(params, "text", ""))
	if text == "" {
		return Fail("text cannot be empty"), nil
	}

	if boolParam(params, "investigation", false) {
		ec.Plan.AddInvestigation(plan.Record{
			Kind:    stringParam(params, "kind", "note"),
			Summary: util.TruncateRunes(firstLine(text), 120),
			Detail:  text,
			Time:    time.Now(),
		})
		return OK("recorded investigation"), nil
	}
	ec.Plan.AppendScratchpad(text)
	return OK("noted"), nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}
