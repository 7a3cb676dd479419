// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/knowledge"
	"github.com/jeranaias/rigrun-agent/internal/permission"
)

const defaultKnowledgeLimit = 5

// KnowledgeStoreTool returns the knowledge_store capability.
func KnowledgeStoreTool() *Tool {
	return &Tool{
		Name:        "knowledge_store",
		Description: "Save a finding to the knowledge base under a slash-separated path.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "path", Type: TypeAny, Required: true, Description: "Path such as go/testing/flaky, or an array of segments"},
			{Name: "content", Type: TypeString, Required: true},
			{Name: "summary", Type: TypeString},
			{Name: "scope", Type: TypeString, Enum: []string{string(knowledge.ScopeLocal), string(knowledge.ScopeGlobal)}, Default: string(knowledge.ScopeLocal)},
		}},
		PermissionGroup: permission.GroupFilesystemWrite,
		IsDefault:       true,
		Executor:        ExecutorFunc(knowledgeStore),
	}
}

// KnowledgeSearchTool returns the knowledge_search capability.
func KnowledgeSearchTool() *Tool {
	return &Tool{
		Name:        "knowledge_search",
		Description: "Search the knowledge base.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "query", Type: TypeString, Required: true},
			{Name: "scope", Type: TypeString, Enum: []string{string(knowledge.ScopeLocal), string(knowledge.ScopeGlobal), string(knowledge.ScopeAll)}, Default: string(knowledge.ScopeAll)},
			{Name: "limit", Type: TypeInteger, Default: defaultKnowledgeLimit},
		}},
		PermissionGroup: permission.GroupFilesystemRead,
		IsDefault:       true,
		Executor:        ExecutorFunc(knowledgeSearch),
	}
}

func knowledgeStore(ctx context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	if ec == nil || ec.Knowledge == nil {
		return Fail("knowledge base is not configured"), nil
	}
	scope, err := knowledge.ParseScope(stringParam(params, "scope", string(knowledge.ScopeLocal)))
	if err != nil {
		return Fail("%v", err), nil
	}
	entry := knowledge.Entry{
		Path:    stringsParam(params, "path"),
		Content: stringParam(params, "content", ""),
		Summary: stringParam(params, "summary", ""),
		Scope:   scope,
	}
	if err := ec.Knowledge.Store(ctx, entry); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Fail("cannot store knowledge: %v", err), nil
	}
	return OK(fmt.Sprintf("stored %s (%s)", entry.Key(), scope)), nil
}

func knowledgeSearch(ctx context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	if ec == nil || ec.Knowledge == nil {
		return Fail("knowledge base is not configured"), nil
	}
	scope, err := knowledge.ParseScope(stringParam(params, "scope", string(knowledge.ScopeAll)))
	if err != nil {
		return Fail("%v", err), nil
	}
	hits, err := ec.Knowledge.Search(ctx, stringParam(params, "query", ""), scope, intParam(params, "limit", defaultKnowledgeLimit))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Fail("search failed: %v", err), nil
	}
	if len(hits) == 0 {
		return OK("no matches"), nil
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "[%s] %s", h.Scope, h.Key())
		if h.Summary != "" {
			fmt.Fprintf(&b, " - %s", h.Summary)
		}
		fmt.Fprintf(&b, "\n%s\n\n", h.Content)
	}
	return OK(strings.TrimSpace(b.String())), nil
}
