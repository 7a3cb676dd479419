// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/knowledge"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/session"
)

func newExecContext(t *testing.T) *ExecutionContext {
	t.Helper()
	return &ExecutionContext{
		SessionID: "s1",
		State:     session.NewState(),
		Workspace: newWorkspace(t),
		Logger:    logging.NopLogger(),
	}
}

func run(t *testing.T, tool *Tool, ec *ExecutionContext, params map[string]any) Result {
	t.Helper()
	require.NoError(t, ValidateArgs(tool.Schema, params))
	res, err := tool.Executor.Execute(context.Background(), params, ec)
	require.NoError(t, err)
	return res
}

func TestFileCapabilities(t *testing.T) {
	ec := newExecContext(t)

	res := run(t, WriteFileTool(), ec, map[string]any{"path": "src/main.go", "content": "package main\n"})
	require.True(t, res.Success, res.Output)

	res = run(t, WriteFileTool(), ec, map[string]any{"path": "src/main.go", "content": "// end\n", "append": true})
	require.True(t, res.Success, res.Output)

	res = run(t, ReadFileTool(), ec, map[string]any{"path": "src/main.go"})
	require.True(t, res.Success)
	assert.Equal(t, "package main\n// end\n", res.Output)

	require.NoError(t, os.WriteFile(filepath.Join(ec.Workspace.Root, "README.md"), []byte("hi"), 0o644))

	res = run(t, ListFilesTool(), ec, map[string]any{"pattern": "**.go"})
	require.True(t, res.Success)
	assert.Equal(t, "src/main.go", res.Output)

	res = run(t, ListFilesTool(), ec, map[string]any{})
	assert.Equal(t, "README.md\nsrc/main.go", res.Output)

	res = run(t, ListFilesTool(), ec, map[string]any{"max": 1})
	assert.True(t, res.Truncated)
}

func TestFileCapabilitiesReportFailures(t *testing.T) {
	ec := newExecContext(t)

	res := run(t, ReadFileTool(), ec, map[string]any{"path": "missing.txt"})
	assert.False(t, res.Success)

	res = run(t, ReadFileTool(), ec, map[string]any{"path": "../../etc/passwd"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "escapes")

	res = run(t, WriteFileTool(), ec, map[string]any{"path": ".bashrc", "content": "evil"})
	assert.False(t, res.Success)

	res = run(t, ListFilesTool(), ec, map[string]any{"pattern": "[unclosed"})
	assert.False(t, res.Success)

	res, err := ReadFileTool().Executor.Execute(context.Background(), map[string]any{"path": "x"}, &ExecutionContext{})
	require.NoError(t, err)
	assert.False(t, res.Success, "no workspace")
}

func TestMemoryCapabilities(t *testing.T) {
	ec := newExecContext(t)

	res := run(t, MemorySetTool(), ec, map[string]any{"key": "x", "value": float64(42)})
	require.True(t, res.Success)
	assert.True(t, ec.State.Dirty())

	res = run(t, MemoryGetTool(), ec, map[string]any{"key": "x"})
	require.True(t, res.Success)
	assert.Equal(t, "42", res.Output)

	res = run(t, MemorySetTool(), ec, map[string]any{"key": "cfg", "value": `{"debug":true}`, "json": true})
	require.True(t, res.Success)
	v, _ := ec.State.Get("cfg")
	assert.Equal(t, map[string]any{"debug": true}, v)

	res = run(t, MemorySetTool(), ec, map[string]any{"key": "bad", "value": `{"debug":`, "json": true})
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "not valid JSON")

	// Strings that look like JSON stay strings unless json is set.
	for _, literal := range []string{"42", "true", `{"debug":true}`} {
		res = run(t, MemorySetTool(), ec, map[string]any{"key": "lit", "value": literal})
		require.True(t, res.Success)
		v, _ = ec.State.Get("lit")
		assert.Equal(t, literal, v)
	}

	res = run(t, MemorySetTool(), ec, map[string]any{"key": "name", "value": "plain text"})
	require.True(t, res.Success)
	v, _ = ec.State.Get("name")
	assert.Equal(t, "plain text", v)

	res = run(t, MemoryDeleteTool(), ec, map[string]any{"key": "x"})
	require.True(t, res.Success)
	res = run(t, MemoryGetTool(), ec, map[string]any{"key": "x"})
	assert.False(t, res.Success)
	res = run(t, MemoryDeleteTool(), ec, map[string]any{"key": "x"})
	assert.False(t, res.Success)

	ec.State = nil
	res = run(t, MemoryGetTool(), ec, map[string]any{"key": "x"})
	assert.False(t, res.Success)
}

func TestEnvironmentCapabilities(t *testing.T) {
	ec := newExecContext(t)

	res := run(t, EnvCreateTool(), ec, map[string]any{"name": "py"})
	require.True(t, res.Success, res.Output)
	assert.DirExists(t, filepath.Join(ec.Workspace.EnvDir, "py", "bin"))
	assert.Empty(t, ec.State.ActiveEnvironment())

	res = run(t, EnvCreateTool(), ec, map[string]any{"name": "py"})
	assert.False(t, res.Success, "already exists")

	res = run(t, EnvCreateTool(), ec, map[string]any{"name": "node", "adopt": true})
	require.True(t, res.Success)
	assert.Equal(t, "node", ec.State.ActiveEnvironment())

	res = run(t, EnvAdoptTool(), ec, map[string]any{"name": "py"})
	require.True(t, res.Success)
	assert.Equal(t, "py", ec.State.ActiveEnvironment())

	res = run(t, EnvAdoptTool(), ec, map[string]any{"name": "ghost"})
	assert.False(t, res.Success)

	ec.ActiveEnvironment = ec.State.ActiveEnvironment()
	res = run(t, EnvListTool(), ec, map[string]any{})
	require.True(t, res.Success)
	assert.Equal(t, "* py\nnode", res.Output)

	res = run(t, EnvDeleteTool(), ec, map[string]any{"name": "py"})
	require.True(t, res.Success)
	assert.Empty(t, ec.State.ActiveEnvironment())
	assert.NoDirExists(t, filepath.Join(ec.Workspace.EnvDir, "py"))

	assert.Equal(t, []string{
		"created py",
		"created node",
		"adopted node",
		"adopted py",
		"deleted py",
	}, ec.State.EnvironmentHistory())
}

func TestNoteCapability(t *testing.T) {
	ec := newExecContext(t)
	p, err := plan.New("s1", "obj", plan.Proposal{Tasks: []plan.TaskDraft{{ID: "a", Capability: "note"}}})
	require.NoError(t, err)
	ec.Plan = p

	res := run(t, NoteTool(), ec, map[string]any{"text": "checked the build"})
	require.True(t, res.Success)
	assert.Contains(t, p.Snapshot().Scratchpad, "checked the build")

	res = run(t, NoteTool(), ec, map[string]any{"text": "root cause\ndetails", "investigation": true, "kind": "finding"})
	require.True(t, res.Success)
	require.Len(t, p.Investigation, 1)
	assert.Equal(t, "finding", p.Investigation[0].Kind)
	assert.Equal(t, "root cause", p.Investigation[0].Summary)

	ec.Plan = nil
	res = run(t, NoteTool(), ec, map[string]any{"text": "x"})
	assert.False(t, res.Success)
}

func TestKnowledgeCapabilities(t *testing.T) {
	ec := newExecContext(t)
	store, err := knowledge.Open(knowledge.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ec.Knowledge = store

	res := run(t, KnowledgeStoreTool(), ec, map[string]any{
		"path":    "go/testing/flaky",
		"content": "use t.Cleanup to close listeners",
		"summary": "flaky listener tests",
	})
	require.True(t, res.Success, res.Output)
	assert.Contains(t, res.Output, "go/testing/flaky")

	res = run(t, KnowledgeSearchTool(), ec, map[string]any{"query": "listeners"})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "go/testing/flaky")

	res = run(t, KnowledgeSearchTool(), ec, map[string]any{"query": "kubernetes", "scope": "global"})
	require.True(t, res.Success)
	assert.Equal(t, "no matches", res.Output)

	ec.Knowledge = nil
	res = run(t, KnowledgeSearchTool(), ec, map[string]any{"query": "x"})
	assert.False(t, res.Success)
}

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><head><style>p{}</style><script>x()</script></head>` +
				`<body><h1>Title</h1><p>Fish &amp; chips</p></body></html>`))
		case "/missing":
			http.NotFound(w, r)
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(strings.Repeat("a", 100)))
		}
	}))
	defer srv.Close()

	tool := WebFetchTool(&WebFetchExecutor{AllowPrivate: true, MaxBytes: 10})
	ctx := context.Background()

	res, err := tool.Executor.Execute(ctx, map[string]any{"url": srv.URL + "/page"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Truncated, "body is capped at 10 bytes")

	tool = WebFetchTool(&WebFetchExecutor{AllowPrivate: true})
	res, err = tool.Executor.Execute(ctx, map[string]any{"url": srv.URL + "/page"}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Title\n\nFish & chips", res.Output)

	res, err = tool.Executor.Execute(ctx, map[string]any{"url": srv.URL + "/missing"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "HTTP 404")

	_, err = tool.Executor.Execute(ctx, map[string]any{"url": srv.URL + "/busy"}, nil)
	assert.ErrorIs(t, err, ErrTransient)

	res, err = tool.Executor.Execute(ctx, map[string]any{"url": "file:///etc/passwd"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestWebFetchBlocksPrivateAddresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("internal"))
	}))
	defer srv.Close()

	tool := WebFetchTool(&WebFetchExecutor{})
	res, err := tool.Executor.Execute(context.Background(), map[string]any{"url": srv.URL}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "blocked")
}

func TestHTMLToText(t *testing.T) {
	in := "<div>one</div><!-- hidden --><ul><li>two</li><li>three</li></ul>"
	assert.Equal(t, "one\n\ntwo\n\nthree", htmlToText(in))

	in = "<html><head><style>p{}</style><script>var x = 1;</script></head><body><p>a &amp; b</p></body></html>"
	assert.Equal(t, "a & b", htmlToText(in))
}
