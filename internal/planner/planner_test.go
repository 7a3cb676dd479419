// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package planner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/tools"
)

type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) GenerateCompletion(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func catalog(t *testing.T) []*tools.Tool {
	t.Helper()
	r := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(r, tools.BuiltinOptions{}))
	return r.All()
}

func TestLLMPlannerPlan(t *testing.T) {
	llm := &fakeLLM{response: "```json\n" + `{
		"notes": "inspect then build",
		"tasks": [
			{"description": "list sources", "capability": "list_files", "params": {"pattern": "**.go"}},
			{"capability": "shell", "params": {"command": "go build ./..."}}
		]
	}` + "\n```"}
	p := NewLLMPlanner(llm, catalog(t), nil)

	proposal, err := p.Plan(context.Background(), "build the project", nil)
	require.NoError(t, err)
	require.Len(t, proposal.Tasks, 2)
	assert.Equal(t, "inspect then build", proposal.Notes)
	assert.Equal(t, "list_files", proposal.Tasks[0].Capability)
	assert.Equal(t, "shell", proposal.Tasks[1].Description, "description defaults to capability")

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Objective: build the project")
	assert.Contains(t, llm.prompts[0], "- shell: Run a shell command in the workspace.")
	assert.Contains(t, llm.prompts[0], "command (string, required)")
}

func TestLLMPlannerRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "sure, here is a plan"},
		{"no tasks", `{"tasks": []}`},
		{"unknown capability", `{"tasks": [{"capability": "launch_rockets"}]}`},
		{"missing capability", `{"tasks": [{"description": "something"}]}`},
		{"too many", `{"tasks": [` + strings.TrimSuffix(strings.Repeat(`{"capability":"note"},`, maxTasks+1), ",") + `]}`},
		{"too large", strings.Repeat(" ", maxResponseSize+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewLLMPlanner(&fakeLLM{response: tt.response}, catalog(t), nil)
			_, err := p.Plan(context.Background(), "x", nil)
			assert.Error(t, err)
		})
	}
}

func TestLLMPlannerPropagatesClientErrors(t *testing.T) {
	p := NewLLMPlanner(&fakeLLM{err: context.DeadlineExceeded}, nil, nil)
	_, err := p.Plan(context.Background(), "x", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = NewLLMPlanner(nil, nil, nil).Replan(context.Background(), nil, plan.Failure{})
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestLLMPlannerReplanPrompt(t *testing.T) {
	current, err := plan.New("s1", "ship it", plan.Proposal{Tasks: []plan.TaskDraft{
		{ID: "a", Description: "read config", Capability: "read_file", Params: map[string]any{"path": "cfg"}},
		{ID: "b", Description: "build", Capability: "shell", Params: map[string]any{"command": "make"}},
		{ID: "c", Description: "deploy", Capability: "shell", Params: map[string]any{"command": "make deploy"}},
	}})
	require.NoError(t, err)
	require.NoError(t, current.StartTask("a"))
	require.NoError(t, current.FinishTask("a", plan.Succeeded("port=80")))
	require.NoError(t, current.StartTask("b"))
	require.NoError(t, current.FinishTask("b", plan.Failed(plan.KindExecution, "make: *** no rule")))
	failed, _ := current.Task("b")

	llm := &fakeLLM{response: `{"tasks":[{"capability":"shell","params":{"command":"go build"}}]}`}
	p := NewLLMPlanner(llm, catalog(t), nil)
	proposal, err := p.Replan(context.Background(), current, plan.FailureOf(failed, 1))
	require.NoError(t, err)
	require.Len(t, proposal.Tasks, 1)

	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "read config [read_file]: port=80")
	assert.Contains(t, prompt, "Failed task (attempt 1): build")
	assert.Contains(t, prompt, "Failure kind: execution_failure")
	assert.Contains(t, prompt, "make: *** no rule")
	assert.Contains(t, prompt, "- deploy [shell]")
}

func TestFilePlanner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
notes: build then test
tasks:
  - id: build
    description: compile
    capability: shell
    params: {command: make}
  - id: test
    description: run tests
    capability: shell
    params: {command: make test}
`), 0o644))

	fp := NewFilePlanner(path)
	proposal, err := fp.Plan(context.Background(), "ignored", nil)
	require.NoError(t, err)
	require.Len(t, proposal.Tasks, 2)
	assert.Equal(t, "make", proposal.Tasks[0].Params["command"])

	current, err := plan.New("s1", "obj", proposal)
	require.NoError(t, err)
	require.NoError(t, current.StartTask("build"))
	require.NoError(t, current.FinishTask("build", plan.Failed(plan.KindTransient, "timeout")))
	failed, _ := current.Task("build")

	rev, err := fp.Replan(context.Background(), current, plan.FailureOf(failed, 1))
	require.NoError(t, err)
	require.Len(t, rev.Tasks, 2)
	assert.Equal(t, "build-retry1", rev.Tasks[0].ID)
	assert.Equal(t, "test", rev.Tasks[1].ID)
	assert.Equal(t, "retrying build after transient error", rev.Notes)

	require.NoError(t, current.Revise("build", rev.Tasks, rev.Notes))
	require.NoError(t, current.StartTask("build-retry1"))
	require.NoError(t, current.FinishTask("build-retry1", plan.Failed(plan.KindTransient, "timeout")))
	failed, _ = current.Task("build-retry1")

	rev, err = fp.Replan(context.Background(), current, plan.FailureOf(failed, 2))
	require.NoError(t, err)
	assert.Equal(t, "build-retry2", rev.Tasks[0].ID)
}

func TestFilePlannerErrors(t *testing.T) {
	_, err := NewFilePlanner("").Plan(context.Background(), "x", nil)
	assert.Error(t, err)

	_, err = NewFilePlanner(filepath.Join(t.TempDir(), "missing.yaml")).Plan(context.Background(), "x", nil)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = ParseDocument([]byte("tasks: []"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewStaticPlanner(FileDocument{Tasks: []plan.TaskDraft{{Capability: "note"}}}).Plan(ctx, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
