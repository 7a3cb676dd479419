// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterh/liner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/config"
	"github.com/jeranaias/rigrun-agent/internal/escalation"
	"github.com/jeranaias/rigrun-agent/internal/events"
	"github.com/jeranaias/rigrun-agent/internal/plan"
)

// =============================================================================
// HELPERS
// =============================================================================

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

// testWorkspace writes a config that keeps every store inside a temp dir.
func testWorkspace(t *testing.T) (workspace, configPath string) {
	t.Helper()
	dir := t.TempDir()
	workspace = filepath.Join(dir, "ws")
	require.NoError(t, os.MkdirAll(workspace, 0o755))

	cfg := config.Default()
	cfg.Storage.Backend = config.BackendFile
	cfg.Knowledge.GlobalDir = filepath.Join(dir, "global-knowledge")
	configPath = filepath.Join(dir, "config.toml")
	require.NoError(t, config.SaveTOML(cfg, configPath))
	return workspace, configPath
}

func writePlanFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeEnvelope(t *testing.T, out string, v any) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	require.True(t, env.Success, out)
	require.NoError(t, json.Unmarshal(env.Data, v))
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestRunCommandCompletesPlanFile(t *testing.T) {
	ws, cfgPath := testWorkspace(t)
	planFile := writePlanFile(t, ws, `
tasks:
  - id: remember
    capability: memory_set
    params: {key: region, value: eu-west}
  - id: jot
    capability: note
    params: {text: remembered the region}
`)

	out, err := execute(t, "--config", cfgPath, "-w", ws, "--json",
		"run", "-s", "cli1", "--plan-file", planFile, "--on-escalation", "stop", "remember the region")
	require.NoError(t, err, out)

	var result RunResult
	decodeEnvelope(t, out, &result)
	assert.True(t, result.Completed)
	assert.Equal(t, "cli1", result.SessionID)
	require.NotNil(t, result.Plan)
	assert.Contains(t, result.Plan.Scratchpad, "remembered the region")

	out, err = execute(t, "--config", cfgPath, "-w", ws, "--json", "plan", "show", "-s", "cli1")
	require.NoError(t, err, out)
	var shown plan.Plan
	decodeEnvelope(t, out, &shown)
	assert.Equal(t, result.PlanID, shown.ID)

	out, err = execute(t, "--config", cfgPath, "-w", ws, "--json", "session", "show", "cli1")
	require.NoError(t, err, out)
	var snap struct {
		PersistentMemory map[string]any `json:"persistent_memory"`
	}
	decodeEnvelope(t, out, &snap)
	assert.Equal(t, "eu-west", snap.PersistentMemory["region"])

	out, err = execute(t, "--config", cfgPath, "-w", ws, "--json", "session", "list")
	require.NoError(t, err, out)
	var ids []string
	decodeEnvelope(t, out, &ids)
	assert.Equal(t, []string{"cli1"}, ids)
}

func TestRunCommandFailedPlanExitCode(t *testing.T) {
	ws, cfgPath := testWorkspace(t)
	// shell is denied by the default policy, so every attempt fails
	planFile := writePlanFile(t, ws, `
tasks:
  - id: build
    capability: shell
    params: {command: make}
`)

	out, err := execute(t, "--config", cfgPath, "-w", ws, "--json",
		"run", "-s", "cli2", "--plan-file", planFile, "--on-escalation", "stop", "build it")
	require.Error(t, err)
	assert.Equal(t, ExitPlanFailed, ExitCode(err))

	var result RunResult
	decodeEnvelope(t, out, &result)
	assert.False(t, result.Completed)
	assert.Equal(t, plan.StatusFailed, result.Status)
	assert.Equal(t, config.Default().Orchestrator.MaxRetries, result.Replans)
	assert.Equal(t, string(escalation.Stop), result.Resolution)
}

func TestRunCommandUsageErrors(t *testing.T) {
	ws, cfgPath := testWorkspace(t)

	_, err := execute(t, "--config", cfgPath, "-w", ws, "run")
	assert.Equal(t, ExitUsageError, ExitCode(err))

	_, err = execute(t, "--config", cfgPath, "-w", ws, "run", "--on-escalation", "maybe", "x")
	assert.Equal(t, ExitUsageError, ExitCode(err))

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "tools", "list")
	assert.Error(t, err)
}

func TestToolsList(t *testing.T) {
	ws, cfgPath := testWorkspace(t)
	out, err := execute(t, "--config", cfgPath, "-w", ws, "--json", "tools", "list")
	require.NoError(t, err, out)

	var infos []ToolInfo
	decodeEnvelope(t, out, &infos)
	byName := make(map[string]ToolInfo, len(infos))
	for _, info := range infos {
		byName[info.Name] = info
	}

	assert.True(t, byName["read_file"].Permitted)
	assert.False(t, byName["shell"].Permitted, "shell needs shell_execution")
	assert.False(t, byName["web_fetch"].Enabled, "web_fetch is opt-in")
	assert.Contains(t, byName["shell"].Parameters, "command*")
}

func TestConfigSetGet(t *testing.T) {
	_, cfgPath := testWorkspace(t)

	_, err := execute(t, "--config", cfgPath, "config", "set", "orchestrator.max_retries", "5")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "config", "get", "orchestrator.max_retries")
	require.NoError(t, err)
	assert.Equal(t, "5", strings.TrimSpace(out))

	_, err = execute(t, "--config", cfgPath, "config", "set", "orchestrator.max_retries", "99")
	assert.Error(t, err, "out of range values are rejected")

	_, err = execute(t, "--config", cfgPath, "config", "get", "orchestrator.nope")
	assert.Equal(t, ExitUsageError, ExitCode(err))

	out, err = execute(t, "--config", cfgPath, "config", "hash-token", "s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "$2"), out)
}

// =============================================================================
// ESCALATOR
// =============================================================================

type scriptedPrompter struct {
	answers []string
	err     error
	block   bool
}

func (s *scriptedPrompter) Prompt(string) (string, error) {
	if s.block {
		select {}
	}
	if s.err != nil {
		return "", s.err
	}
	next := s.answers[0]
	s.answers = s.answers[1:]
	return next, nil
}

func TestTerminalEscalator(t *testing.T) {
	var out bytes.Buffer
	esc := &TerminalEscalator{Out: &out, Prompt: &scriptedPrompter{answers: []string{"what", "i"}}}

	res, err := esc.Escalate(context.Background(), escalation.Escalation{
		ID:          "e1",
		TaskID:      "build",
		Description: "compile",
		Capability:  "shell",
		Kind:        plan.KindExecution,
		Output:      "make: *** no rule",
		Reason:      "retry limit reached (2)",
	})
	require.NoError(t, err)
	assert.Equal(t, escalation.Inspect, res)
	assert.Contains(t, out.String(), "Please answer stop, continue or inspect.")
	assert.Contains(t, out.String(), "make: *** no rule")
}

func TestTerminalEscalatorAbortStops(t *testing.T) {
	esc := &TerminalEscalator{Out: io.Discard, Prompt: &scriptedPrompter{err: liner.ErrPromptAborted}}
	res, err := esc.Escalate(context.Background(), escalation.Escalation{})
	require.NoError(t, err)
	assert.Equal(t, escalation.Stop, res)
}

func TestTerminalEscalatorCancelled(t *testing.T) {
	esc := &TerminalEscalator{Out: io.Discard, Prompt: &scriptedPrompter{block: true}}
	cause := errors.New("session cancelled")
	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(20*time.Millisecond, func() { cancel(cause) })

	_, err := esc.Escalate(ctx, escalation.Escalation{})
	assert.ErrorIs(t, err, cause)
}

// =============================================================================
// OUTPUT
// =============================================================================

func TestFormatEvent(t *testing.T) {
	line := FormatEvent(events.Event{
		Type:   events.TaskFinished,
		TaskID: "build",
		Status: "failed",
		Kind:   string(plan.KindExecution),
		Output: "exit status 2\nmore",
	}, 80)
	assert.Contains(t, line, "build")
	assert.Contains(t, line, "execution_failure")
	assert.Contains(t, line, "exit status 2 more")

	assert.Empty(t, FormatEvent(events.Event{Type: events.StateChanged}, 80))
}

func TestFitWidth(t *testing.T) {
	assert.Equal(t, "a b", FitWidth("a\n  b", 10))
	assert.Equal(t, "abcdefg...", FitWidth("abcdefghijklmnop", 10))
	// wide runes take two cells each
	assert.LessOrEqual(t, len([]rune(FitWidth("日本語のテキストです", 10))), 8)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{errors.New("boom"), ExitGeneralError},
		{&ExitError{Code: ExitCancelled}, ExitCancelled},
		{&NotFoundError{Resource: "plan", ID: "x"}, ExitNotFoundError},
		{plan.ErrPlanNotFound, ExitNotFoundError},
		{config.ValidateErrors{{Field: "a", Message: "b"}}, ExitConfigError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "%v", tt.err)
	}
}
