// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proposal(caps ...string) Proposal {
	p := Proposal{}
	for i, c := range caps {
		p.Tasks = append(p.Tasks, TaskDraft{
			ID:          c,
			Description: "step " + c,
			Capability:  c,
			Params:      map[string]any{"n": i},
		})
	}
	return p
}

func TestNewPlan(t *testing.T) {
	p, err := New("s1", "build it", proposal("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, 0, p.RetryCount)
	require.Len(t, p.Tasks, 2)
	for _, task := range p.Tasks {
		assert.Equal(t, TaskPending, task.Status)
		assert.Nil(t, task.Result)
	}

	_, err = New("s1", "  ", proposal("a"))
	assert.Error(t, err)
	_, err = New("s1", "x", Proposal{})
	assert.ErrorIs(t, err, ErrEmptyPlan)
	_, err = New("s1", "x", proposal("a", "a"))
	assert.ErrorIs(t, err, ErrDuplicateTask)
	_, err = New("s1", "x", Proposal{Tasks: []TaskDraft{{Description: "no capability"}}})
	assert.Error(t, err)
}

func TestTaskStatusIsMonotonic(t *testing.T) {
	task := &Task{ID: "t", Status: TaskPending}

	require.ErrorIs(t, task.Finish(Succeeded("early")), ErrInvalidTransition)
	require.NoError(t, task.Start())
	require.ErrorIs(t, task.Start(), ErrInvalidTransition)
	require.NoError(t, task.Finish(Succeeded("done")))
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, KindNone, task.Result.Kind)

	err := task.Finish(Failed(KindExecution, "again"))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "done", task.Result.Output, "result is set exactly once")
	require.ErrorIs(t, task.Start(), ErrInvalidTransition)
}

func TestTaskFailWithoutDispatch(t *testing.T) {
	task := &Task{ID: "t", Status: TaskPending}
	require.NoError(t, task.Finish(Failed(KindPermissionDenied, "shell disabled")))
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, KindPermissionDenied, task.Result.Kind)
	assert.True(t, task.StartedAt.IsZero())
}

func TestFinishDefaultsFailureKind(t *testing.T) {
	task := &Task{ID: "t", Status: TaskPending}
	require.NoError(t, task.Start())
	require.NoError(t, task.Finish(Result{Success: false, Output: "boom"}))
	assert.Equal(t, KindExecution, task.Result.Kind)
}

func TestReviseReplacesOnlyPendingSuffix(t *testing.T) {
	p, err := New("s1", "obj", proposal("create_env", "install_deps", "run_tests"))
	require.NoError(t, err)

	require.NoError(t, p.StartTask("create_env"))
	require.NoError(t, p.FinishTask("create_env", Succeeded("created")))
	require.NoError(t, p.StartTask("install_deps"))
	require.NoError(t, p.FinishTask("install_deps", Failed(KindExecution, "resolver error")))

	p.IncrementRetry()
	err = p.Revise("install_deps", []TaskDraft{
		{ID: "install_deps_retry", Capability: "install_deps_retry"},
		{ID: "run_tests_2", Capability: "run_tests"},
	}, "retrying with pinned versions")
	require.NoError(t, err)

	require.Len(t, p.Tasks, 4)
	assert.Equal(t, "create_env", p.Tasks[0].ID)
	assert.Equal(t, TaskCompleted, p.Tasks[0].Status)
	assert.Equal(t, "install_deps", p.Tasks[1].ID)
	assert.Equal(t, TaskFailed, p.Tasks[1].Status)
	assert.True(t, p.Tasks[1].Superseded)
	assert.Equal(t, "install_deps_retry", p.Tasks[2].ID)
	assert.Equal(t, TaskPending, p.Tasks[2].Status)
	assert.Equal(t, StatusActive, p.Status)

	require.Len(t, p.Attempts, 1)
	snap := p.Attempts[0]
	assert.Equal(t, StatusStale, snap.Status)
	require.Len(t, snap.Tasks, 3)
	assert.Equal(t, "run_tests", snap.Tasks[2].ID)
	assert.Equal(t, 1, snap.RetryCount)
	assert.Contains(t, p.Scratchpad, "pinned versions")
}

func TestReviseRejectsNonFailedTask(t *testing.T) {
	p, err := New("s1", "obj", proposal("a", "b"))
	require.NoError(t, err)
	err = p.Revise("a", nil, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, p.Attempts)

	err = p.Revise("missing", nil, "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestReviseRollsBackOnBadDrafts(t *testing.T) {
	p, err := New("s1", "obj", proposal("a", "b"))
	require.NoError(t, err)
	require.NoError(t, p.StartTask("a"))
	require.NoError(t, p.FinishTask("a", Failed(KindExecution, "x")))

	err = p.Revise("a", []TaskDraft{{ID: "a", Capability: "a"}}, "")
	require.ErrorIs(t, err, ErrDuplicateTask)
	assert.Empty(t, p.Attempts)
	require.Len(t, p.Tasks, 2)
	assert.Equal(t, "b", p.Tasks[1].ID)
	assert.False(t, p.Tasks[0].Superseded)
}

func TestIsComplete(t *testing.T) {
	p, err := New("s1", "obj", proposal("a", "b"))
	require.NoError(t, err)
	assert.False(t, p.IsComplete())

	require.NoError(t, p.StartTask("a"))
	require.NoError(t, p.FinishTask("a", Failed(KindExecution, "x")))
	assert.False(t, p.IsComplete())

	require.NoError(t, p.AcceptTask("a"))
	require.NoError(t, p.StartTask("b"))
	require.NoError(t, p.FinishTask("b", Succeeded("ok")))
	assert.True(t, p.IsComplete())
	assert.Nil(t, p.NextPending())
}

func TestAcceptRequiresFailedTask(t *testing.T) {
	p, err := New("s1", "obj", proposal("a"))
	require.NoError(t, err)
	assert.ErrorIs(t, p.AcceptTask("a"), ErrInvalidTransition)
}

func TestScratchpadIsAppendOnly(t *testing.T) {
	p, err := New("s1", "obj", Proposal{Tasks: proposal("a").Tasks, Notes: "first"})
	require.NoError(t, err)
	p.AppendScratchpad("second")
	p.AppendScratchpad("")
	assert.Equal(t, "first\nsecond\n", p.Scratchpad)
}

func TestFailAndReactivate(t *testing.T) {
	p, err := New("s1", "obj", proposal("a"))
	require.NoError(t, err)
	p.Fail()
	assert.Equal(t, StatusFailed, p.CurrentStatus())
	require.NoError(t, p.Reactivate())
	assert.Equal(t, StatusActive, p.CurrentStatus())
}

func TestCloneIsIndependent(t *testing.T) {
	p, err := New("s1", "obj", proposal("a"))
	require.NoError(t, err)
	c := p.Clone()
	c.Tasks[0].Params["n"] = 99
	c.Tasks[0].Status = TaskFailed
	assert.Equal(t, 0, p.Tasks[0].Params["n"])
	assert.Equal(t, TaskPending, p.Tasks[0].Status)
}

func TestFailureOf(t *testing.T) {
	task := &Task{ID: "t", Capability: "shell", Status: TaskPending}
	require.NoError(t, task.Start())
	require.NoError(t, task.Finish(Failed(KindTransient, "timed out")))
	f := FailureOf(task, 2)
	assert.Equal(t, KindTransient, f.Kind)
	assert.Equal(t, "timed out", f.Output)
	assert.Equal(t, 2, f.RetryCount)
	assert.True(t, errors.Is(task.Finish(Succeeded("")), ErrInvalidTransition))
}

func TestUnresolvedAndInterrupt(t *testing.T) {
	p, err := New("s1", "obj", proposal("a", "b", "c"))
	require.NoError(t, err)
	assert.Nil(t, p.Unresolved())

	require.NoError(t, p.StartTask("a"))
	ids := p.Interrupt("host restarted")
	assert.Equal(t, []string{"a"}, ids)

	a, _ := p.Task("a")
	assert.Equal(t, TaskFailed, a.Status)
	assert.Equal(t, KindCancellation, a.Result.Kind)
	assert.Equal(t, a, p.Unresolved())

	require.NoError(t, p.AcceptTask("a"))
	assert.Nil(t, p.Unresolved())
	assert.Empty(t, p.Interrupt("again"))
}
