// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import "context"

// =============================================================================
// PLANNER CONTRACT
// =============================================================================

// TaskDraft is a task proposed by a planner, before it joins a plan.
type TaskDraft struct {
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	Description string         `json:"description" yaml:"description"`
	Capability  string         `json:"capability" yaml:"capability"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Proposal is what a planner returns: the task sequence plus any
// investigation it did on the way.
type Proposal struct {
	Tasks         []TaskDraft `json:"tasks" yaml:"tasks"`
	Investigation []Record    `json:"investigation,omitempty" yaml:"investigation,omitempty"`
	Notes         string      `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Failure describes the task that triggered a revision.
type Failure struct {
	TaskID      string
	Description string
	Capability  string
	Params      map[string]any
	Kind        FailureKind
	Output      string
	RetryCount  int
}

// FailureOf builds a Failure from a failed task.
func FailureOf(t *Task, retryCount int) Failure {
	f := Failure{
		TaskID:      t.ID,
		Description: t.Description,
		Capability:  t.Capability,
		Params:      cloneParams(t.Params),
		RetryCount:  retryCount,
	}
	if t.Result != nil {
		f.Kind = t.Result.Kind
		f.Output = t.Result.Output
	}
	return f
}

// Planner produces the initial plan for an objective and revises the
// remaining tasks after a failure. Implementations must honour ctx.
type Planner interface {
	// Plan proposes tasks for objective. history holds earlier plans of
	// the same session, oldest first.
	Plan(ctx context.Context, objective string, history []*Plan) (Proposal, error)

	// Replan proposes a replacement for the pending suffix of current.
	Replan(ctx context.Context, current *Plan, failure Failure) (Proposal, error)
}
