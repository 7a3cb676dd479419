// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package plan holds the plan and task state machine used by the
// orchestrator.
//
// # Key Types
//
//   - Plan: an objective, an append-only scratchpad, an ordered list of
//     tasks, an investigation trail and the stale snapshots archived before
//     each revision
//   - Task: one capability invocation with a monotonic status
//   - Planner: the contract for producing and revising plans
//   - Store: persistence of plans as flat JSON documents
//
// # Usage
//
//	p, err := plan.New(sessionID, "make the tests pass", proposal)
//	task := p.NextPending()
//	_ = p.StartTask(task.ID)
//	_ = p.FinishTask(task.ID, plan.Result{Success: true, Output: "ok"})
//
// # Invariants
//
// Task status only moves forward: pending, in_progress, then completed or
// failed. A revision replaces only the pending suffix of the task list;
// executed tasks are never edited.
package plan
