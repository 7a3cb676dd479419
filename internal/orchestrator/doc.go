// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator runs the plan-execute-observe loop.
//
// An Orchestrator takes an objective, asks the planner for a plan, and
// dispatches its tasks one at a time: each task's parameters are validated
// against the capability schema, the permission gate is consulted, a
// process is registered for cancellation, and the capability runs inside a
// fresh ExecutionContext. Failed tasks go to the Controller, which asks the
// planner for a revised suffix up to Config.MaxRetries times and then
// escalates to the operator (stop, continue, inspect).
//
// All collaborators are injected through Deps. Sessions run concurrently;
// within one session exactly one run is active at a time.
//
// # Cancellation
//
// CancelProcess aborts a single dispatch; the task fails with
// cancellation_error and goes through self-correction like any failure.
// Cancel aborts the whole session: the in-flight task fails, the plan is
// marked failed, and no correction is attempted. A caller that hands a run
// to another goroutine should Reserve the session first; a Cancel issued
// after Reserve returns applies to the run started from that Reservation.
package orchestrator
