// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools is the capability registry.
//
// A capability (a Tool) is a named, schema-described operation the
// orchestrator can dispatch. Each declares at most one permission group,
// whether it is available by default, and whether it touches session
// state. The registry is filled at startup, sealed, and read concurrently
// afterwards.
//
// # Key Types
//
//   - Tool: name, description, parameter schema, permission group, executor
//   - ToolExecutor: Execute(ctx, params, *ExecutionContext) (Result, error)
//   - ExecutionContext: the per-dispatch view of plan, session state,
//     planner, knowledge store and workspace
//   - Registry: Register / Lookup / Seal
//
// # Errors and Results
//
// A capability that ran and failed returns a Result with Success=false and a
// nil error. A returned error means the dispatch itself did not complete:
// the context was cancelled, or the failure is transient (ErrTransient).
//
// # Usage
//
//	reg := tools.NewRegistry()
//	if err := tools.RegisterBuiltins(reg, tools.BuiltinOptions{}); err != nil { ... }
//	reg.Seal()
//	tool, err := reg.Lookup("read_file")
package tools
