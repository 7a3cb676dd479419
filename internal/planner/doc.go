// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package planner provides plan.Planner implementations.
//
//   - LLMPlanner asks a language model (Ollama) for a JSON task list built
//     from the capability catalog, and for revised suffixes after failures.
//   - FilePlanner reads a fixed YAML plan; on failure it retries the failed
//     task once per revision and keeps the rest. Useful for scripted runs
//     and tests.
package planner
