// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package escalation hands failed plans to the operator.
//
// When self-correction is exhausted the orchestrator calls an Escalator and
// blocks until the operator answers stop, continue or inspect. Queue is the
// Escalator used by the HTTP API: escalations wait in memory until Resolve
// is called. The CLI supplies a terminal Escalator of its own.
package escalation
