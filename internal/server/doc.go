// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the orchestrator to operators over HTTP.
//
// Endpoints:
//   - GET    /health                           - Liveness and counters
//   - POST   /sessions/{id}/runs               - Start a run for an objective
//   - GET    /sessions/{id}/plan               - Active or latest plan (JSON, ?format=yaml)
//   - GET    /sessions/{id}/plans              - Plan history
//   - POST   /sessions/{id}/cancel             - Cancel everything in the session
//   - GET    /sessions/{id}/processes          - In-flight processes
//   - GET    /sessions/{id}/state              - Session state snapshot
//   - DELETE /sessions/{id}/state              - Reset session state
//   - GET    /sessions/{id}/events             - Server-sent event stream
//   - DELETE /processes/{id}                   - Cancel one process
//   - GET    /escalations                      - Waiting escalations
//   - GET    /escalations/{id}                 - One escalation
//   - POST   /escalations/{id}/resolve         - Answer stop, continue or inspect
//
// Requests pass through recovery, security headers, logging, per-client
// rate limiting and, when a token hash is configured, bearer authentication.
package server
