// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-agent command line.
//
// Commands:
//   - run      Plan and execute an objective, prompting on escalation
//   - serve    Serve the operator HTTP API
//   - plan     Show or list stored plans
//   - session  List, show or reset session state
//   - tools    List capabilities and whether the policy permits them
//   - config   Show, get, set or initialise configuration
//
// Every command accepts --json and prints a JSONResponse envelope.
// OpenRuntime wires configuration into a running orchestrator and is
// shared by run and serve.
package cli
