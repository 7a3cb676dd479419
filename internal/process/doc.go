// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package process tracks cancellable in-flight operations.
//
// Every capability dispatch and every planner call runs as a Process: Begin
// hands back a derived context, End removes the entry. Cancel aborts one
// operation; CancelAll aborts everything a session has in flight and keeps
// the session marked cancelled until it is reopened.
//
// # Usage
//
//	id, ctx := reg.Begin(ctx, sessionID, "shell: go test ./...")
//	defer reg.End(id)
//	result, err := capability.Execute(ctx, params, ec)
//	if errors.Is(context.Cause(ctx), process.ErrSessionCancelled) { ... }
package process
