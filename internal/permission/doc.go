// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package permission implements the capability permission gate.
//
// Every capability declares at most one permission group. Before a
// capability is dispatched the gate checks the group against the
// operator's policy; a disabled group is a PermissionDenied failure and the
// capability is never invoked.
package permission
