// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package knowledge is the durable fact store capabilities write to.
//
// Entries live under a hierarchical path (for example
// ["project", "build", "flags"]) in one of two scopes: local (this
// workspace) or global (shared across workspaces). Each scope is a bleve
// full-text index so entries can be found again by content or summary.
package knowledge
