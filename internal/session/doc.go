// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the durable per-session state shared by
// capabilities: the active environment, the append-only environment
// history, and a free-form persistent memory map.
//
// State survives restarts through a Store. Two stores are provided:
// SQLiteStore (default) and FileStore (one JSON document per session).
package session
