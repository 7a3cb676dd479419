// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events carries orchestrator progress to observers.
//
// The orchestrator publishes onto a Bus; subscribers receive events on
// bounded channels. A slow subscriber loses events rather than stalling the
// loop. Forwarders ship events to NATS or to the structured log.
package events
