// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides structured JSON logging for rigrun-agent.
//
// Every component receives a *Logger through its constructor and derives
// child loggers with WithComponent or WithSession. Nothing logs through a
// package global.
package logging
