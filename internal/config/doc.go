// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigrun-agent.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_*, optionally from a .env file)
//   - $RIGRUN_CONFIG or ~/.rigrun-agent/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gate := permission.NewGate(cfg.Policy())
//
// A Watcher reloads the file on change so the permission policy can be
// swapped while the process runs.
package config
