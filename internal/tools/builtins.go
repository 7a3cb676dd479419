// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"time"

	"golang.org/x/time/rate"
)

// BuiltinOptions configures the built-in capabilities.
type BuiltinOptions struct {
	// ShellTimeout is the default shell command timeout
	ShellTimeout time.Duration

	// WebRatePerSec paces web_fetch; zero disables pacing
	WebRatePerSec float64

	// WebMaxBytes bounds a fetched body
	WebMaxBytes int64

	// AllowPrivateNetworks lets web_fetch reach private addresses
	AllowPrivateNetworks bool
}

// RegisterBuiltins adds every built-in capability to r.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	web := &WebFetchExecutor{
		MaxBytes:     opts.WebMaxBytes,
		AllowPrivate: opts.AllowPrivateNetworks,
	}
	if opts.WebRatePerSec > 0 {
		burst := int(opts.WebRatePerSec)
		if burst < 1 {
			burst = 1
		}
		web.Limiter = rate.NewLimiter(rate.Limit(opts.WebRatePerSec), burst)
	}

	builtins := []*Tool{
		ShellTool(opts.ShellTimeout),
		ReadFileTool(),
		WriteFileTool(),
		ListFilesTool(),
		WebFetchTool(web),
		MemorySetTool(),
		MemoryGetTool(),
		MemoryDeleteTool(),
		EnvCreateTool(),
		EnvAdoptTool(),
		EnvDeleteTool(),
		EnvListTool(),
		KnowledgeStoreTool(),
		KnowledgeSearchTool(),
		NoteTool(),
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
