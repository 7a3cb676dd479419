// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
//
// The planner uses it for non-streaming chat completions in JSON mode.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: chat message with role and content
//   - ChatRequest / ChatResponse: /api/chat bodies
//   - ClientError: categorised failure (not running, timeout, model not found)
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{DefaultModel: "qwen2.5-coder:14b"})
//	text, err := client.GenerateCompletion(ctx, prompt)
package ollama
