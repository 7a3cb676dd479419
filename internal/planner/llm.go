// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/tools"
	"github.com/jeranaias/rigrun-agent/internal/util"
)

const (
	maxResponseSize = 1024 * 1024 // 1MB
	minTasks        = 1
	maxTasks        = 50

	// maxPromptOutput bounds each task output quoted back to the model.
	maxPromptOutput = 2000
)

// ErrNoClient is returned when the planner has no model client.
var ErrNoClient = errors.New("LLM client not configured")

// =============================================================================
// LLM CLIENT INTERFACE
// =============================================================================

// LLMClient generates text completions.
type LLMClient interface {
	GenerateCompletion(ctx context.Context, prompt string) (string, error)
}

// =============================================================================
// LLM PLANNER
// =============================================================================

// LLMPlanner builds plans by prompting a language model.
type LLMPlanner struct {
	client LLMClient
	tools  []*tools.Tool
	known  map[string]bool
	logger *logging.Logger
}

// NewLLMPlanner creates a planner offering caps to the model.
func NewLLMPlanner(client LLMClient, caps []*tools.Tool, logger *logging.Logger) *LLMPlanner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	known := make(map[string]bool, len(caps))
	for _, t := range caps {
		known[t.Name] = true
	}
	return &LLMPlanner{
		client: client,
		tools:  caps,
		known:  known,
		logger: logger.WithComponent("planner"),
	}
}

// Plan implements plan.Planner.
func (p *LLMPlanner) Plan(ctx context.Context, objective string, history []*plan.Plan) (plan.Proposal, error) {
	if p.client == nil {
		return plan.Proposal{}, ErrNoClient
	}
	prompt := p.buildPlanPrompt(objective, history)
	return p.complete(ctx, prompt)
}

// Replan implements plan.Planner.
func (p *LLMPlanner) Replan(ctx context.Context, current *plan.Plan, failure plan.Failure) (plan.Proposal, error) {
	if p.client == nil {
		return plan.Proposal{}, ErrNoClient
	}
	prompt := p.buildReplanPrompt(current, failure)
	return p.complete(ctx, prompt)
}

func (p *LLMPlanner) complete(ctx context.Context, prompt string) (plan.Proposal, error) {
	response, err := p.client.GenerateCompletion(ctx, prompt)
	if err != nil {
		return plan.Proposal{}, fmt.Errorf("failed to generate plan: %w", err)
	}
	proposal, err := p.parseResponse(response)
	if err != nil {
		p.logger.Warn("unusable planner response", "error", err, "bytes", len(response))
		return plan.Proposal{}, fmt.Errorf("failed to parse plan: %w", err)
	}
	p.logger.Debug("planner proposed tasks", "tasks", len(proposal.Tasks))
	return proposal, nil
}

// =============================================================================
// PROMPTS
// =============================================================================

// Catalog renders the capabilities the model may use.
func Catalog(caps []*tools.Tool) string {
	var b strings.Builder
	for _, t := range caps {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Summary())
		for _, param := range t.Schema.Parameters {
			req := ""
			if param.Required {
				req = ", required"
			}
			fmt.Fprintf(&b, "    %s (%s%s)", param.Name, param.Type, req)
			if param.Description != "" {
				fmt.Fprintf(&b, ": %s", param.Description)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

const responseFormat = `Format your response as JSON with this structure:
{
  "notes": "Brief reasoning about the approach",
  "tasks": [
    {
      "description": "What this task does",
      "capability": "capability_name",
      "params": {"param": "value"}
    }
  ]
}

Use only the capabilities listed. Respond with ONLY the JSON, no additional text.`

func (p *LLMPlanner) buildPlanPrompt(objective string, history []*plan.Plan) string {
	var b strings.Builder
	b.WriteString("You are a task planning assistant. Break the objective into a short sequence of tasks, each executed by one capability.\n\n")
	fmt.Fprintf(&b, "Objective: %s\n\n", objective)

	if len(history) > 0 {
		b.WriteString("Earlier plans in this session:\n")
		for _, h := range history {
			snap := h.Snapshot()
			fmt.Fprintf(&b, "- %q (%s, %d tasks)\n", h.Objective, h.CurrentStatus(), len(snap.Tasks))
		}
		b.WriteString("\n")
	}

	b.WriteString("Available capabilities:\n")
	b.WriteString(Catalog(p.tools))
	b.WriteString("\n")
	b.WriteString(responseFormat)
	return b.String()
}

func (p *LLMPlanner) buildReplanPrompt(current *plan.Plan, failure plan.Failure) string {
	snap := current.Snapshot()

	var b strings.Builder
	b.WriteString("You are a task planning assistant. A task in the plan failed. Propose replacement tasks for everything after the completed work.\n\n")
	fmt.Fprintf(&b, "Objective: %s\n\n", current.Objective)

	b.WriteString("Completed tasks:\n")
	for _, t := range snap.Tasks {
		if t.Status != plan.TaskCompleted || t.Result == nil {
			continue
		}
		out := util.TruncateRunes(t.Result.Output, maxPromptOutput)
		fmt.Fprintf(&b, "- %s [%s]: %s\n", t.Description, t.Capability, out)
	}

	params, _ := json.Marshal(failure.Params)
	fmt.Fprintf(&b, "\nFailed task (attempt %d): %s\n", failure.RetryCount, failure.Description)
	fmt.Fprintf(&b, "Capability: %s\nParams: %s\nFailure kind: %s\nOutput:\n%s\n\n",
		failure.Capability, params, failure.Kind, util.TruncateRunes(failure.Output, maxPromptOutput))

	var pending []string
	for _, t := range snap.Tasks {
		if t.Status == plan.TaskPending {
			pending = append(pending, fmt.Sprintf("- %s [%s]", t.Description, t.Capability))
		}
	}
	if len(pending) > 0 {
		b.WriteString("Tasks that were still pending:\n")
		b.WriteString(strings.Join(pending, "\n"))
		b.WriteString("\n\n")
	}
	if snap.Scratchpad != "" {
		fmt.Fprintf(&b, "Scratchpad:\n%s\n", util.TruncateRunes(snap.Scratchpad, maxPromptOutput))
	}

	b.WriteString("Available capabilities:\n")
	b.WriteString(Catalog(p.tools))
	b.WriteString("\n")
	b.WriteString(responseFormat)
	return b.String()
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

type responseData struct {
	Notes string `json:"notes"`
	Tasks []struct {
		ID          string         `json:"id"`
		Description string         `json:"description"`
		Capability  string         `json:"capability"`
		Params      map[string]any `json:"params"`
	} `json:"tasks"`
}

// parseResponse parses the model's JSON into a Proposal.
func (p *LLMPlanner) parseResponse(response string) (plan.Proposal, error) {
	if len(response) > maxResponseSize {
		return plan.Proposal{}, fmt.Errorf("response too large: %d bytes (max: %d)", len(response), maxResponseSize)
	}

	response = stripFences(response)

	var data responseData
	if err := json.Unmarshal([]byte(response), &data); err != nil {
		return plan.Proposal{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if len(data.Tasks) < minTasks {
		return plan.Proposal{}, fmt.Errorf("plan must have at least %d task(s), got %d", minTasks, len(data.Tasks))
	}
	if len(data.Tasks) > maxTasks {
		return plan.Proposal{}, fmt.Errorf("plan has too many tasks: %d (max: %d)", len(data.Tasks), maxTasks)
	}

	out := plan.Proposal{Notes: strings.TrimSpace(data.Notes), Tasks: make([]plan.TaskDraft, 0, len(data.Tasks))}
	for i, t := range data.Tasks {
		capName := strings.TrimSpace(t.Capability)
		if capName == "" {
			return plan.Proposal{}, fmt.Errorf("task %d has no capability", i+1)
		}
		if len(p.known) > 0 && !p.known[capName] {
			return plan.Proposal{}, fmt.Errorf("task %d uses unknown capability %q", i+1, capName)
		}
		desc := strings.TrimSpace(t.Description)
		if desc == "" {
			desc = capName
		}
		out.Tasks = append(out.Tasks, plan.TaskDraft{
			ID:          strings.TrimSpace(t.ID),
			Description: desc,
			Capability:  capName,
			Params:      t.Params,
		})
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
