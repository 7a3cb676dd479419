// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-agent/internal/escalation"
	"github.com/jeranaias/rigrun-agent/internal/orchestrator"
	"github.com/jeranaias/rigrun-agent/internal/plan"
)

// Escalation modes for the run command.
const (
	EscalatePrompt   = "prompt"
	EscalateStop     = "stop"
	EscalateContinue = "continue"
)

type runOptions struct {
	session      string
	planFile     string
	resume       string
	onEscalation string
}

// RunResult is the JSON form of a finished run.
type RunResult struct {
	SessionID  string      `json:"session_id"`
	PlanID     string      `json:"plan_id"`
	Status     plan.Status `json:"status"`
	Completed  bool        `json:"completed"`
	Cancelled  bool        `json:"cancelled"`
	Resolution string      `json:"resolution,omitempty"`
	Replans    int         `json:"replans"`
	Plan       *plan.Plan  `json:"plan,omitempty"`
}

func newRunCommand(g *GlobalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [objective]",
		Short: "Plan and execute an objective",
		Long: `Plan and execute an objective in a session.

The first interrupt cancels the session: the running capability is
cancelled, the plan is marked failed and saved. Use --resume to continue an
interrupted plan.`,
		Example: `  rigrun-agent run -s build "build and test the project"
  rigrun-agent run -s build --plan-file plan.yaml "build"
  rigrun-agent run -s build --resume 6f1c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjective(cmd, g, opts, strings.TrimSpace(strings.Join(args, " ")))
		},
	}
	cmd.Flags().StringVarP(&opts.session, "session", "s", "default", "session ID")
	cmd.Flags().StringVar(&opts.planFile, "plan-file", "", "YAML plan document to execute instead of asking the planner")
	cmd.Flags().StringVar(&opts.resume, "resume", "", "resume a stored plan by ID")
	cmd.Flags().StringVar(&opts.onEscalation, "on-escalation", EscalatePrompt, "prompt, stop or continue")
	return cmd
}

func escalatorFor(mode string, out io.Writer) (escalation.Escalator, error) {
	switch mode {
	case EscalatePrompt:
		if !CanPrompt() {
			return escalation.Always(escalation.Stop), nil
		}
		return NewTerminalEscalator(out), nil
	case EscalateStop:
		return escalation.Always(escalation.Stop), nil
	case EscalateContinue:
		return escalation.Always(escalation.Continue), nil
	}
	return nil, fmt.Errorf("invalid --on-escalation %q (want prompt, stop or continue)", mode)
}

func runObjective(cmd *cobra.Command, g *GlobalOptions, opts *runOptions, objective string) error {
	if objective == "" && opts.resume == "" {
		return &ExitError{Code: ExitUsageError, Err: errors.New("an objective or --resume is required")}
	}
	out := cmd.OutOrStdout()
	escalator, err := escalatorFor(opts.onEscalation, out)
	if err != nil {
		return &ExitError{Code: ExitUsageError, Err: err}
	}

	ctx := cmd.Context()
	rt, err := OpenRuntime(ctx, g, RuntimeOptions{
		Escalator: escalator,
		PlanFile:  opts.planFile,
		Quiet:     true,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	if !g.JSON {
		ch, unsubscribe := rt.Bus.Subscribe(0)
		done := make(chan struct{})
		go func() {
			defer close(done)
			PrintEvents(out, ch, opts.session)
		}()
		defer func() {
			unsubscribe()
			<-done
		}()
	}

	res, err := rt.Orchestrator.Reserve(opts.session)
	if err != nil {
		return err
	}
	defer res.Release()

	// An interrupt cancels the session rather than abandoning the run, so
	// the plan is saved in its cancelled state.
	runCtx := context.WithoutCancel(ctx)
	stop := context.AfterFunc(ctx, func() { rt.Orchestrator.Cancel(opts.session) })
	defer stop()

	var outcome *orchestrator.Outcome
	if opts.resume != "" {
		p, err := rt.Plans.Load(opts.session, opts.resume)
		if err != nil {
			return err
		}
		outcome, err = res.Execute(runCtx, p)
		if err != nil {
			return err
		}
	} else {
		outcome, err = res.Start(runCtx, objective)
		if err != nil {
			return err
		}
	}
	return reportOutcome(out, g.JSON, outcome)
}

func reportOutcome(out io.Writer, jsonMode bool, o *orchestrator.Outcome) error {
	result := RunResult{
		SessionID:  o.SessionID,
		PlanID:     o.PlanID,
		Status:     o.Status,
		Completed:  o.Completed,
		Cancelled:  o.Cancelled,
		Resolution: string(o.Resolution),
		Replans:    o.Replans,
		Plan:       o.Plan,
	}
	if jsonMode {
		if err := NewJSONResponse("run", result).Write(out); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out)
		fmt.Fprintln(out, RenderField("Plan", o.PlanID))
		fmt.Fprintln(out, RenderField("Status", RenderStatus(outcomeLabel(o))))
		fmt.Fprintln(out, RenderField("Replans", fmt.Sprint(o.Replans)))
		if o.Resolution != "" {
			fmt.Fprintln(out, RenderField("Resolution", string(o.Resolution)))
		}
	}

	switch {
	case o.Completed:
		return nil
	case o.Cancelled:
		return &ExitError{Code: ExitCancelled, Err: errors.New("run cancelled")}
	}
	return &ExitError{Code: ExitPlanFailed, Err: fmt.Errorf("plan %s failed", o.PlanID)}
}

func outcomeLabel(o *orchestrator.Outcome) string {
	switch {
	case o.Completed:
		return "completed"
	case o.Cancelled:
		return "cancelled"
	}
	return string(o.Status)
}
