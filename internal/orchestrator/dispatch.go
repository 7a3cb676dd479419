// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/events"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/process"
	"github.com/jeranaias/rigrun-agent/internal/session"
	"github.com/jeranaias/rigrun-agent/internal/tools"
)

// dispatch runs one pending task to a terminal status. Rejections (unknown
// capability, bad arguments, denied group) fail the task without invoking
// the capability.
func (o *Orchestrator) dispatch(ctx context.Context, p *plan.Plan, task *plan.Task, state *session.State, log *logging.Logger) {
	log = log.With("task_id", task.ID, "capability", task.Capability)

	if reject := o.admit(task); reject != nil {
		o.reject(p, task, *reject, log)
		return
	}
	tool, _ := o.deps.Registry.Lookup(task.Capability)

	if err := p.StartTask(task.ID); err != nil {
		log.Error("could not start task", "error", err)
		return
	}
	o.publish(events.Event{
		Type:       events.TaskStarted,
		SessionID:  p.SessionID,
		PlanID:     p.ID,
		TaskID:     task.ID,
		Capability: task.Capability,
		Status:     string(plan.TaskInProgress),
	})

	pid, pctx := o.deps.Processes.Begin(ctx, p.SessionID, task.Description)
	defer o.deps.Processes.End(pid)
	if o.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, o.cfg.TaskTimeout)
		defer cancel()
	}
	pctx, span := startTaskSpan(pctx, task)

	ec := &tools.ExecutionContext{
		SessionID:         p.SessionID,
		ProcessID:         pid,
		Registry:          o.deps.Registry,
		Plan:              p,
		ActiveEnvironment: state.ActiveEnvironment(),
		Planner:           o.deps.Planner,
		Knowledge:         o.deps.Knowledge,
		Workspace:         o.deps.Workspace,
		Logger:            log,
	}
	if tool.UsesSessionState {
		ec.State = state
	}

	start := time.Now()
	res, err := invoke(pctx, tool, task.Params, ec)
	result := classify(pctx, res, err)
	endTaskSpan(span, result, err)

	if ferr := p.FinishTask(task.ID, result); ferr != nil {
		log.Error("could not finish task", "error", ferr)
	}
	log.Info("task finished",
		"success", result.Success,
		"kind", string(result.Kind),
		"duration", time.Since(start).String(),
	)
	o.publish(events.Event{
		Type:       events.TaskFinished,
		SessionID:  p.SessionID,
		PlanID:     p.ID,
		TaskID:     task.ID,
		Capability: task.Capability,
		Status:     string(statusOf(result)),
		Kind:       string(result.Kind),
		Output:     result.Output,
	})

	if tool.UsesSessionState && state.Dirty() {
		o.persistState(p.SessionID, state, log)
	}
}

// admit runs the pre-dispatch checks in order: lookup, enablement,
// argument validation, permission gate.
func (o *Orchestrator) admit(task *plan.Task) *plan.Result {
	tool, err := o.deps.Registry.Lookup(task.Capability)
	if err != nil {
		r := plan.Failed(plan.KindValidation, fmt.Sprintf("unknown capability %q", task.Capability))
		return &r
	}
	if !tool.IsDefault && !o.cfg.Enabled[tool.Name] {
		r := plan.Failed(plan.KindPermissionDenied, fmt.Sprintf("capability %s is not enabled", tool.Name))
		return &r
	}
	if err := tools.ValidateArgs(tool.Schema, task.Params); err != nil {
		r := plan.Failed(plan.KindValidation, err.Error())
		return &r
	}
	if err := o.deps.Gate.Check(tool.Name, tool.PermissionGroup); err != nil {
		r := plan.Failed(plan.KindPermissionDenied, err.Error())
		return &r
	}
	return nil
}

func (o *Orchestrator) reject(p *plan.Plan, task *plan.Task, r plan.Result, log *logging.Logger) {
	if err := p.FinishTask(task.ID, r); err != nil {
		log.Error("could not reject task", "error", err)
		return
	}
	log.Warn("task rejected", "kind", string(r.Kind), "reason", r.Output)
	o.publish(events.Event{
		Type:       events.TaskFinished,
		SessionID:  p.SessionID,
		PlanID:     p.ID,
		TaskID:     task.ID,
		Capability: task.Capability,
		Status:     string(plan.TaskFailed),
		Kind:       string(r.Kind),
		Output:     r.Output,
	})
}

func (o *Orchestrator) persistState(sessionID string, state *session.State, log *logging.Logger) {
	// Persist even if the dispatch context was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.deps.Sessions.Persist(ctx, sessionID, state); err != nil {
		log.Error("failed to persist session state", "error", err)
		return
	}
	state.MarkClean()
	o.publish(events.Event{Type: events.StateChanged, SessionID: sessionID})
}

// invoke calls the capability, turning a panic into an error.
func invoke(ctx context.Context, tool *tools.Tool, params map[string]any, ec *tools.ExecutionContext) (res tools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			ec.Logger.Error("capability panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("capability %s panicked: %v", tool.Name, r)
		}
	}()
	return tool.Executor.Execute(ctx, params, ec)
}

// classify maps a capability outcome to a task result. An operator
// cancellation wins over whatever the capability reported.
func classify(ctx context.Context, res tools.Result, err error) plan.Result {
	if err == nil && res.Success {
		return plan.Succeeded(res.Output)
	}

	output := res.Output
	if err != nil {
		if output != "" {
			output += "\n"
		}
		output += err.Error()
	}

	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, process.ErrSessionCancelled), errors.Is(cause, process.ErrProcessCancelled):
		return plan.Failed(plan.KindCancellation, cause.Error())
	case err == nil:
		return plan.Failed(plan.KindExecution, output)
	case errors.Is(err, tools.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return plan.Failed(plan.KindTransient, output)
	case errors.Is(err, context.Canceled):
		return plan.Failed(plan.KindCancellation, output)
	}
	return plan.Failed(plan.KindExecution, output)
}

func statusOf(r plan.Result) plan.TaskStatus {
	if r.Success {
		return plan.TaskCompleted
	}
	return plan.TaskFailed
}
