// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-agent/internal/escalation"
	"github.com/jeranaias/rigrun-agent/internal/events"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/process"
)

// Action is what the loop does after a correction attempt.
type Action int

const (
	// ActionReplanned - the pending suffix was revised, keep going
	ActionReplanned Action = iota

	// ActionContinue - the operator accepted the failure, keep going
	ActionContinue

	// ActionStop - the plan stays failed
	ActionStop

	// ActionCancelled - the session was cancelled during correction
	ActionCancelled
)

func (a Action) String() string {
	switch a {
	case ActionReplanned:
		return "replanned"
	case ActionContinue:
		return "continue"
	case ActionStop:
		return "stop"
	case ActionCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Decision is the result of AttemptCorrection.
type Decision struct {
	Action       Action
	Resolution   escalation.Resolution
	EscalationID string
}

// Controller decides between replanning and escalation for a failed task.
type Controller struct {
	// MaxRetries bounds replans per plan; the counter is never reset
	MaxRetries int

	// Timeout bounds each planner call
	Timeout time.Duration

	Planner   plan.Planner
	Escalator escalation.Escalator
	Processes *process.Registry
	Plans     plan.Store
	Events    events.Publisher
	Logger    *logging.Logger
}

// AttemptCorrection handles one unresolved failed task. While the plan's
// retry counter is below MaxRetries the planner is asked for a revised
// suffix; otherwise, or if the planner cannot help, the operator decides.
func (c *Controller) AttemptCorrection(ctx context.Context, p *plan.Plan, failed *plan.Task) Decision {
	log := c.logger().WithSession(p.SessionID).With("plan_id", p.ID, "task_id", failed.ID)

	if c.Processes.SessionCancelled(p.SessionID) {
		return Decision{Action: ActionCancelled}
	}

	if p.Retries() >= c.MaxRetries {
		return c.escalate(ctx, p, failed, fmt.Sprintf("retry limit reached (%d)", c.MaxRetries), log)
	}

	retry := p.IncrementRetry()
	failure := plan.FailureOf(failed, retry)
	c.publish(events.Event{
		Type:       events.ReplanRequested,
		SessionID:  p.SessionID,
		PlanID:     p.ID,
		TaskID:     failed.ID,
		Kind:       string(failure.Kind),
		Output:     failure.Output,
		RetryCount: retry,
	})
	log.Info("requesting revised plan", "retry", retry, "kind", string(failure.Kind))

	ctx, span := startCorrectionSpan(ctx, failed.ID, retry)
	proposal, err := c.replan(ctx, p, failure)
	endSpan(span, "replan", err)

	if c.Processes.SessionCancelled(p.SessionID) || ctx.Err() != nil {
		return Decision{Action: ActionCancelled}
	}
	if err != nil {
		log.Warn("planner could not revise plan", "error", err)
		return c.escalate(ctx, p, failed, "planner failed: "+err.Error(), log)
	}
	if len(proposal.Tasks) == 0 {
		return c.escalate(ctx, p, failed, "planner returned no tasks", log)
	}

	note := fmt.Sprintf("retry %d: %s failed (%s)", retry, failed.ID, failure.Kind)
	if proposal.Notes != "" {
		note += "\n" + proposal.Notes
	}
	if err := p.Revise(failed.ID, proposal.Tasks, note); err != nil {
		log.Warn("revised plan rejected", "error", err)
		return c.escalate(ctx, p, failed, "revised plan rejected: "+err.Error(), log)
	}
	for _, r := range proposal.Investigation {
		p.AddInvestigation(r)
	}
	c.save(p, log)

	c.publish(events.Event{
		Type:       events.PlanRevised,
		SessionID:  p.SessionID,
		PlanID:     p.ID,
		TaskID:     failed.ID,
		RetryCount: retry,
		Message:    fmt.Sprintf("%d tasks proposed", len(proposal.Tasks)),
	})
	log.Info("plan revised", "retry", retry, "tasks", len(proposal.Tasks))
	return Decision{Action: ActionReplanned}
}

// replan runs the planner as a cancellable process bounded by Timeout.
func (c *Controller) replan(ctx context.Context, p *plan.Plan, failure plan.Failure) (proposal plan.Proposal, err error) {
	pid, pctx := c.Processes.Begin(ctx, p.SessionID, "replan after "+failure.TaskID)
	defer c.Processes.End(pid)
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, c.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("planner panicked: %v", r)
		}
	}()
	return c.Planner.Replan(pctx, p.Clone(), failure)
}

// escalate marks the plan failed and asks the operator until the answer is
// stop or continue. Inspect publishes the raw output, leaves the plan
// untouched and asks again.
func (c *Controller) escalate(ctx context.Context, p *plan.Plan, failed *plan.Task, reason string, log *logging.Logger) Decision {
	p.Fail()
	p.AppendScratchpad(fmt.Sprintf("escalated %s: %s", failed.ID, reason))
	c.save(p, log)

	e := escalation.Escalation{
		ID:          uuid.New().String(),
		SessionID:   p.SessionID,
		PlanID:      p.ID,
		Objective:   p.Objective,
		TaskID:      failed.ID,
		Description: failed.Description,
		Capability:  failed.Capability,
		RetryCount:  p.Retries(),
		Reason:      reason,
		CreatedAt:   time.Now(),
	}
	if failed.Result != nil {
		e.Kind = failed.Result.Kind
		e.Output = failed.Result.Output
	}

	c.publish(events.Event{
		Type:         events.Escalated,
		SessionID:    p.SessionID,
		PlanID:       p.ID,
		TaskID:       failed.ID,
		Kind:         string(e.Kind),
		Output:       e.Output,
		RetryCount:   e.RetryCount,
		EscalationID: e.ID,
		Message:      reason,
	})
	log.Warn("escalating to operator", "escalation_id", e.ID, "reason", reason)

	for {
		r, err := c.ask(ctx, p.SessionID, e)
		if c.Processes.SessionCancelled(p.SessionID) {
			return Decision{Action: ActionCancelled, EscalationID: e.ID}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Decision{Action: ActionCancelled, EscalationID: e.ID}
			}
			log.Error("escalation failed, stopping", "error", err)
			return Decision{Action: ActionStop, Resolution: escalation.Stop, EscalationID: e.ID}
		}

		c.publish(events.Event{
			Type:         events.EscalationResolved,
			SessionID:    p.SessionID,
			PlanID:       p.ID,
			TaskID:       failed.ID,
			EscalationID: e.ID,
			Resolution:   string(r),
		})
		log.Info("operator answered", "escalation_id", e.ID, "resolution", string(r))

		switch r {
		case escalation.Inspect:
			c.publish(events.Event{
				Type:         events.Inspect,
				SessionID:    p.SessionID,
				PlanID:       p.ID,
				TaskID:       failed.ID,
				Kind:         string(e.Kind),
				Output:       e.Output,
				EscalationID: e.ID,
			})
			continue

		case escalation.Continue:
			if err := p.AcceptTask(failed.ID); err != nil {
				log.Error("could not accept task", "error", err)
				return Decision{Action: ActionStop, Resolution: r, EscalationID: e.ID}
			}
			if err := p.Reactivate(); err != nil {
				log.Error("could not reactivate plan", "error", err)
				return Decision{Action: ActionStop, Resolution: r, EscalationID: e.ID}
			}
			p.AppendScratchpad(fmt.Sprintf("operator accepted failure of %s", failed.ID))
			c.save(p, log)
			return Decision{Action: ActionContinue, Resolution: r, EscalationID: e.ID}

		default:
			return Decision{Action: ActionStop, Resolution: escalation.Stop, EscalationID: e.ID}
		}
	}
}

// ask waits for the operator inside a process so Cancel can interrupt it.
func (c *Controller) ask(ctx context.Context, sessionID string, e escalation.Escalation) (escalation.Resolution, error) {
	pid, pctx := c.Processes.Begin(ctx, sessionID, "escalation "+e.TaskID)
	defer c.Processes.End(pid)
	return c.Escalator.Escalate(pctx, e)
}

func (c *Controller) save(p *plan.Plan, log *logging.Logger) {
	if c.Plans == nil {
		return
	}
	if err := c.Plans.Save(p); err != nil {
		log.Error("failed to save plan", "error", err)
	}
}

func (c *Controller) publish(e events.Event) {
	if c.Events != nil {
		c.Events.Publish(e)
	}
}

func (c *Controller) logger() *logging.Logger {
	if c.Logger == nil {
		return logging.NopLogger()
	}
	return c.Logger.WithComponent("correction")
}
