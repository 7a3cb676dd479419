// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-agent/internal/escalation"
	"github.com/jeranaias/rigrun-agent/internal/events"
	"github.com/jeranaias/rigrun-agent/internal/knowledge"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/permission"
	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/process"
	"github.com/jeranaias/rigrun-agent/internal/session"
	"github.com/jeranaias/rigrun-agent/internal/tools"
)

// Errors.
var (
	// ErrSessionBusy is returned when a session already has an active run.
	ErrSessionBusy = errors.New("session already has an active run")

	// ErrPlanNotActive is returned when Execute is given a failed or stale plan.
	ErrPlanNotActive = errors.New("plan is not active")

	// ErrPlanning wraps failures of the initial planner call.
	ErrPlanning = errors.New("planning failed")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config tunes the loop.
type Config struct {
	// MaxRetries bounds self-corrections per plan
	MaxRetries int

	// TaskTimeout bounds one dispatch; zero means no limit
	TaskTimeout time.Duration

	// CorrectionTimeout bounds each planner call
	CorrectionTimeout time.Duration

	// Enabled lists opt-in capabilities
	Enabled map[string]bool
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        2,
		TaskTimeout:       10 * time.Minute,
		CorrectionTimeout: 5 * time.Minute,
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Registry  *tools.Registry
	Gate      *permission.Gate
	Processes *process.Registry
	Sessions  session.Store
	Plans     plan.Store
	Planner   plan.Planner
	Escalator escalation.Escalator

	// Optional
	Events    events.Publisher
	Knowledge knowledge.Store
	Workspace *tools.Workspace
	Logger    *logging.Logger
}

func (d *Deps) validate() error {
	switch {
	case d.Registry == nil:
		return errors.New("orchestrator: capability registry is required")
	case d.Gate == nil:
		return errors.New("orchestrator: permission gate is required")
	case d.Processes == nil:
		return errors.New("orchestrator: process registry is required")
	case d.Sessions == nil:
		return errors.New("orchestrator: session store is required")
	case d.Plans == nil:
		return errors.New("orchestrator: plan store is required")
	case d.Planner == nil:
		return errors.New("orchestrator: planner is required")
	case d.Escalator == nil:
		return errors.New("orchestrator: escalator is required")
	}
	return nil
}

// =============================================================================
// OUTCOME
// =============================================================================

// Outcome summarises a finished run.
type Outcome struct {
	SessionID string
	PlanID    string
	Status    plan.Status

	// Completed is true when every task was resolved
	Completed bool

	// Cancelled is true when the session was cancelled
	Cancelled bool

	// Resolution is the last operator answer, if any
	Resolution escalation.Resolution

	Replans int
	Plan    *plan.Plan
}

func outcomeOf(p *plan.Plan) *Outcome {
	return &Outcome{
		SessionID: p.SessionID,
		PlanID:    p.ID,
		Status:    p.CurrentStatus(),
		Replans:   p.Retries(),
		Plan:      p,
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator owns the plan-execute-observe loop for every session.
type Orchestrator struct {
	cfg        Config
	deps       Deps
	controller *Controller
	logger     *logging.Logger

	mu      sync.Mutex
	running map[string]*plan.Plan
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.WithComponent("orchestrator"),
		running: make(map[string]*plan.Plan),
	}
	o.controller = &Controller{
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.CorrectionTimeout,
		Planner:    deps.Planner,
		Escalator:  deps.Escalator,
		Processes:  deps.Processes,
		Plans:      deps.Plans,
		Events:     deps.Events,
		Logger:     deps.Logger,
	}
	return o, nil
}

// Controller returns the self-correction controller.
func (o *Orchestrator) Controller() *Controller {
	return o.controller
}

// Active returns the plan currently running in a session. It reports false
// while the initial plan is still being produced; use Busy to test whether
// the session is taken.
func (o *Orchestrator) Active(sessionID string) (*plan.Plan, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.running[sessionID]
	return p, ok && p != nil
}

// Busy reports whether the session is reserved or running.
func (o *Orchestrator) Busy(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[sessionID]
	return ok
}

// Reservation holds a session between Reserve and Start or Execute. A
// Cancel issued after Reserve returns applies to the run started with it.
type Reservation struct {
	o         *Orchestrator
	sessionID string
	used      atomic.Bool
	release   sync.Once
}

// Reserve claims sessionID for one run and clears any earlier cancellation.
// The caller must call Start, Execute or Release.
func (o *Orchestrator) Reserve(sessionID string) (*Reservation, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return nil, err
	}
	if err := o.acquire(sessionID, nil); err != nil {
		return nil, err
	}
	return &Reservation{o: o, sessionID: sessionID}, nil
}

// SessionID returns the reserved session.
func (r *Reservation) SessionID() string {
	return r.sessionID
}

// Start plans objective and executes the plan in the reserved session. The
// reservation is released when the run ends.
func (r *Reservation) Start(ctx context.Context, objective string) (*Outcome, error) {
	if r.used.Swap(true) {
		return nil, fmt.Errorf("%w: reservation for %s already used", ErrSessionBusy, r.sessionID)
	}
	defer r.Release()
	return r.o.start(ctx, r.sessionID, objective)
}

// Execute runs an existing plan in the reserved session. The reservation
// is released when the run ends.
func (r *Reservation) Execute(ctx context.Context, p *plan.Plan) (*Outcome, error) {
	if r.used.Swap(true) {
		return nil, fmt.Errorf("%w: reservation for %s already used", ErrSessionBusy, r.sessionID)
	}
	defer r.Release()
	return r.o.execute(ctx, r.sessionID, p)
}

// Release frees the session without running. Safe to call more than once.
func (r *Reservation) Release() {
	r.release.Do(func() { r.o.release(r.sessionID) })
}

// Start plans objective and executes the plan.
func (o *Orchestrator) Start(ctx context.Context, sessionID, objective string) (*Outcome, error) {
	res, err := o.Reserve(sessionID)
	if err != nil {
		return nil, err
	}
	return res.Start(ctx, objective)
}

func (o *Orchestrator) start(ctx context.Context, sessionID, objective string) (*Outcome, error) {
	ctx, span := startRunSpan(ctx, sessionID, objective)
	p, err := o.initialPlan(ctx, sessionID, objective)
	if err != nil {
		endSpan(span, "planning_failed", err)
		if o.deps.Processes.SessionCancelled(sessionID) {
			return &Outcome{SessionID: sessionID, Status: plan.StatusFailed, Cancelled: true}, nil
		}
		return nil, err
	}

	out, err := o.run(ctx, p)
	endSpan(span, string(out.Status), err)
	return out, err
}

// Execute runs an existing plan. Tasks left in_progress by an earlier
// process fail with cancellation_error and go through self-correction.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string, p *plan.Plan) (*Outcome, error) {
	res, err := o.Reserve(sessionID)
	if err != nil {
		return nil, err
	}
	return res.Execute(ctx, p)
}

func (o *Orchestrator) execute(ctx context.Context, sessionID string, p *plan.Plan) (*Outcome, error) {
	if p == nil {
		return nil, errors.New("nil plan")
	}
	if p.SessionID != sessionID {
		return nil, fmt.Errorf("plan %s belongs to session %s, not %s", p.ID, p.SessionID, sessionID)
	}
	if st := p.CurrentStatus(); st != plan.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrPlanNotActive, p.ID, st)
	}
	o.setRunning(sessionID, p)

	if ids := p.Interrupt("interrupted before completion"); len(ids) > 0 {
		o.logger.Warn("resumed plan had interrupted tasks", "session_id", sessionID, "tasks", ids)
	}

	ctx, span := startRunSpan(ctx, sessionID, p.Objective)
	out, err := o.run(ctx, p)
	endSpan(span, string(out.Status), err)
	return out, err
}

// Cancel aborts the session: in-flight dispatches and planner calls are
// cancelled and the active plan fails without self-correction. Idempotent.
func (o *Orchestrator) Cancel(sessionID string) int {
	n := o.deps.Processes.CancelAll(sessionID)
	o.publish(events.Event{Type: events.SessionCancelled, SessionID: sessionID})
	return n
}

// CancelProcess aborts one dispatch. The task fails with cancellation_error
// and self-correction proceeds normally.
func (o *Orchestrator) CancelProcess(processID string) bool {
	return o.deps.Processes.Cancel(processID)
}

// Job is one objective for RunAll.
type Job struct {
	SessionID string
	Objective string
}

// RunAll runs independent sessions concurrently. Individual failures are
// reported in the results; the returned error is the first non-nil Start
// error.
func (o *Orchestrator) RunAll(ctx context.Context, jobs []Job) ([]*Outcome, error) {
	out := make([]*Outcome, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := o.Start(ctx, job.SessionID, job.Objective)
			out[i] = res
			if err != nil {
				return fmt.Errorf("session %s: %w", job.SessionID, err)
			}
			return nil
		})
	}
	return out, g.Wait()
}

// =============================================================================
// LOOP
// =============================================================================

func (o *Orchestrator) initialPlan(ctx context.Context, sessionID, objective string) (*plan.Plan, error) {
	history, err := o.deps.Plans.List(sessionID)
	if err != nil {
		o.logger.Warn("could not load plan history", "session_id", sessionID, "error", err)
		history = nil
	}

	pid, pctx := o.deps.Processes.Begin(ctx, sessionID, "plan: "+objective)
	defer o.deps.Processes.End(pid)
	if o.cfg.CorrectionTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, o.cfg.CorrectionTimeout)
		defer cancel()
	}

	proposal, err := o.deps.Planner.Plan(pctx, objective, history)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanning, err)
	}
	p, err := plan.New(sessionID, objective, proposal)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanning, err)
	}
	if err := o.deps.Plans.Save(p); err != nil {
		return nil, fmt.Errorf("failed to save plan: %w", err)
	}

	o.setRunning(sessionID, p)
	o.logger.Info("plan created", "session_id", sessionID, "plan_id", p.ID, "tasks", len(p.Tasks))
	o.publish(events.Event{
		Type:      events.PlanCreated,
		SessionID: sessionID,
		PlanID:    p.ID,
		Message:   objective,
	})
	return p, nil
}

func (o *Orchestrator) run(ctx context.Context, p *plan.Plan) (*Outcome, error) {
	sessionID := p.SessionID
	log := o.logger.WithSession(sessionID).With("plan_id", p.ID)

	state, err := o.deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		return outcomeOf(p), fmt.Errorf("failed to load session state: %w", err)
	}

	var last escalation.Resolution
	for {
		if o.deps.Processes.SessionCancelled(sessionID) || ctx.Err() != nil {
			return o.finishCancelled(ctx, p, log)
		}

		if failed := p.Unresolved(); failed != nil {
			decision := o.controller.AttemptCorrection(ctx, p, failed)
			if decision.Resolution != "" {
				last = decision.Resolution
			}
			o.savePlan(p, log)
			switch decision.Action {
			case ActionCancelled:
				return o.finishCancelled(ctx, p, log)
			case ActionStop:
				o.archive(p, log)
				o.publish(events.Event{
					Type:       events.PlanFailed,
					SessionID:  sessionID,
					PlanID:     p.ID,
					TaskID:     failed.ID,
					RetryCount: p.Retries(),
				})
				log.Info("plan stopped", "task_id", failed.ID)
				out := outcomeOf(p)
				out.Resolution = last
				return out, nil
			}
			continue
		}

		task := p.NextPending()
		if task == nil {
			if !p.IsComplete() {
				return outcomeOf(p), fmt.Errorf("plan %s has no pending task but is not complete", p.ID)
			}
			o.archive(p, log)
			o.publish(events.Event{Type: events.PlanCompleted, SessionID: sessionID, PlanID: p.ID, RetryCount: p.Retries()})
			log.Info("plan completed", "replans", p.Retries())
			out := outcomeOf(p)
			out.Completed = true
			out.Resolution = last
			return out, nil
		}

		o.dispatch(ctx, p, task, state, log)
		o.savePlan(p, log)
	}
}

func (o *Orchestrator) finishCancelled(ctx context.Context, p *plan.Plan, log *logging.Logger) (*Outcome, error) {
	p.Interrupt("session cancelled")
	p.Fail()
	p.AppendScratchpad("session cancelled by operator")
	o.savePlan(p, log)
	o.archive(p, log)
	o.publish(events.Event{Type: events.PlanFailed, SessionID: p.SessionID, PlanID: p.ID, Message: "cancelled"})
	log.Info("plan cancelled")

	out := outcomeOf(p)
	out.Cancelled = true
	if err := ctx.Err(); err != nil && !o.deps.Processes.SessionCancelled(p.SessionID) {
		return out, context.Cause(ctx)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (o *Orchestrator) acquire(sessionID string, p *plan.Plan) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[sessionID]; busy {
		return fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	o.running[sessionID] = p
	// A cancel from before this run must not leak into it; one issued from
	// here on stays set until the next acquire.
	o.deps.Processes.Open(sessionID)
	return nil
}

func (o *Orchestrator) setRunning(sessionID string, p *plan.Plan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running[sessionID] = p
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, sessionID)
}

func (o *Orchestrator) savePlan(p *plan.Plan, log *logging.Logger) {
	if err := o.deps.Plans.Save(p); err != nil {
		log.Error("failed to save plan", "error", err)
	}
}

func (o *Orchestrator) archive(p *plan.Plan, log *logging.Logger) {
	if err := o.deps.Plans.Archive(p); err != nil {
		log.Error("failed to archive plan", "error", err)
	}
}

func (o *Orchestrator) publish(e events.Event) {
	o.deps.Events.Publish(e)
}
