// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/plan"
)

// Resolution is the operator's answer.
type Resolution string

const (
	// Stop leaves the plan failed.
	Stop Resolution = "stop"

	// Continue accepts the failed task and resumes with the next one.
	Continue Resolution = "continue"

	// Inspect shows the raw output and asks again.
	Inspect Resolution = "inspect"
)

// Errors.
var (
	ErrUnknownEscalation = errors.New("escalation not found")
	ErrInvalidResolution = errors.New("invalid resolution")
)

// ParseResolution accepts stop, continue, inspect and their first letters.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stop", "s":
		return Stop, nil
	case "continue", "c":
		return Continue, nil
	case "inspect", "i":
		return Inspect, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidResolution, s)
}

// Escalation describes a plan that needs an operator decision.
type Escalation struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	PlanID      string           `json:"plan_id"`
	Objective   string           `json:"objective"`
	TaskID      string           `json:"task_id"`
	Description string           `json:"description"`
	Capability  string           `json:"capability"`
	Kind        plan.FailureKind `json:"kind"`
	Output      string           `json:"output"`
	RetryCount  int              `json:"retry_count"`
	Reason      string           `json:"reason"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Escalator asks the operator what to do. It blocks until an answer
// arrives or ctx is done.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) (Resolution, error)
}

// Func adapts a function to Escalator.
type Func func(ctx context.Context, e Escalation) (Resolution, error)

// Escalate implements Escalator.
func (f Func) Escalate(ctx context.Context, e Escalation) (Resolution, error) {
	return f(ctx, e)
}

// Always answers every escalation with r. Used for unattended runs.
func Always(r Resolution) Escalator {
	return Func(func(context.Context, Escalation) (Resolution, error) { return r, nil })
}

// =============================================================================
// QUEUE
// =============================================================================

type pending struct {
	Escalation
	answer chan Resolution
}

// Queue parks escalations until Resolve is called. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*pending
	logger  *logging.Logger
}

// NewQueue creates an empty queue.
func NewQueue(logger *logging.Logger) *Queue {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Queue{
		pending: make(map[string]*pending),
		logger:  logger.WithComponent("escalation"),
	}
}

// Escalate implements Escalator.
func (q *Queue) Escalate(ctx context.Context, e Escalation) (Resolution, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	p := &pending{Escalation: e, answer: make(chan Resolution, 1)}

	q.mu.Lock()
	q.pending[e.ID] = p
	q.mu.Unlock()
	q.logger.Info("escalation waiting", "escalation_id", e.ID, "session_id", e.SessionID, "task_id", e.TaskID)

	select {
	case r := <-p.answer:
		return r, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.pending, e.ID)
		q.mu.Unlock()
		return "", context.Cause(ctx)
	}
}

// Resolve answers a waiting escalation.
func (q *Queue) Resolve(id string, r Resolution) error {
	if _, err := ParseResolution(string(r)); err != nil {
		return err
	}
	q.mu.Lock()
	p, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEscalation, id)
	}
	p.answer <- r
	q.logger.Info("escalation resolved", "escalation_id", id, "resolution", string(r))
	return nil
}

// Pending lists waiting escalations, oldest first.
func (q *Queue) Pending() []Escalation {
	q.mu.Lock()
	out := make([]Escalation, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p.Escalation)
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns a waiting escalation.
func (q *Queue) Get(id string) (Escalation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[id]
	if !ok {
		return Escalation{}, false
	}
	return p.Escalation, true
}
