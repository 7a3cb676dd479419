// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors returned by plan and task transitions.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTaskNotFound      = errors.New("task not found")
	ErrEmptyPlan         = errors.New("plan has no tasks")
	ErrDuplicateTask     = errors.New("duplicate task ID")
)

// =============================================================================
// PLAN STATUS
// =============================================================================

// Status is the lifecycle state of a plan.
type Status string

const (
	// StatusActive - plan is being executed
	StatusActive Status = "active"

	// StatusStale - plan was superseded by a revision (snapshots only)
	StatusStale Status = "stale"

	// StatusFailed - plan was abandoned after escalation or cancellation
	StatusFailed Status = "failed"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// =============================================================================
// RESULTS
// =============================================================================

// FailureKind classifies why a task failed.
type FailureKind string

const (
	// KindNone is used for successful results.
	KindNone FailureKind = ""

	// KindValidation - arguments did not match the capability schema,
	// or the capability does not exist.
	KindValidation FailureKind = "validation_error"

	// KindPermissionDenied - the capability's group is disabled.
	KindPermissionDenied FailureKind = "permission_denied"

	// KindExecution - the capability ran and reported failure.
	KindExecution FailureKind = "execution_failure"

	// KindCancellation - the operator aborted the dispatch.
	KindCancellation FailureKind = "cancellation_error"

	// KindTransient - timeouts and other retryable faults.
	KindTransient FailureKind = "transient_error"
)

// Result is the outcome of a dispatched (or rejected) task.
type Result struct {
	Success bool        `json:"success" yaml:"success"`
	Output  string      `json:"output" yaml:"output"`
	Kind    FailureKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Failed builds an unsuccessful result.
func Failed(kind FailureKind, output string) Result {
	return Result{Success: false, Output: output, Kind: kind}
}

// Succeeded builds a successful result.
func Succeeded(output string) Result {
	return Result{Success: true, Output: output}
}

// =============================================================================
// TASK
// =============================================================================

// Task is a single capability invocation inside a plan.
type Task struct {
	// ID is unique within the plan
	ID string

	// Description says what the task is for
	Description string

	// Capability names the registered capability to dispatch
	Capability string

	// Params are the raw capability arguments
	Params map[string]any

	// Status only moves forward
	Status TaskStatus

	// Result is set exactly once, when the task reaches a terminal status
	Result *Result

	// Superseded is set when a revision replaced this failed task
	Superseded bool

	// Accepted is set when the operator chose to continue past this failure
	Accepted bool

	StartedAt time.Time
	EndedAt   time.Time
}

// Start moves a pending task to in_progress.
func (t *Task) Start() error {
	if t.Status != TaskPending {
		return fmt.Errorf("%w: task %s is %s, cannot start", ErrInvalidTransition, t.ID, t.Status)
	}
	t.Status = TaskInProgress
	t.StartedAt = time.Now()
	return nil
}

// Finish records the result and moves the task to completed or failed.
// A pending task may be finished directly when it is rejected before
// dispatch (validation or permission failures).
func (t *Task) Finish(r Result) error {
	if t.Status.IsTerminal() || t.Result != nil {
		return fmt.Errorf("%w: task %s already %s", ErrInvalidTransition, t.ID, t.Status)
	}
	if t.Status == TaskPending && r.Success {
		return fmt.Errorf("%w: task %s cannot complete without starting", ErrInvalidTransition, t.ID)
	}

	res := r
	if res.Success {
		res.Kind = KindNone
		t.Status = TaskCompleted
	} else {
		if res.Kind == KindNone {
			res.Kind = KindExecution
		}
		t.Status = TaskFailed
	}
	t.Result = &res
	t.EndedAt = time.Now()
	return nil
}

// Duration returns how long the task ran.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if t.EndedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// Resolved reports whether the task no longer blocks plan completion.
func (t *Task) Resolved() bool {
	switch t.Status {
	case TaskCompleted:
		return true
	case TaskFailed:
		return t.Superseded || t.Accepted
	}
	return false
}

func (t *Task) clone() Task {
	c := *t
	c.Params = cloneParams(t.Params)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return c
}

// =============================================================================
// INVESTIGATION & SNAPSHOTS
// =============================================================================

// Record is one exploratory step taken before or between task generation.
type Record struct {
	Kind    string    `json:"kind" yaml:"kind"`
	Summary string    `json:"summary" yaml:"summary"`
	Detail  string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	Time    time.Time `json:"time" yaml:"time"`
}

// Snapshot is a copy of the plan archived before a revision.
type Snapshot struct {
	TakenAt    time.Time `json:"taken_at" yaml:"taken_at"`
	Status     Status    `json:"status" yaml:"status"`
	Scratchpad string    `json:"scratchpad" yaml:"scratchpad"`
	RetryCount int       `json:"retry_count" yaml:"retry_count"`
	Tasks      []Task    `json:"tasks" yaml:"tasks"`
}

// =============================================================================
// PLAN
// =============================================================================

// Plan is the live plan for one session. All methods are safe for
// concurrent use; the orchestrator is the only writer of task state.
type Plan struct {
	mu sync.RWMutex

	ID        string
	SessionID string

	// Objective is fixed at creation
	Objective string

	// Scratchpad only grows
	Scratchpad string

	Tasks         []*Task
	Investigation []Record
	Attempts      []Snapshot
	Status        Status

	// RetryCount is the number of self-corrections attempted on this plan
	RetryCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an active plan from a planner proposal.
func New(sessionID, objective string, p Proposal) (*Plan, error) {
	if strings.TrimSpace(objective) == "" {
		return nil, errors.New("objective cannot be empty")
	}
	if len(p.Tasks) == 0 {
		return nil, ErrEmptyPlan
	}

	now := time.Now()
	pl := &Plan{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		Objective:     objective,
		Status:        StatusActive,
		Investigation: append([]Record(nil), p.Investigation...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := pl.appendDrafts(p.Tasks); err != nil {
		return nil, err
	}
	if p.Notes != "" {
		pl.appendScratchpad(p.Notes)
	}
	return pl, nil
}

// NextPending returns the first pending task, or nil.
func (p *Plan) NextPending() *Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.Tasks {
		if t.Status == TaskPending {
			return t
		}
	}
	return nil
}

// Unresolved returns the first failed task that was neither superseded
// nor accepted, or nil.
func (p *Plan) Unresolved() *Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.Tasks {
		if t.Status == TaskFailed && !t.Resolved() {
			return t
		}
	}
	return nil
}

// Interrupt fails every in_progress task with a cancellation result. Used
// when a plan is resumed after the process that ran it went away.
func (p *Plan) Interrupt(output string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, t := range p.Tasks {
		if t.Status != TaskInProgress {
			continue
		}
		if err := t.Finish(Failed(KindCancellation, output)); err == nil {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) > 0 {
		p.touch()
	}
	return ids
}

// Task returns the task with the given ID.
func (p *Plan) Task(id string) (*Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t := p.findTask(id)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// StartTask moves a task to in_progress.
func (p *Plan) StartTask(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.findTask(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := t.Start(); err != nil {
		return err
	}
	p.touch()
	return nil
}

// FinishTask records a task result.
func (p *Plan) FinishTask(id string, r Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.findTask(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := t.Finish(r); err != nil {
		return err
	}
	p.touch()
	return nil
}

// AcceptTask marks a failed task as accepted so execution can move on.
func (p *Plan) AcceptTask(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.findTask(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != TaskFailed {
		return fmt.Errorf("%w: only failed tasks can be accepted, %s is %s", ErrInvalidTransition, id, t.Status)
	}
	t.Accepted = true
	p.touch()
	return nil
}

// AppendScratchpad adds a line to the scratchpad.
func (p *Plan) AppendScratchpad(note string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendScratchpad(note)
	p.touch()
}

// AddInvestigation appends to the investigation trail.
func (p *Plan) AddInvestigation(r Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	p.Investigation = append(p.Investigation, r)
	p.touch()
}

// IncrementRetry bumps the self-correction counter and returns the new value.
func (p *Plan) IncrementRetry() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RetryCount++
	p.touch()
	return p.RetryCount
}

// Retries returns the self-correction counter.
func (p *Plan) Retries() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.RetryCount
}

// CurrentStatus returns the plan status.
func (p *Plan) CurrentStatus() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status
}

// Fail marks the plan failed.
func (p *Plan) Fail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = StatusFailed
	p.touch()
}

// Reactivate returns a failed plan to active after the operator chose to
// continue.
func (p *Plan) Reactivate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status == StatusStale {
		return fmt.Errorf("%w: stale plans cannot be reactivated", ErrInvalidTransition)
	}
	p.Status = StatusActive
	p.touch()
	return nil
}

// IsComplete reports whether every task is resolved.
func (p *Plan) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.Tasks {
		if !t.Resolved() {
			return false
		}
	}
	return true
}

// Revise archives a stale snapshot, marks the failed task superseded and
// replaces the pending suffix with drafts. The plan stays active.
func (p *Plan) Revise(failedTaskID string, drafts []TaskDraft, note string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Status == StatusStale {
		return fmt.Errorf("%w: cannot revise a stale plan", ErrInvalidTransition)
	}
	failed := p.findTask(failedTaskID)
	if failed == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, failedTaskID)
	}
	if failed.Status != TaskFailed {
		return fmt.Errorf("%w: task %s is %s, not failed", ErrInvalidTransition, failedTaskID, failed.Status)
	}

	p.Attempts = append(p.Attempts, p.snapshot())

	if err := p.replaceSuffix(drafts); err != nil {
		// Roll back the archive so a rejected revision leaves no trace.
		p.Attempts = p.Attempts[:len(p.Attempts)-1]
		return err
	}
	failed.Superseded = true
	p.Status = StatusActive
	if note != "" {
		p.appendScratchpad(note)
	}
	p.touch()
	return nil
}

// ReplaceSuffix swaps the pending tail of the task list for drafts.
func (p *Plan) ReplaceSuffix(drafts []TaskDraft) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.replaceSuffix(drafts); err != nil {
		return err
	}
	p.touch()
	return nil
}

// Snapshot returns a stale copy of the current plan state.
func (p *Plan) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot()
}

// Clone returns a deep copy that shares nothing with p.
func (p *Plan) Clone() *Plan {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c := &Plan{
		ID:            p.ID,
		SessionID:     p.SessionID,
		Objective:     p.Objective,
		Scratchpad:    p.Scratchpad,
		Status:        p.Status,
		RetryCount:    p.RetryCount,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		Investigation: append([]Record(nil), p.Investigation...),
		Tasks:         make([]*Task, 0, len(p.Tasks)),
	}
	for _, t := range p.Tasks {
		tc := t.clone()
		c.Tasks = append(c.Tasks, &tc)
	}
	for _, s := range p.Attempts {
		sc := s
		sc.Tasks = make([]Task, 0, len(s.Tasks))
		for i := range s.Tasks {
			sc.Tasks = append(sc.Tasks, s.Tasks[i].clone())
		}
		c.Attempts = append(c.Attempts, sc)
	}
	return c
}

// Counts returns the number of tasks per status.
func (p *Plan) Counts() map[TaskStatus]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[TaskStatus]int, 4)
	for _, t := range p.Tasks {
		out[t.Status]++
	}
	return out
}

// =============================================================================
// INTERNAL (callers hold mu)
// =============================================================================

func (p *Plan) findTask(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (p *Plan) touch() {
	p.UpdatedAt = time.Now()
}

func (p *Plan) appendScratchpad(note string) {
	note = strings.TrimRight(note, "\n")
	if note == "" {
		return
	}
	if p.Scratchpad != "" && !strings.HasSuffix(p.Scratchpad, "\n") {
		p.Scratchpad += "\n"
	}
	p.Scratchpad += note + "\n"
}

func (p *Plan) snapshot() Snapshot {
	s := Snapshot{
		TakenAt:    time.Now(),
		Status:     StatusStale,
		Scratchpad: p.Scratchpad,
		RetryCount: p.RetryCount,
		Tasks:      make([]Task, 0, len(p.Tasks)),
	}
	for _, t := range p.Tasks {
		s.Tasks = append(s.Tasks, t.clone())
	}
	return s
}

// replaceSuffix drops every pending task (they always form the tail) and
// appends drafts as new pending tasks.
func (p *Plan) replaceSuffix(drafts []TaskDraft) error {
	cut := len(p.Tasks)
	for i, t := range p.Tasks {
		if t.Status == TaskPending {
			cut = i
			break
		}
	}
	for _, t := range p.Tasks[cut:] {
		if t.Status != TaskPending {
			return fmt.Errorf("%w: task %s is %s but follows a pending task", ErrInvalidTransition, t.ID, t.Status)
		}
	}

	kept := p.Tasks[:cut:cut]
	old := p.Tasks
	p.Tasks = kept
	if err := p.appendDrafts(drafts); err != nil {
		p.Tasks = old
		return err
	}
	return nil
}

func (p *Plan) appendDrafts(drafts []TaskDraft) error {
	seen := make(map[string]bool, len(p.Tasks)+len(drafts))
	for _, t := range p.Tasks {
		seen[t.ID] = true
	}

	added := make([]*Task, 0, len(drafts))
	for i, d := range drafts {
		if strings.TrimSpace(d.Capability) == "" {
			return fmt.Errorf("task %d: capability is required", i+1)
		}
		id := d.ID
		if id == "" {
			id = fmt.Sprintf("task-%s", uuid.New().String()[:8])
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
		}
		seen[id] = true
		added = append(added, &Task{
			ID:          id,
			Description: d.Description,
			Capability:  d.Capability,
			Params:      cloneParams(d.Params),
			Status:      TaskPending,
		})
	}
	p.Tasks = append(p.Tasks, added...)
	return nil
}

func cloneParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
