// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package process

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-agent/internal/logging"
)

// Cancellation causes, readable with context.Cause.
var (
	ErrProcessCancelled = errors.New("process cancelled by operator")
	ErrSessionCancelled = errors.New("session cancelled by operator")
)

// =============================================================================
// PROCESS
// =============================================================================

// Process is a snapshot of one in-flight operation.
type Process struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time"`
}

// Age returns how long the process has been running.
func (p Process) Age() time.Duration {
	return time.Since(p.StartTime)
}

type entry struct {
	Process
	cancel context.CancelCauseFunc
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the in-flight processes of every session. Safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	procs     map[string]*entry
	cancelled map[string]bool
	logger    *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Registry{
		procs:     make(map[string]*entry),
		cancelled: make(map[string]bool),
		logger:    logger.WithComponent("process"),
	}
}

// Open clears a previous CancelAll so the session can run again.
func (r *Registry) Open(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancelled, sessionID)
}

// Begin registers a new process and returns its ID and a context derived
// from ctx. If the session is currently cancelled the returned context is
// already done.
func (r *Registry) Begin(ctx context.Context, sessionID, description string) (string, context.Context) {
	pctx, cancel := context.WithCancelCause(ctx)
	e := &entry{
		Process: Process{
			ID:          uuid.New().String(),
			SessionID:   sessionID,
			Description: description,
			StartTime:   time.Now(),
		},
		cancel: cancel,
	}

	r.mu.Lock()
	r.procs[e.ID] = e
	sessionCancelled := r.cancelled[sessionID]
	r.mu.Unlock()

	if sessionCancelled {
		cancel(ErrSessionCancelled)
	}
	r.logger.Debug("process started", "process_id", e.ID, "session_id", sessionID, "description", description)
	return e.ID, pctx
}

// End removes a process. Unknown IDs are ignored.
func (r *Registry) End(id string) {
	r.mu.Lock()
	e, ok := r.procs[id]
	delete(r.procs, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	// Release the context; a no-op if it was already cancelled.
	e.cancel(context.Canceled)
	r.logger.Debug("process ended", "process_id", id, "duration", time.Since(e.StartTime).String())
}

// Cancel aborts one process. Returns false if the ID is not in flight.
// Calling it again is harmless.
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	e, ok := r.procs[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.cancel(ErrProcessCancelled)
	r.logger.Info("process cancelled", "process_id", id, "session_id", e.SessionID)
	return true
}

// CancelAll aborts every process of a session and marks the session
// cancelled until Open is called. Returns the number of processes signalled.
func (r *Registry) CancelAll(sessionID string) int {
	r.mu.Lock()
	r.cancelled[sessionID] = true
	var targets []*entry
	for _, e := range r.procs {
		if e.SessionID == sessionID {
			targets = append(targets, e)
		}
	}
	r.mu.Unlock()

	for _, e := range targets {
		e.cancel(ErrSessionCancelled)
	}
	r.logger.Info("session cancelled", "session_id", sessionID, "processes", len(targets))
	return len(targets)
}

// SessionCancelled reports whether CancelAll was called since the last Open.
func (r *Registry) SessionCancelled(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cancelled[sessionID]
}

// Get returns the process with the given ID.
func (r *Registry) Get(id string) (Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.procs[id]
	if !ok {
		return Process{}, false
	}
	return e.Process, true
}

// List returns the session's processes, oldest first. An empty sessionID
// lists every session.
func (r *Registry) List(sessionID string) []Process {
	r.mu.RLock()
	out := make([]Process, 0, len(r.procs))
	for _, e := range r.procs {
		if sessionID == "" || e.SessionID == sessionID {
			out = append(out, e.Process)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Count returns the number of in-flight processes for a session.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.procs {
		if e.SessionID == sessionID {
			n++
		}
	}
	return n
}
