// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/logging"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Type names an event.
type Type string

const (
	PlanCreated        Type = "plan_created"
	TaskStarted        Type = "task_started"
	TaskFinished       Type = "task_finished"
	ReplanRequested    Type = "replan_requested"
	PlanRevised        Type = "plan_revised"
	Escalated          Type = "escalation"
	EscalationResolved Type = "escalation_resolved"
	Inspect            Type = "inspect"
	PlanCompleted      Type = "plan_completed"
	PlanFailed         Type = "plan_failed"
	SessionCancelled   Type = "session_cancelled"
	StateChanged       Type = "state_changed"
)

// Event is one progress notification. Fields irrelevant to a type are
// left empty.
type Event struct {
	Seq          uint64    `json:"seq"`
	Type         Type      `json:"type"`
	Time         time.Time `json:"time"`
	SessionID    string    `json:"session_id"`
	PlanID       string    `json:"plan_id,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	Capability   string    `json:"capability,omitempty"`
	Status       string    `json:"status,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	Output       string    `json:"output,omitempty"`
	RetryCount   int       `json:"retry_count,omitempty"`
	EscalationID string    `json:"escalation_id,omitempty"`
	Resolution   string    `json:"resolution,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}

// =============================================================================
// BUS
// =============================================================================

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 256

type subscriber struct {
	ch chan Event
}

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	closed  bool
	seq     atomic.Uint64
	dropped atomic.Uint64
	logger  *logging.Logger
}

// NewBus creates a bus.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		logger: logger.WithComponent("events"),
	}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

// Publish stamps e and delivers it to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	e.Seq = b.seq.Add(1)
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber full", "type", string(e.Type), "session_id", e.SessionID)
		}
	}
}

// Dropped returns the number of deliveries lost to full subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
