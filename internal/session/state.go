// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"sort"
	"sync"
)

// =============================================================================
// SESSION STATE
// =============================================================================

// State is the durable state of one session. Capabilities mutate it only
// when they declare session-state use; the orchestrator persists it after
// such a dispatch when it is dirty.
type State struct {
	mu sync.RWMutex

	activeEnvironment  string
	environmentHistory []string
	persistentMemory   map[string]any

	dirty bool
}

// Snapshot is the serialisable form of State.
type Snapshot struct {
	ActiveEnvironment  string         `json:"active_environment"`
	EnvironmentHistory []string       `json:"environment_history"`
	PersistentMemory   map[string]any `json:"persistent_memory"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{persistentMemory: make(map[string]any)}
}

// FromSnapshot rebuilds a clean State.
func FromSnapshot(s Snapshot) *State {
	st := &State{
		activeEnvironment:  s.ActiveEnvironment,
		environmentHistory: append([]string(nil), s.EnvironmentHistory...),
		persistentMemory:   make(map[string]any, len(s.PersistentMemory)),
	}
	for k, v := range s.PersistentMemory {
		st.persistentMemory[k] = v
	}
	return st
}

// Snapshot copies the state out.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		ActiveEnvironment:  s.activeEnvironment,
		EnvironmentHistory: append([]string{}, s.environmentHistory...),
		PersistentMemory:   make(map[string]any, len(s.persistentMemory)),
	}
	for k, v := range s.persistentMemory {
		out.PersistentMemory[k] = v
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// ActiveEnvironment returns the adopted environment, or "".
func (s *State) ActiveEnvironment() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeEnvironment
}

// AdoptEnvironment makes name the active environment and records it.
func (s *State) AdoptEnvironment(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeEnvironment = name
	s.environmentHistory = append(s.environmentHistory, "adopted "+name)
	s.dirty = true
}

// ClearEnvironment drops the active environment if it is name.
func (s *State) ClearEnvironment(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeEnvironment == name {
		s.activeEnvironment = ""
		s.dirty = true
	}
}

// RecordEnvironment appends an entry to the environment history.
func (s *State) RecordEnvironment(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.environmentHistory = append(s.environmentHistory, entry)
	s.dirty = true
}

// EnvironmentHistory returns a copy of the history, oldest first.
func (s *State) EnvironmentHistory() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.environmentHistory...)
}

// Get reads a memory value.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.persistentMemory[key]
	return v, ok
}

// Set writes a memory value.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistentMemory[key] = value
	s.dirty = true
}

// Delete removes a memory value. Returns false if it was absent.
func (s *State) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persistentMemory[key]; !ok {
		return false
	}
	delete(s.persistentMemory, key)
	s.dirty = true
	return true
}

// Keys returns the memory keys in sorted order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.persistentMemory))
	for k := range s.persistentMemory {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dirty reports whether the state changed since it was loaded or persisted.
func (s *State) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// MarkClean clears the dirty flag.
func (s *State) MarkClean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}
