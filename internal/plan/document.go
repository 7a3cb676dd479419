// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT FORMAT
// =============================================================================

// document is the flat on-disk form of a plan.
type document struct {
	ID            string         `json:"id" yaml:"id"`
	SessionID     string         `json:"session_id" yaml:"session_id"`
	Objective     string         `json:"objective" yaml:"objective"`
	Scratchpad    string         `json:"scratchpad" yaml:"scratchpad"`
	Tasks         []taskDocument `json:"tasks" yaml:"tasks"`
	Investigation []Record       `json:"investigation" yaml:"investigation"`
	Attempts      []Snapshot     `json:"attempts" yaml:"attempts"`
	Status        Status         `json:"status" yaml:"status"`
	RetryCount    int            `json:"retry_count" yaml:"retry_count"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" yaml:"updated_at"`
}

type taskDocument struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description" yaml:"description"`
	Capability  string         `json:"capability" yaml:"capability"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Status      TaskStatus     `json:"status" yaml:"status"`
	Result      *Result        `json:"result,omitempty" yaml:"result,omitempty"`
	Superseded  bool           `json:"superseded,omitempty" yaml:"superseded,omitempty"`
	Accepted    bool           `json:"accepted,omitempty" yaml:"accepted,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt     *time.Time     `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

// MarshalJSON implements json.Marshaler for Task so snapshots and plans
// share one task format.
func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(toTaskDocument(&t))
}

// UnmarshalJSON implements json.Unmarshaler for Task.
func (t *Task) UnmarshalJSON(data []byte) error {
	var td taskDocument
	if err := json.Unmarshal(data, &td); err != nil {
		return err
	}
	*t = fromTaskDocument(td)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Task.
func (t Task) MarshalYAML() (interface{}, error) {
	return toTaskDocument(&t), nil
}

// MarshalJSON implements json.Marshaler.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.document())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ID = doc.ID
	p.SessionID = doc.SessionID
	p.Objective = doc.Objective
	p.Scratchpad = doc.Scratchpad
	p.Investigation = doc.Investigation
	p.Attempts = doc.Attempts
	p.Status = doc.Status
	p.RetryCount = doc.RetryCount
	p.CreatedAt = doc.CreatedAt
	p.UpdatedAt = doc.UpdatedAt
	p.Tasks = make([]*Task, 0, len(doc.Tasks))
	for _, td := range doc.Tasks {
		t := fromTaskDocument(td)
		p.Tasks = append(p.Tasks, &t)
	}
	return nil
}

// YAML renders the plan as a YAML document.
func (p *Plan) YAML() ([]byte, error) {
	return yaml.Marshal(p.document())
}

func (p *Plan) document() document {
	p.mu.RLock()
	defer p.mu.RUnlock()
	doc := document{
		ID:            p.ID,
		SessionID:     p.SessionID,
		Objective:     p.Objective,
		Scratchpad:    p.Scratchpad,
		Investigation: p.Investigation,
		Attempts:      p.Attempts,
		Status:        p.Status,
		RetryCount:    p.RetryCount,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		Tasks:         make([]taskDocument, 0, len(p.Tasks)),
	}
	if doc.Investigation == nil {
		doc.Investigation = []Record{}
	}
	if doc.Attempts == nil {
		doc.Attempts = []Snapshot{}
	}
	for _, t := range p.Tasks {
		doc.Tasks = append(doc.Tasks, toTaskDocument(t))
	}
	return doc
}

func toTaskDocument(t *Task) taskDocument {
	td := taskDocument{
		ID:          t.ID,
		Description: t.Description,
		Capability:  t.Capability,
		Params:      t.Params,
		Status:      t.Status,
		Result:      t.Result,
		Superseded:  t.Superseded,
		Accepted:    t.Accepted,
	}
	if !t.StartedAt.IsZero() {
		s := t.StartedAt
		td.StartedAt = &s
	}
	if !t.EndedAt.IsZero() {
		e := t.EndedAt
		td.EndedAt = &e
	}
	return td
}

func fromTaskDocument(td taskDocument) Task {
	t := Task{
		ID:          td.ID,
		Description: td.Description,
		Capability:  td.Capability,
		Params:      td.Params,
		Status:      td.Status,
		Result:      td.Result,
		Superseded:  td.Superseded,
		Accepted:    td.Accepted,
	}
	if td.StartedAt != nil {
		t.StartedAt = *td.StartedAt
	}
	if td.EndedAt != nil {
		t.EndedAt = *td.EndedAt
	}
	return t
}
