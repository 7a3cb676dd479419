// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-agent/internal/plan"
)

// FileDocument is the YAML layout read by FilePlanner.
//
//	notes: build then test
//	tasks:
//	  - id: build
//	    description: compile
//	    capability: shell
//	    params: {command: make}
type FileDocument struct {
	Notes string           `yaml:"notes"`
	Tasks []plan.TaskDraft `yaml:"tasks"`
}

var retrySuffix = regexp.MustCompile(`-retry\d+$`)

// FilePlanner proposes the tasks of a YAML document. Revisions retry the
// failed task and keep the remaining pending tasks.
type FilePlanner struct {
	Path string

	// doc overrides Path when set
	doc *FileDocument
}

// NewFilePlanner reads path lazily on each Plan call.
func NewFilePlanner(path string) *FilePlanner {
	return &FilePlanner{Path: path}
}

// NewStaticPlanner serves doc without touching the filesystem.
func NewStaticPlanner(doc FileDocument) *FilePlanner {
	return &FilePlanner{doc: &doc}
}

// ParseDocument decodes a YAML plan document.
func ParseDocument(data []byte) (FileDocument, error) {
	var doc FileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return FileDocument{}, fmt.Errorf("invalid plan file: %w", err)
	}
	if len(doc.Tasks) == 0 {
		return FileDocument{}, errors.New("plan file has no tasks")
	}
	if len(doc.Tasks) > maxTasks {
		return FileDocument{}, fmt.Errorf("plan file has too many tasks: %d (max: %d)", len(doc.Tasks), maxTasks)
	}
	return doc, nil
}

// Plan implements plan.Planner.
func (f *FilePlanner) Plan(ctx context.Context, _ string, _ []*plan.Plan) (plan.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return plan.Proposal{}, err
	}
	doc, err := f.load()
	if err != nil {
		return plan.Proposal{}, err
	}
	drafts := make([]plan.TaskDraft, len(doc.Tasks))
	copy(drafts, doc.Tasks)
	return plan.Proposal{Tasks: drafts, Notes: doc.Notes}, nil
}

// Replan implements plan.Planner.
func (f *FilePlanner) Replan(ctx context.Context, current *plan.Plan, failure plan.Failure) (plan.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return plan.Proposal{}, err
	}

	base := retrySuffix.ReplaceAllString(failure.TaskID, "")
	drafts := []plan.TaskDraft{{
		ID:          fmt.Sprintf("%s-retry%d", base, failure.RetryCount),
		Description: failure.Description,
		Capability:  failure.Capability,
		Params:      failure.Params,
	}}
	for _, t := range current.Snapshot().Tasks {
		if t.Status != plan.TaskPending {
			continue
		}
		drafts = append(drafts, plan.TaskDraft{
			ID:          t.ID,
			Description: t.Description,
			Capability:  t.Capability,
			Params:      t.Params,
		})
	}
	return plan.Proposal{
		Tasks: drafts,
		Notes: fmt.Sprintf("retrying %s after %s", base, strings.ReplaceAll(string(failure.Kind), "_", " ")),
	}, nil
}

func (f *FilePlanner) load() (FileDocument, error) {
	if f.doc != nil {
		return *f.doc, nil
	}
	if f.Path == "" {
		return FileDocument{}, errors.New("no plan file configured")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return FileDocument{}, fmt.Errorf("failed to read plan file: %w", err)
	}
	return ParseDocument(data)
}
