// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-agent/internal/knowledge"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/permission"
	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/session"
)

// Registry errors.
var (
	ErrDuplicateName  = errors.New("capability already registered")
	ErrNotFound       = errors.New("capability not found")
	ErrRegistrySealed = errors.New("capability registry is sealed")
)

// ErrTransient marks a failure worth retrying (timeouts, rate limits,
// flaky network).
var ErrTransient = errors.New("transient failure")

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// =============================================================================
// SCHEMA
// =============================================================================

// Parameter types understood by ValidateArgs.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeAny     = "any"
)

// Parameter defines a single capability parameter.
type Parameter struct {
	// Name of the parameter
	Name string `json:"name"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// Required indicates if the parameter must be provided
	Required bool `json:"required,omitempty"`

	// Description explains the parameter
	Description string `json:"description,omitempty"`

	// Default is used by the capability when the parameter is absent
	Default any `json:"default,omitempty"`

	// Enum restricts string values
	Enum []string `json:"enum,omitempty"`
}

// Schema defines a capability's parameters.
type Schema struct {
	Parameters []Parameter `json:"parameters"`
}

// Param returns the named parameter definition.
func (s Schema) Param(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// =============================================================================
// EXECUTION
// =============================================================================

// Result is what a capability reports back.
type Result struct {
	// Success is false when the capability ran and failed
	Success bool

	// Output is shown to the planner and the operator
	Output string

	// Truncated indicates Output was clipped
	Truncated bool
}

// OK builds a successful result.
func OK(output string) Result {
	return Result{Success: true, Output: output}
}

// Fail builds an unsuccessful result.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Output: fmt.Sprintf(format, args...)}
}

// ToolExecutor runs a capability. ctx is cancelled when the operator
// aborts the dispatch.
type ToolExecutor interface {
	Execute(ctx context.Context, params map[string]any, ec *ExecutionContext) (Result, error)
}

// ExecutorFunc adapts a function to ToolExecutor.
type ExecutorFunc func(ctx context.Context, params map[string]any, ec *ExecutionContext) (Result, error)

// Execute implements ToolExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	return f(ctx, params, ec)
}

// ExecutionContext is built fresh for every dispatch and owns nothing.
type ExecutionContext struct {
	SessionID string
	ProcessID string

	// Registry is read-only
	Registry *Registry

	// Plan may be read and appended to (scratchpad, investigation)
	Plan *plan.Plan

	// State is nil unless the capability declares UsesSessionState
	State *session.State

	// ActiveEnvironment is a read-only view of the session's environment
	ActiveEnvironment string

	Planner   plan.Planner
	Knowledge knowledge.Store
	Workspace *Workspace
	Logger    *logging.Logger
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Tool is a registered capability.
type Tool struct {
	// Name is unique within a registry
	Name string

	// Description explains what the capability does; the first line is
	// used in planner prompts
	Description string

	// Schema defines the parameters
	Schema Schema

	// PermissionGroup is checked by the gate before dispatch
	PermissionGroup permission.Group

	// IsDefault capabilities are available without opt-in
	IsDefault bool

	// UsesSessionState capabilities receive the session state
	UsesSessionState bool

	// Executor performs the work
	Executor ToolExecutor
}

// Summary returns the first line of the description.
func (t *Tool) Summary() string {
	if idx := strings.Index(t.Description, "\n"); idx != -1 {
		return t.Description[:idx]
	}
	return t.Description
}

// Validate checks the definition itself.
func (t *Tool) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("capability name is required")
	}
	if t.Executor == nil {
		return fmt.Errorf("capability %s has no executor", t.Name)
	}
	if !t.PermissionGroup.Valid() {
		return fmt.Errorf("capability %s declares unknown permission group %q", t.Name, string(t.PermissionGroup))
	}
	seen := make(map[string]bool, len(t.Schema.Parameters))
	for _, p := range t.Schema.Parameters {
		if seen[p.Name] {
			return fmt.Errorf("capability %s declares parameter %q twice", t.Name, p.Name)
		}
		seen[p.Name] = true
		if !knownType(p.Type) {
			return fmt.Errorf("capability %s parameter %q has unknown type %q", t.Name, p.Name, p.Type)
		}
	}
	return nil
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds capabilities by name. Register before Seal; Lookup is
// safe from any goroutine.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a capability.
func (r *Registry) Register(t *Tool) error {
	if t == nil {
		return errors.New("nil capability")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, t.Name)
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the named capability.
func (r *Registry) Lookup(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t, nil
}

// All returns every capability sorted by name.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Defaults returns the capabilities available without opt-in.
func (r *Registry) Defaults() []*Tool {
	var out []*Tool
	for _, t := range r.All() {
		if t.IsDefault {
			out = append(out, t)
		}
	}
	return out
}

// Available returns the capabilities usable given the opted-in names.
func (r *Registry) Available(enabled map[string]bool) []*Tool {
	var out []*Tool
	for _, t := range r.All() {
		if t.IsDefault || enabled[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
