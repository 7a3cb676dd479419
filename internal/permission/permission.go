// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
)

// =============================================================================
// PERMISSION GROUPS
// =============================================================================

// Group is the permission class a capability belongs to.
type Group string

const (
	// GroupNone marks a capability that needs no permission.
	GroupNone Group = ""

	// GroupShellExecution covers running arbitrary commands.
	GroupShellExecution Group = "shell_execution"

	// GroupFilesystemWrite covers creating, modifying or deleting files.
	GroupFilesystemWrite Group = "filesystem_write"

	// GroupFilesystemRead covers reading files and listing directories.
	GroupFilesystemRead Group = "filesystem_read"

	// GroupInternetAccess covers outbound network requests.
	GroupInternetAccess Group = "internet_access"
)

// Groups returns every gated group in a stable order.
func Groups() []Group {
	return []Group{GroupShellExecution, GroupFilesystemWrite, GroupFilesystemRead, GroupInternetAccess}
}

// Valid reports whether g is a known group (GroupNone included).
func (g Group) Valid() bool {
	switch g {
	case GroupNone, GroupShellExecution, GroupFilesystemWrite, GroupFilesystemRead, GroupInternetAccess:
		return true
	}
	return false
}

// String returns the group name, or "none".
func (g Group) String() string {
	if g == GroupNone {
		return "none"
	}
	return string(g)
}

// =============================================================================
// POLICY
// =============================================================================

// Policy maps each group to whether it is enabled. Missing groups are
// disabled.
type Policy map[Group]bool

// DefaultPolicy enables reading only.
func DefaultPolicy() Policy {
	return Policy{
		GroupShellExecution:  false,
		GroupFilesystemWrite: false,
		GroupFilesystemRead:  true,
		GroupInternetAccess:  false,
	}
}

// AllowAll enables every group.
func AllowAll() Policy {
	p := make(Policy, len(Groups()))
	for _, g := range Groups() {
		p[g] = true
	}
	return p
}

// Clone returns an independent copy of the policy.
func (p Policy) Clone() Policy {
	out := make(Policy, len(p))
	for g, on := range p {
		out[g] = on
	}
	return out
}

// Enabled returns the list of enabled groups, sorted.
func (p Policy) Enabled() []Group {
	var out []Group
	for g, on := range p {
		if on {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrPermissionDenied is matched by every denial.
var ErrPermissionDenied = errors.New("permission denied")

// DeniedError describes a denied capability.
type DeniedError struct {
	Capability string
	Group      Group
}

func (e *DeniedError) Error() string {
	if !e.Group.Valid() {
		return fmt.Sprintf("permission denied: %s declares unknown group %q", e.Capability, string(e.Group))
	}
	return fmt.Sprintf("permission denied: %s requires %s", e.Capability, e.Group)
}

// Is makes errors.Is(err, ErrPermissionDenied) true.
func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// CheckAndGate returns nil when the capability may run under policy.
// GroupNone always passes; an unknown group is always denied.
func CheckAndGate(capability string, group Group, policy Policy) error {
	if group == GroupNone {
		return nil
	}
	if !group.Valid() || !policy[group] {
		return &DeniedError{Capability: capability, Group: group}
	}
	return nil
}

// =============================================================================
// GATE
// =============================================================================

// Gate holds the live policy. The policy can be swapped at any time (for
// example when the config file changes); each check sees one consistent
// snapshot.
type Gate struct {
	policy atomic.Pointer[Policy]
}

// NewGate creates a gate with a copy of policy.
func NewGate(policy Policy) *Gate {
	g := &Gate{}
	g.SetPolicy(policy)
	return g
}

// SetPolicy replaces the live policy.
func (g *Gate) SetPolicy(policy Policy) {
	p := policy.Clone()
	g.policy.Store(&p)
}

// Policy returns a copy of the live policy.
func (g *Gate) Policy() Policy {
	p := g.policy.Load()
	if p == nil {
		return Policy{}
	}
	return p.Clone()
}

// Check gates a capability against the live policy.
func (g *Gate) Check(capability string, group Group) error {
	p := g.policy.Load()
	if p == nil {
		return CheckAndGate(capability, group, nil)
	}
	return CheckAndGate(capability, group, *p)
}
