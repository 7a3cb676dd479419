// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateDirtyTracking(t *testing.T) {
	s := NewState()
	assert.False(t, s.Dirty())

	_, ok := s.Get("x")
	assert.False(t, ok)
	assert.False(t, s.Dirty(), "reads do not dirty")

	s.Set("x", 42)
	assert.True(t, s.Dirty())
	s.MarkClean()

	assert.False(t, s.Delete("missing"))
	assert.False(t, s.Dirty())
	assert.True(t, s.Delete("x"))
	assert.True(t, s.Dirty())
}

func TestEnvironmentHistoryIsAppendOnly(t *testing.T) {
	s := NewState()
	s.RecordEnvironment("created py311")
	s.AdoptEnvironment("py311")
	assert.Equal(t, "py311", s.ActiveEnvironment())

	s.ClearEnvironment("other")
	assert.Equal(t, "py311", s.ActiveEnvironment())
	s.ClearEnvironment("py311")
	assert.Equal(t, "", s.ActiveEnvironment())

	h := s.EnvironmentHistory()
	assert.Equal(t, []string{"created py311", "adopted py311"}, h)
	h[0] = "tampered"
	assert.Equal(t, "created py311", s.EnvironmentHistory()[0])
}

func TestSnapshotRoundTripIsClean(t *testing.T) {
	s := NewState()
	s.Set("b", "two")
	s.Set("a", 1)
	restored := FromSnapshot(s.Snapshot())
	assert.False(t, restored.Dirty())
	assert.Equal(t, []string{"a", "b"}, restored.Keys())
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("session-1"))
	assert.ErrorIs(t, ValidateID(""), ErrInvalidSessionID)
	assert.ErrorIs(t, ValidateID("../x"), ErrInvalidSessionID)
	assert.ErrorIs(t, ValidateID(".hidden"), ErrInvalidSessionID)
}
