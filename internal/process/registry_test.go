// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginEnd(t *testing.T) {
	r := NewRegistry(nil)
	id, ctx := r.Begin(context.Background(), "s1", "shell: ls")
	require.NotEmpty(t, id)
	assert.NoError(t, ctx.Err())
	assert.Equal(t, 1, r.Count("s1"))

	p, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "shell: ls", p.Description)

	r.End(id)
	assert.Equal(t, 0, r.Count("s1"))
	assert.Error(t, ctx.Err(), "End releases the context")
	r.End(id)
}

func TestCancelIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	id, ctx := r.Begin(context.Background(), "s1", "long")

	assert.True(t, r.Cancel(id))
	assert.True(t, r.Cancel(id))
	<-ctx.Done()
	assert.True(t, errors.Is(context.Cause(ctx), ErrProcessCancelled))
	assert.Equal(t, 1, r.Count("s1"), "owner still has to End")

	r.End(id)
	assert.False(t, r.Cancel(id), "ended processes are a no-op")
}

func TestCancelAll(t *testing.T) {
	r := NewRegistry(nil)
	_, c1 := r.Begin(context.Background(), "s1", "a")
	_, c2 := r.Begin(context.Background(), "s1", "b")
	idOther, cOther := r.Begin(context.Background(), "s2", "c")

	assert.Equal(t, 2, r.CancelAll("s1"))
	assert.Equal(t, 2, r.CancelAll("s1"))
	for _, c := range []context.Context{c1, c2} {
		<-c.Done()
		assert.ErrorIs(t, context.Cause(c), ErrSessionCancelled)
	}
	assert.NoError(t, cOther.Err())
	assert.True(t, r.SessionCancelled("s1"))
	assert.False(t, r.SessionCancelled("s2"))

	_, late := r.Begin(context.Background(), "s1", "after cancel")
	assert.ErrorIs(t, context.Cause(late), ErrSessionCancelled)

	r.Open("s1")
	assert.False(t, r.SessionCancelled("s1"))
	_, fresh := r.Begin(context.Background(), "s1", "fresh")
	assert.NoError(t, fresh.Err())

	r.End(idOther)
}

func TestParentCancellationPropagates(t *testing.T) {
	r := NewRegistry(nil)
	parent, cancel := context.WithCancel(context.Background())
	_, ctx := r.Begin(parent, "s1", "child")
	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("child context not cancelled")
	}
}

func TestListOrderAndFilter(t *testing.T) {
	r := NewRegistry(nil)
	a, _ := r.Begin(context.Background(), "s1", "first")
	time.Sleep(2 * time.Millisecond)
	b, _ := r.Begin(context.Background(), "s1", "second")
	r.Begin(context.Background(), "s2", "other")

	list := r.List("s1")
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, b, list[1].ID)
	assert.Len(t, r.List(""), 3)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := r.Begin(context.Background(), "s1", "work")
			r.Cancel(id)
			r.End(id)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			r.CancelAll("s1")
			r.List("s1")
		}
	}()
	wg.Wait()
	assert.Equal(t, 0, r.Count("s1"))
}
