// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/logging"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus(nil)
	ch, unsub := b.Subscribe(10)
	defer unsub()

	b.Publish(Event{Type: TaskStarted, SessionID: "s"})
	b.Publish(Event{Type: TaskFinished, SessionID: "s"})

	first := <-ch
	second := <-ch
	assert.Equal(t, TaskStarted, first.Type)
	assert.Equal(t, TaskFinished, second.Type)
	assert.Less(t, first.Seq, second.Seq)
	assert.False(t, first.Time.IsZero())
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus(nil)
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(Event{Type: TaskStarted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
	assert.EqualValues(t, 4, b.Dropped())
}

func TestUnsubscribeAndClose(t *testing.T) {
	b := NewBus(nil)
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)

	ch2, _ := b.Subscribe(1)
	b.Close()
	b.Close()
	_, ok = <-ch2
	assert.False(t, ok)
	b.Publish(Event{Type: PlanFailed})

	ch3, _ := b.Subscribe(1)
	_, ok = <-ch3
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
}

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	failNext bool
	flushed  bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return errors.New("disconnected")
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushed = true
	return nil
}

func TestNATSForwarder(t *testing.T) {
	conn := &fakeConn{failNext: true}
	f := NewNATSForwarder(conn, "agent", nil)

	ch := make(chan Event, 3)
	ch <- Event{Type: TaskStarted, SessionID: "lost"}
	ch <- Event{Type: PlanCompleted, SessionID: "s.1 x", PlanID: "p1"}
	close(ch)

	require.NoError(t, f.Run(context.Background(), ch))
	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "agent.s_1_x.plan_completed", conn.subjects[0])
	assert.True(t, conn.flushed)

	var e Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &e))
	assert.Equal(t, "p1", e.PlanID)
}

func TestNATSForwarderStopsOnContext(t *testing.T) {
	f := NewNATSForwarder(&fakeConn{}, "", nil)
	assert.Equal(t, "rigrun._.inspect", f.Subject(Event{Type: Inspect}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Run(ctx, make(chan Event))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, logging.LevelInfo)
	ch := make(chan Event, 1)
	ch <- Event{Type: Escalated, SessionID: "s", TaskID: "t"}
	close(ch)
	LogSink(context.Background(), ch, logger)
	assert.Contains(t, buf.String(), `"type":"escalation"`)
}
