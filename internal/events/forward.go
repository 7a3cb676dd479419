// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jeranaias/rigrun-agent/internal/logging"
)

// =============================================================================
// NATS
// =============================================================================

// Conn is the slice of *nats.Conn the forwarder uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Flush() error
}

// ConnectNATS dials a NATS server with reconnects enabled.
func ConnectNATS(url, clientName string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSForwarder publishes events as JSON on <prefix>.<session>.<type>.
type NATSForwarder struct {
	conn   Conn
	prefix string
	logger *logging.Logger
}

// NewNATSForwarder creates a forwarder.
func NewNATSForwarder(conn Conn, prefix string, logger *logging.Logger) *NATSForwarder {
	if prefix == "" {
		prefix = "rigrun"
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &NATSForwarder{conn: conn, prefix: prefix, logger: logger.WithComponent("nats")}
}

// Subject returns the subject an event is published on.
func (f *NATSForwarder) Subject(e Event) string {
	return f.prefix + "." + subjectToken(e.SessionID) + "." + string(e.Type)
}

// Run forwards events from ch until ctx is done or ch closes.
func (f *NATSForwarder) Run(ctx context.Context, ch <-chan Event) error {
	defer func() {
		if err := f.conn.Flush(); err != nil {
			f.logger.Warn("flush failed", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(e)
			if err != nil {
				f.logger.Error("encode event", "error", err)
				continue
			}
			if err := f.conn.Publish(f.Subject(e), data); err != nil {
				f.logger.Warn("publish failed", "subject", f.Subject(e), "error", err)
			}
		}
	}
}

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink writes every event to logger until ctx is done or ch closes.
func LogSink(ctx context.Context, ch <-chan Event, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			logger.Info("event",
				"type", string(e.Type),
				"seq", e.Seq,
				"session_id", e.SessionID,
				"plan_id", e.PlanID,
				"task_id", e.TaskID,
				"status", e.Status,
				"kind", e.Kind,
			)
		}
	}
}
