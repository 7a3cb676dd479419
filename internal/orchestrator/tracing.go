// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeranaias/rigrun-agent/internal/plan"
)

const tracerName = "github.com/jeranaias/rigrun-agent/internal/orchestrator"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startRunSpan starts a span covering one Start or Execute call.
func startRunSpan(ctx context.Context, sessionID, objective string) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "plan.run")
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("plan.objective", truncate(objective, 256)),
	)
	return ctx, span
}

// startTaskSpan starts a span for one dispatch.
func startTaskSpan(ctx context.Context, t *plan.Task) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "task."+t.Capability)
	span.SetAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.capability", t.Capability),
	)
	return ctx, span
}

// endTaskSpan ends the dispatch span with result info.
func endTaskSpan(span trace.Span, r plan.Result, err error) {
	span.SetAttributes(
		attribute.Bool("task.success", r.Success),
		attribute.String("task.kind", string(r.Kind)),
	)
	if err != nil {
		span.RecordError(err)
	}
	if !r.Success {
		span.SetStatus(codes.Error, string(r.Kind))
	}
	span.End()
}

// startCorrectionSpan starts a span for a replan request.
func startCorrectionSpan(ctx context.Context, taskID string, retry int) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "plan.correct")
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.Int("plan.retry", retry),
	)
	return ctx, span
}

func endSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
