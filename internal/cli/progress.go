// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/jeranaias/rigrun-agent/internal/events"
)

// FormatEvent renders one event as a progress line, or "" for events the
// terminal does not show.
func FormatEvent(e events.Event, width int) string {
	outWidth := width - 24
	switch e.Type {
	case events.PlanCreated:
		return TitleStyle.Render("Plan "+e.PlanID) + " " + DimStyle.Render(e.Message)
	case events.TaskStarted:
		return fmt.Sprintf("  %s %s %s", InfoStyle.Render("->"), e.TaskID, DimStyle.Render("["+e.Capability+"]"))
	case events.TaskFinished:
		line := fmt.Sprintf("  %s %s", RenderStatus(e.Status), e.TaskID)
		if e.Kind != "" {
			line += " " + ErrorStyle.Render(e.Kind)
		}
		if e.Output != "" {
			line += " " + DimStyle.Render(FitWidth(e.Output, outWidth))
		}
		return line
	case events.ReplanRequested:
		return WarningStyle.Render(fmt.Sprintf("  replanning (attempt %d)", e.RetryCount))
	case events.PlanRevised:
		return InfoStyle.Render("  plan revised") + " " + DimStyle.Render(FitWidth(e.Message, outWidth))
	case events.Inspect:
		return DimStyle.Render("  inspected " + e.TaskID)
	case events.EscalationResolved:
		return fmt.Sprintf("  %s %s", WarningStyle.Render("operator:"), e.Resolution)
	case events.PlanCompleted:
		return SuccessStyle.Render("Plan completed")
	case events.PlanFailed:
		return ErrorStyle.Render("Plan failed") + " " + DimStyle.Render(e.Message)
	case events.SessionCancelled:
		return WarningStyle.Render("Session cancelled")
	}
	return ""
}

// PrintEvents writes progress lines for sessionID until ch closes.
func PrintEvents(w io.Writer, ch <-chan events.Event, sessionID string) {
	width := GetTerminalWidth()
	for e := range ch {
		if e.SessionID != sessionID {
			continue
		}
		if line := FormatEvent(e, width); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}
