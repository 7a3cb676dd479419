// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigrun-agent/internal/escalation"
)

// Prompter reads one line of operator input.
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// linerPrompter opens a fresh liner state per prompt so the terminal is
// only in raw mode while waiting for an answer.
type linerPrompter struct{}

func (linerPrompter) Prompt(prompt string) (string, error) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	return line.Prompt(prompt)
}

// TerminalEscalator asks the operator on the terminal. Concurrent
// escalations are asked one at a time.
type TerminalEscalator struct {
	Out    io.Writer
	Prompt Prompter

	mu sync.Mutex
}

// NewTerminalEscalator prompts with liner and writes to out.
func NewTerminalEscalator(out io.Writer) *TerminalEscalator {
	return &TerminalEscalator{Out: out, Prompt: linerPrompter{}}
}

// Escalate implements escalation.Escalator. An inspect answer prints the
// failed task's raw output before it is returned.
func (t *TerminalEscalator) Escalate(ctx context.Context, e escalation.Escalation) (escalation.Resolution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintln(t.Out, EscalationStyle.Render(strings.Join([]string{
		WarningStyle.Render("Escalation") + " " + DimStyle.Render(e.ID),
		RenderField("Objective", e.Objective),
		RenderField("Task", fmt.Sprintf("%s [%s]", e.Description, e.Capability)),
		RenderField("Failure", string(e.Kind)),
		RenderField("Retries", fmt.Sprint(e.RetryCount)),
		RenderField("Reason", e.Reason),
	}, "\n")))

	for {
		answer, err := t.ask(ctx)
		if err != nil {
			return "", err
		}
		res, err := escalation.ParseResolution(answer)
		if err != nil {
			fmt.Fprintln(t.Out, WarningStyle.Render("Please answer stop, continue or inspect."))
			continue
		}
		if res == escalation.Inspect {
			fmt.Fprintln(t.Out, DimStyle.Render("--- output of "+e.TaskID+" ---"))
			fmt.Fprintln(t.Out, e.Output)
			fmt.Fprintln(t.Out, DimStyle.Render("---"))
		}
		return res, nil
	}
}

// ask runs the blocking prompt off the caller's goroutine so ctx can
// abandon it.
func (t *TerminalEscalator) ask(ctx context.Context) (string, error) {
	type reply struct {
		line string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		line, err := t.Prompt.Prompt("[s]top / [c]ontinue / [i]nspect > ")
		ch <- reply{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", context.Cause(ctx)
	case r := <-ch:
		if errors.Is(r.err, liner.ErrPromptAborted) || errors.Is(r.err, io.EOF) {
			return string(escalation.Stop), nil
		}
		return r.line, r.err
	}
}
