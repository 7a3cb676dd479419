// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-agent/internal/plan"
)

// openPlanStore opens the plan store without the rest of the runtime.
func openPlanStore(g *GlobalOptions) (*plan.FileStore, error) {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(g.workspace(cfg))
	if err != nil {
		return nil, err
	}
	return plan.NewFileStore(filepath.Join(cfg.ResolveDataDir(root), "plans"))
}

func newPlanCommand(g *GlobalOptions) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect stored plans",
	}
	cmd.PersistentFlags().StringVarP(&session, "session", "s", "default", "session ID")

	var asYAML bool
	show := &cobra.Command{
		Use:   "show [plan-id]",
		Short: "Show a plan (default: the most recent)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPlanStore(g)
			if err != nil {
				return err
			}
			var p *plan.Plan
			if len(args) == 1 {
				p, err = store.Load(session, args[0])
			} else {
				p, err = latestPlan(store, session)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case g.JSON:
				return NewJSONResponse("plan show", p).Write(out)
			case asYAML:
				data, err := p.YAML()
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}
			renderPlan(out, p)
			return nil
		},
	}
	show.Flags().BoolVar(&asYAML, "yaml", false, "print the plan as YAML")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the session's plans, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPlanStore(g)
			if err != nil {
				return err
			}
			plans, err := store.List(session)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.JSON {
				return NewJSONResponse("plan list", plans).Write(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"ID", "Status", "Tasks", "Retries", "Created", "Objective"})
			for _, p := range plans {
				tw.AppendRow(table.Row{p.ID, p.CurrentStatus(), len(p.Tasks), p.Retries(), p.CreatedAt.Format(time.DateTime), FitWidth(p.Objective, 40)})
			}
			tw.Render()
			return nil
		},
	}

	cmd.AddCommand(show, list)
	return cmd
}

func latestPlan(store plan.Store, session string) (*plan.Plan, error) {
	plans, err := store.List(session)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, &NotFoundError{Resource: "plan for session", ID: session}
	}
	return plans[len(plans)-1], nil
}

// renderPlan prints a plan header and its task table. p must not be
// running.
func renderPlan(w io.Writer, p *plan.Plan) {
	snap := p.Snapshot()
	fmt.Fprintln(w, TitleStyle.Render("Plan "+p.ID))
	fmt.Fprintln(w, RenderField("Session", p.SessionID))
	fmt.Fprintln(w, RenderField("Objective", p.Objective))
	fmt.Fprintln(w, RenderField("Status", RenderStatus(string(snap.Status))))
	fmt.Fprintln(w, RenderField("Retries", fmt.Sprint(snap.RetryCount)))
	fmt.Fprintln(w)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "ID", "Capability", "Status", "Result"})
	for i, t := range snap.Tasks {
		status := string(t.Status)
		switch {
		case t.Superseded:
			status += " (superseded)"
		case t.Accepted:
			status += " (accepted)"
		}
		result := ""
		if t.Result != nil {
			result = t.Result.Output
			if t.Result.Kind != "" {
				result = string(t.Result.Kind) + ": " + result
			}
		}
		tw.AppendRow(table.Row{i + 1, t.ID, t.Capability, status, FitWidth(result, 50)})
	}
	tw.Render()

	if pad := strings.TrimSpace(snap.Scratchpad); pad != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, DimStyle.Render(pad))
	}
	if len(p.Investigation) > 0 {
		fmt.Fprintln(w)
		for _, r := range p.Investigation {
			fmt.Fprintf(w, "%s %s\n", InfoStyle.Render("["+r.Kind+"]"), r.Summary)
		}
	}
}
