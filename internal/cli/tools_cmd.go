// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-agent/internal/permission"
	"github.com/jeranaias/rigrun-agent/internal/tools"
)

// ToolInfo describes a capability and whether it can run under the
// current configuration.
type ToolInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Group       string   `json:"permission_group"`
	Default     bool     `json:"default"`
	Enabled     bool     `json:"enabled"`
	Permitted   bool     `json:"permitted"`
	Parameters  []string `json:"parameters"`
}

func newToolsCommand(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect registered capabilities",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List capabilities with their permission group and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			reg := tools.NewRegistry()
			if err := tools.RegisterBuiltins(reg, tools.BuiltinOptions{}); err != nil {
				return err
			}
			infos := describeTools(reg.All(), cfg.EnabledTools(), cfg.Policy())

			out := cmd.OutOrStdout()
			if g.JSON {
				return NewJSONResponse("tools list", infos).Write(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Name", "Group", "Available", "Parameters"})
			for _, info := range infos {
				group := info.Group
				if group == "" {
					group = "-"
				}
				tw.AppendRow(table.Row{info.Name, group, availability(info), strings.Join(info.Parameters, ", ")})
			}
			tw.Render()
			return nil
		},
	}
	cmd.AddCommand(list)
	return cmd
}

func describeTools(all []*tools.Tool, enabled map[string]bool, policy permission.Policy) []ToolInfo {
	infos := make([]ToolInfo, 0, len(all))
	for _, t := range all {
		params := make([]string, 0, len(t.Schema.Parameters))
		for _, p := range t.Schema.Parameters {
			name := p.Name
			if p.Required {
				name += "*"
			}
			params = append(params, name)
		}
		infos = append(infos, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Group:       string(t.PermissionGroup),
			Default:     t.IsDefault,
			Enabled:     t.IsDefault || enabled[t.Name],
			Permitted:   permission.CheckAndGate(t.Name, t.PermissionGroup, policy) == nil,
			Parameters:  params,
		})
	}
	return infos
}

func availability(info ToolInfo) string {
	switch {
	case !info.Enabled:
		return DimStyle.Render("opt-in")
	case !info.Permitted:
		return WarningStyle.Render("denied")
	}
	return SuccessStyle.Render("yes")
}
