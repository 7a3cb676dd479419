// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-agent/internal/config"
	"github.com/jeranaias/rigrun-agent/internal/session"
)

// sessionLister is implemented by both session backends.
type sessionLister interface {
	Sessions(ctx context.Context) ([]string, error)
}

// openSessionStore opens the configured session backend on its own.
func openSessionStore(g *GlobalOptions) (session.Store, error) {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(g.workspace(cfg))
	if err != nil {
		return nil, err
	}
	dataDir := cfg.ResolveDataDir(root)
	if cfg.Storage.Backend == config.BackendFile {
		return session.NewFileStore(filepath.Join(dataDir, "sessions"))
	}
	return session.OpenSQLite(filepath.Join(dataDir, "state.db"))
}

func newSessionCommand(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Inspect or reset session state",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions with stored state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore(g)
			if err != nil {
				return err
			}
			defer store.Close()
			lister, ok := store.(sessionLister)
			if !ok {
				return errors.New("session backend cannot list sessions")
			}
			ids, err := lister.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if g.JSON {
				return NewJSONResponse("session list", ids).Write(cmd.OutOrStdout())
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's environment and memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore(g)
			if err != nil {
				return err
			}
			defer store.Close()
			state, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			snap := state.Snapshot()
			out := cmd.OutOrStdout()
			if g.JSON {
				return NewJSONResponse("session show", snap).Write(out)
			}

			active := snap.ActiveEnvironment
			if active == "" {
				active = DimStyle.Render("(none)")
			}
			fmt.Fprintln(out, TitleStyle.Render("Session "+args[0]))
			fmt.Fprintln(out, RenderField("Environment", active))
			fmt.Fprintln(out, RenderField("History", fmt.Sprint(len(snap.EnvironmentHistory))))
			fmt.Fprintln(out)

			keys := make([]string, 0, len(snap.PersistentMemory))
			for k := range snap.PersistentMemory {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Key", "Value"})
			for _, k := range keys {
				v, _ := json.Marshal(snap.PersistentMemory[k])
				tw.AppendRow(table.Row{k, FitWidth(string(v), 60)})
			}
			tw.Render()
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Discard a session's stored state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore(g)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			if g.JSON {
				return NewJSONResponse("session reset", map[string]string{"session_id": args[0]}).Write(cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Reset"), args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, reset)
	return cmd
}
