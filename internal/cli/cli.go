// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-agent/internal/config"
	"github.com/jeranaias/rigrun-agent/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
)

// GlobalOptions are the persistent flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	Workspace  string
	EnvFiles   []string
	LogLevel   string
	JSON       bool
}

// loadConfig reads the configuration with flag overrides applied. The
// returned path is the file the config came from, or would come from.
func (g *GlobalOptions) loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(g.EnvFiles...); err != nil {
		return nil, "", err
	}

	path := g.ConfigPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil, "", err
		}
		path = p
	}

	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = config.LoadFromPath(path)
	} else if g.ConfigPath != "" {
		return nil, "", fmt.Errorf("config file %s: %w", path, statErr)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, "", err
	}

	if g.LogLevel != "" {
		if !logging.ValidLevel(g.LogLevel) {
			return nil, "", fmt.Errorf("invalid --log-level %q", g.LogLevel)
		}
		cfg.Logging.Level = g.LogLevel
	}
	return cfg, path, nil
}

func (g *GlobalOptions) workspace(cfg *config.Config) string {
	switch {
	case g.Workspace != "":
		return g.Workspace
	case cfg.Orchestrator.Workspace != "":
		return cfg.Orchestrator.Workspace
	}
	return "."
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &GlobalOptions{}
	root := &cobra.Command{
		Use:   "rigrun-agent",
		Short: "Plan, execute and self-correct tasks against a local workspace",
		Long: `rigrun-agent turns an objective into a plan of capability calls, runs
them one at a time under a permission policy, and revises the plan when a
step fails. Failures that survive the retry budget are escalated to an
operator who can stop, continue or inspect.`,
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.ConfigPath, "config", "c", "", "config file (default $RIGRUN_CONFIG or ~/.rigrun-agent/config.toml)")
	flags.StringVarP(&g.Workspace, "workspace", "w", "", "workspace directory (default .)")
	flags.StringSliceVar(&g.EnvFiles, "env-file", nil, "dotenv files to load before reading config")
	flags.StringVar(&g.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&g.JSON, "json", false, "output JSON")

	root.AddCommand(
		newRunCommand(g),
		newServeCommand(g),
		newPlanCommand(g),
		newSessionCommand(g),
		newToolsCommand(g),
		newConfigCommand(g),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		if strings.Contains(err.Error(), "unknown command") || strings.Contains(err.Error(), "unknown flag") {
			return ExitUsageError
		}
		return ExitCode(err)
	}
	return ExitSuccess
}
