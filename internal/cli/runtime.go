// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/rigrun-agent/internal/config"
	"github.com/jeranaias/rigrun-agent/internal/escalation"
	"github.com/jeranaias/rigrun-agent/internal/events"
	"github.com/jeranaias/rigrun-agent/internal/knowledge"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/orchestrator"
	"github.com/jeranaias/rigrun-agent/internal/permission"
	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/planner"
	"github.com/jeranaias/rigrun-agent/internal/process"
	"github.com/jeranaias/rigrun-agent/internal/session"
	"github.com/jeranaias/rigrun-agent/internal/tools"
)

// Runtime is every component of one agent process, wired from config.
type Runtime struct {
	Config     *config.Config
	ConfigPath string
	DataDir    string
	Logger     *logging.Logger

	Workspace    *tools.Workspace
	Registry     *tools.Registry
	Gate         *permission.Gate
	Processes    *process.Registry
	Sessions     session.Store
	Plans        *plan.FileStore
	Knowledge    knowledge.Store
	Planner      plan.Planner
	Bus          *events.Bus
	Escalations  *escalation.Queue
	Orchestrator *orchestrator.Orchestrator

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func() error
}

// RuntimeOptions override parts of the wiring per command.
type RuntimeOptions struct {
	// Escalator answers escalations; nil parks them on Escalations
	Escalator escalation.Escalator

	// PlanFile selects the file planner regardless of config
	PlanFile string

	// Planner replaces the configured planner entirely
	Planner plan.Planner

	// Quiet skips the event log sink
	Quiet bool
}

// OpenRuntime builds the runtime. Background workers (event sinks and the
// config watcher) run until Close.
func OpenRuntime(ctx context.Context, g *GlobalOptions, opts RuntimeOptions) (rt *Runtime, err error) {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if opts.Quiet && cfg.Logging.Dir == "" && g.LogLevel == "" {
		// keep stderr readable under the progress printer
		level = logging.LevelWarn
	}
	logger, err := logging.New(cfg.Logging.Dir, level)
	if err != nil {
		return nil, err
	}

	rt = &Runtime{Config: cfg, ConfigPath: path, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	root := g.workspace(cfg)
	if rt.Workspace, err = tools.NewWorkspace(root); err != nil {
		return nil, err
	}
	rt.DataDir = cfg.ResolveDataDir(rt.Workspace.Root)
	if err := os.MkdirAll(rt.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	rt.Registry = tools.NewRegistry()
	if err := tools.RegisterBuiltins(rt.Registry, tools.BuiltinOptions{
		ShellTimeout:         cfg.Tools.ShellTimeout.Duration,
		WebRatePerSec:        cfg.Tools.WebRatePerSec,
		WebMaxBytes:          cfg.Tools.WebMaxBytes,
		AllowPrivateNetworks: cfg.Tools.AllowPrivateIP,
	}); err != nil {
		return nil, err
	}
	rt.Registry.Seal()
	rt.Gate = permission.NewGate(cfg.Policy())
	rt.Processes = process.NewRegistry(logger)

	if err := rt.openStores(); err != nil {
		return nil, err
	}

	switch {
	case opts.Planner != nil:
		rt.Planner = opts.Planner
	case opts.PlanFile != "":
		rt.Planner = planner.NewFilePlanner(opts.PlanFile)
	default:
		rt.Planner = rt.configuredPlanner()
	}

	rt.Bus = events.NewBus(logger)
	rt.closers = append(rt.closers, func() error { rt.Bus.Close(); return nil })
	rt.Escalations = escalation.NewQueue(logger)
	escalator := opts.Escalator
	if escalator == nil {
		escalator = rt.Escalations
	}

	rt.Orchestrator, err = orchestrator.New(orchestrator.Config{
		MaxRetries:        cfg.Orchestrator.MaxRetries,
		TaskTimeout:       cfg.Orchestrator.TaskTimeout.Duration,
		CorrectionTimeout: cfg.Orchestrator.CorrectionTimeout.Duration,
		Enabled:           cfg.EnabledTools(),
	}, orchestrator.Deps{
		Registry:  rt.Registry,
		Gate:      rt.Gate,
		Processes: rt.Processes,
		Sessions:  rt.Sessions,
		Plans:     rt.Plans,
		Planner:   rt.Planner,
		Escalator: escalator,
		Events:    rt.Bus,
		Knowledge: rt.Knowledge,
		Workspace: rt.Workspace,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	bg, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	if err := rt.startWorkers(bg, opts.Quiet); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openStores() error {
	cfg := rt.Config
	var err error
	switch cfg.Storage.Backend {
	case config.BackendFile:
		rt.Sessions, err = session.NewFileStore(filepath.Join(rt.DataDir, "sessions"))
	default:
		rt.Sessions, err = session.OpenSQLite(filepath.Join(rt.DataDir, "state.db"))
	}
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, rt.Sessions.Close)

	if rt.Plans, err = plan.NewFileStore(filepath.Join(rt.DataDir, "plans")); err != nil {
		return err
	}

	localDir := cfg.Knowledge.LocalDir
	if localDir == "" {
		localDir = filepath.Join(rt.DataDir, "knowledge")
	}
	kb, err := knowledge.Open(knowledge.Config{
		LocalDir:  localDir,
		GlobalDir: cfg.ResolveGlobalKnowledgeDir(),
	})
	if err != nil {
		return err
	}
	rt.Knowledge = kb
	rt.closers = append(rt.closers, kb.Close)
	return nil
}

func (rt *Runtime) configuredPlanner() plan.Planner {
	cfg := rt.Config.Planner
	if cfg.Provider == config.PlannerFile {
		return planner.NewFilePlanner(cfg.PlanFile)
	}
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.OllamaURL,
		Timeout:      cfg.Timeout.Duration,
		DefaultModel: cfg.Model,
		Temperature:  cfg.Temperature,
	})
	caps := rt.Registry.Available(rt.Config.EnabledTools())
	return planner.NewLLMPlanner(client, caps, rt.Logger)
}

// startWorkers launches the event sinks and the config watcher.
func (rt *Runtime) startWorkers(ctx context.Context, quiet bool) error {
	cfg := rt.Config

	if !quiet {
		ch, unsubscribe := rt.Bus.Subscribe(cfg.Events.Buffer)
		rt.closers = append(rt.closers, func() error { unsubscribe(); return nil })
		rt.goWorker(func() { events.LogSink(ctx, ch, rt.Logger.WithComponent("events")) })
	}

	if cfg.Events.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.Events.NATSURL, "rigrun-agent")
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() error { return nc.Drain() })
		fwd := events.NewNATSForwarder(nc, cfg.Events.SubjectPrefix, rt.Logger)
		ch, unsubscribe := rt.Bus.Subscribe(cfg.Events.Buffer)
		rt.closers = append(rt.closers, func() error { unsubscribe(); return nil })
		rt.goWorker(func() {
			if err := fwd.Run(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
				rt.Logger.Warn("event forwarder stopped", "error", err)
			}
		})
	}

	if rt.ConfigPath != "" {
		if _, err := os.Stat(rt.ConfigPath); err == nil {
			w, err := config.NewWatcher(rt.ConfigPath, config.DefaultDebounce, rt.applyConfig, rt.Logger)
			if err != nil {
				rt.Logger.Warn("config watcher unavailable", "error", err)
				return nil
			}
			rt.goWorker(func() { w.Run(ctx) })
		}
	}
	return nil
}

// applyConfig applies the settings that can change while running.
func (rt *Runtime) applyConfig(cfg *config.Config) {
	rt.Gate.SetPolicy(cfg.Policy())
	rt.Logger.Info("permission policy updated", "enabled", fmt.Sprint(cfg.Policy().Enabled()))
}

func (rt *Runtime) goWorker(fn func()) {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		fn()
	}()
}

// Close stops background workers and closes stores in reverse order.
func (rt *Runtime) Close() error {
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.wg.Wait()

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if err := rt.Logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
