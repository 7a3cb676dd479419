// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/permission"
)

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Orchestrator.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Orchestrator.MaxRetries)
	}

	// Only reading is permitted out of the box.
	policy := cfg.Policy()
	for _, g := range permission.Groups() {
		want := g == permission.GroupFilesystemRead
		if policy[g] != want {
			t.Errorf("policy[%s] = %v, want %v", g, policy[g], want)
		}
	}
}

func TestConfig_Parse(t *testing.T) {
	data := []byte(`
[orchestrator]
max_retries = 4
task_timeout = "30s"

[permissions]
shell_execution = true
filesystem_write = true

[tools]
enabled = ["web_fetch"]
shell_timeout = "5m"

[storage]
backend = "file"

[planner]
provider = "file"
plan_file = "plan.yaml"
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Orchestrator.MaxRetries != 4 {
		t.Errorf("MaxRetries = %d", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Orchestrator.TaskTimeout.Duration != 30*time.Second {
		t.Errorf("TaskTimeout = %s", cfg.Orchestrator.TaskTimeout)
	}
	if cfg.Orchestrator.CorrectionTimeout.Duration != 5*time.Minute {
		t.Errorf("CorrectionTimeout should keep its default, got %s", cfg.Orchestrator.CorrectionTimeout)
	}
	if !cfg.Permissions.ShellExecution || !cfg.Permissions.FilesystemWrite {
		t.Errorf("permissions not decoded: %+v", cfg.Permissions)
	}
	if !cfg.Permissions.FilesystemRead {
		t.Error("filesystem_read should keep its default")
	}
	if !cfg.EnabledTools()["web_fetch"] {
		t.Error("web_fetch should be enabled")
	}
	if cfg.Storage.Backend != BackendFile {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
}

func TestConfig_ParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("[orchestrator]\nmax_retrys = 3\n"))
	if err == nil || !strings.Contains(err.Error(), "max_retrys") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative retries", func(c *Config) { c.Orchestrator.MaxRetries = -1 }, "orchestrator.max_retries"},
		{"too many retries", func(c *Config) { c.Orchestrator.MaxRetries = 100 }, "orchestrator.max_retries"},
		{"negative task timeout", func(c *Config) { c.Orchestrator.TaskTimeout = D(-time.Second) }, "orchestrator.task_timeout"},
		{"shell timeout too long", func(c *Config) { c.Tools.ShellTimeout = D(time.Hour) }, "tools.shell_timeout"},
		{"duplicate tool", func(c *Config) { c.Tools.Enabled = []string{"web_fetch", "web_fetch"} }, "tools.enabled"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"bad provider", func(c *Config) { c.Planner.Provider = "openai" }, "planner.provider"},
		{"file planner without file", func(c *Config) { c.Planner.Provider = PlannerFile }, "planner.plan_file"},
		{"bad ollama url", func(c *Config) { c.Planner.OllamaURL = "ftp://host" }, "planner.ollama_url"},
		{"addr without port", func(c *Config) { c.Server.Addr = "localhost" }, "server.addr"},
		{"plain token", func(c *Config) { c.Server.TokenHash = "secret" }, "server.token_hash"},
		{"wildcard prefix", func(c *Config) { c.Events.SubjectPrefix = "rigrun.>" }, "events.subject_prefix"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidateErrors, got %v", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.MaxRetries = -1
	cfg.Storage.Backend = "nope"
	cfg.Logging.Level = "nope"

	var verrs ValidateErrors
	if !errors.As(cfg.Validate(), &verrs) {
		t.Fatal("expected ValidateErrors")
	}
	if len(verrs) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(verrs), verrs)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RIGRUN_MAX_RETRIES", "5")
	t.Setenv("RIGRUN_PERMISSIONS", "shell_execution, internet_access")
	t.Setenv("RIGRUN_ENABLED_TOOLS", "web_fetch,env_delete")
	t.Setenv("RIGRUN_MODEL", "llama3.1:8b")
	t.Setenv("RIGRUN_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Orchestrator.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.Orchestrator.MaxRetries)
	}
	want := PermissionsConfig{ShellExecution: true, InternetAccess: true}
	if cfg.Permissions != want {
		t.Errorf("Permissions = %+v, want %+v", cfg.Permissions, want)
	}
	enabled := cfg.EnabledTools()
	if !enabled["web_fetch"] || !enabled["env_delete"] || len(enabled) != 2 {
		t.Errorf("EnabledTools = %v", enabled)
	}
	if cfg.Planner.Model != "llama3.1:8b" {
		t.Errorf("Model = %q", cfg.Planner.Model)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	cfg := Default()
	cfg.Orchestrator.MaxRetries = 3
	cfg.Orchestrator.TaskTimeout = D(90 * time.Second)
	cfg.Tools.Enabled = []string{"web_fetch"}
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("permissions = %o, want 600", perm)
		}
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Orchestrator.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", loaded.Orchestrator.MaxRetries)
	}
	if loaded.Orchestrator.TaskTimeout.Duration != 90*time.Second {
		t.Errorf("TaskTimeout = %s", loaded.Orchestrator.TaskTimeout)
	}
	if len(loaded.Tools.Enabled) != 1 || loaded.Tools.Enabled[0] != "web_fetch" {
		t.Errorf("Enabled = %v", loaded.Tools.Enabled)
	}
}

func TestConfig_LoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "absent.toml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("orchestrator.max_retries", "7"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cfg.Set("orchestrator.task_timeout", "45s"); err != nil {
		t.Fatalf("Set duration: %v", err)
	}
	if err := cfg.Set("permissions.shell_execution", "true"); err != nil {
		t.Fatalf("Set bool: %v", err)
	}
	if err := cfg.Set("tools.enabled", "web_fetch, env_delete"); err != nil {
		t.Fatalf("Set list: %v", err)
	}

	v, err := cfg.Get("orchestrator.max_retries")
	if err != nil || v != 7 {
		t.Errorf("Get max_retries = %v, %v", v, err)
	}
	if cfg.Orchestrator.TaskTimeout.Duration != 45*time.Second {
		t.Errorf("TaskTimeout = %s", cfg.Orchestrator.TaskTimeout)
	}
	if !cfg.Permissions.ShellExecution {
		t.Error("shell_execution not set")
	}
	if len(cfg.Tools.Enabled) != 2 {
		t.Errorf("Enabled = %v", cfg.Tools.Enabled)
	}

	if _, err := cfg.Get("orchestrator.nope"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := cfg.Set("orchestrator.max_retries", "many"); err == nil {
		t.Error("expected error for bad integer")
	}
	if _, err := cfg.Get("orchestrator.task_timeout.x"); err == nil {
		t.Error("expected error when descending into a value")
	}
}

func TestConfig_Keys(t *testing.T) {
	keys := Keys()
	cfg := Default()
	for _, k := range keys {
		if _, err := cfg.Get(k); err != nil {
			t.Errorf("Get(%q): %v", k, err)
		}
	}
	if len(keys) < 20 {
		t.Errorf("only %d keys", len(keys))
	}
}

func TestConfig_CloneAndString(t *testing.T) {
	cfg := Default()
	cfg.Tools.Enabled = []string{"web_fetch"}
	cfg.Server.TokenHash = "$2a$10$abcdefghijklmnopqrstuv"

	clone := cfg.Clone()
	clone.Tools.Enabled[0] = "changed"
	if cfg.Tools.Enabled[0] != "web_fetch" {
		t.Error("Clone shares the enabled slice")
	}

	s := cfg.String()
	if strings.Contains(s, "abcdefghijklmnop") {
		t.Error("String leaks the token hash")
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Error("String should mark the redacted hash")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "RIGRUN_DOTENV_TEST_VALUE"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q", key, got)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := SaveTOML(Default(), path); err != nil {
		t.Fatal(err)
	}

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, 20*time.Millisecond, func(c *Config) { changes <- c }, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// An invalid edit is skipped.
	if err := os.WriteFile(path, []byte("[storage]\nbackend = \"tape\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Fatalf("invalid config delivered: %+v", c.Storage)
	case <-time.After(200 * time.Millisecond):
	}

	cfg := Default()
	cfg.Permissions.ShellExecution = true
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if !c.Permissions.ShellExecution {
			t.Error("reloaded config lost shell_execution")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after change")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
