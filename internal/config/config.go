// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/permission"
	"github.com/jeranaias/rigrun-agent/internal/util"
)

// Directory and file names.
const (
	DirName  = ".rigrun-agent"
	FileName = "config.toml"

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "RIGRUN_CONFIG"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Planner providers.
const (
	PlannerOllama = "ollama"
	PlannerFile   = "file"
)

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as "90s" or "5m" in TOML.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration {
	return Duration{d}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete rigrun-agent configuration.
type Config struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator" json:"orchestrator"`
	Permissions  PermissionsConfig  `toml:"permissions" json:"permissions"`
	Tools        ToolsConfig        `toml:"tools" json:"tools"`
	Storage      StorageConfig      `toml:"storage" json:"storage"`
	Planner      PlannerConfig      `toml:"planner" json:"planner"`
	Server       ServerConfig       `toml:"server" json:"server"`
	Events       EventsConfig       `toml:"events" json:"events"`
	Logging      LoggingConfig      `toml:"logging" json:"logging"`
	Knowledge    KnowledgeConfig    `toml:"knowledge" json:"knowledge"`
}

// OrchestratorConfig bounds the plan-execute-observe loop.
type OrchestratorConfig struct {
	// MaxRetries is the number of replans before escalating
	MaxRetries int `toml:"max_retries" json:"max_retries"`

	// TaskTimeout bounds a single dispatch (0 = none)
	TaskTimeout Duration `toml:"task_timeout" json:"task_timeout"`

	// CorrectionTimeout bounds each planner call
	CorrectionTimeout Duration `toml:"correction_timeout" json:"correction_timeout"`

	// Workspace is the directory capabilities operate in (default: cwd)
	Workspace string `toml:"workspace" json:"workspace"`
}

// PermissionsConfig enables the gated capability groups.
type PermissionsConfig struct {
	ShellExecution  bool `toml:"shell_execution" json:"shell_execution"`
	FilesystemWrite bool `toml:"filesystem_write" json:"filesystem_write"`
	FilesystemRead  bool `toml:"filesystem_read" json:"filesystem_read"`
	InternetAccess  bool `toml:"internet_access" json:"internet_access"`
}

// ToolsConfig configures the built-in capabilities.
type ToolsConfig struct {
	// Enabled lists opt-in capabilities (for example web_fetch)
	Enabled []string `toml:"enabled" json:"enabled"`

	ShellTimeout   Duration `toml:"shell_timeout" json:"shell_timeout"`
	WebRatePerSec  float64  `toml:"web_rate_per_sec" json:"web_rate_per_sec"`
	WebMaxBytes    int64    `toml:"web_max_bytes" json:"web_max_bytes"`
	AllowPrivateIP bool     `toml:"allow_private_ip" json:"allow_private_ip"`
}

// StorageConfig selects where plans and session state live.
type StorageConfig struct {
	DataDir string `toml:"data_dir" json:"data_dir"`

	// Backend is sqlite or file
	Backend string `toml:"backend" json:"backend"`
}

// PlannerConfig selects the planner.
type PlannerConfig struct {
	// Provider is ollama or file
	Provider    string   `toml:"provider" json:"provider"`
	OllamaURL   string   `toml:"ollama_url" json:"ollama_url"`
	Model       string   `toml:"model" json:"model"`
	Temperature float64  `toml:"temperature" json:"temperature"`
	Timeout     Duration `toml:"timeout" json:"timeout"`
	PlanFile    string   `toml:"plan_file" json:"plan_file"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	// TokenHash is a bcrypt hash of the bearer token; empty disables auth
	TokenHash string `toml:"token_hash" json:"token_hash"`
}

// EventsConfig configures event forwarding.
type EventsConfig struct {
	NATSURL       string `toml:"nats_url" json:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix" json:"subject_prefix"`
	Buffer        int    `toml:"buffer" json:"buffer"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`

	// Dir receives rigrun-agent.log; empty logs to stderr
	Dir string `toml:"dir" json:"dir"`
}

// KnowledgeConfig locates the knowledge indexes.
type KnowledgeConfig struct {
	LocalDir  string `toml:"local_dir" json:"local_dir"`
	GlobalDir string `toml:"global_dir" json:"global_dir"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration. Only reading is permitted.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxRetries:        2,
			TaskTimeout:       D(10 * time.Minute),
			CorrectionTimeout: D(5 * time.Minute),
		},
		Permissions: PermissionsConfig{
			FilesystemRead: true,
		},
		Tools: ToolsConfig{
			ShellTimeout:  D(2 * time.Minute),
			WebRatePerSec: 1,
			WebMaxBytes:   2 << 20,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
		},
		Planner: PlannerConfig{
			Provider:    PlannerOllama,
			OllamaURL:   "http://127.0.0.1:11434",
			Model:       "qwen2.5-coder:14b",
			Temperature: 0.2,
			Timeout:     D(5 * time.Minute),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
		Events: EventsConfig{
			SubjectPrefix: "rigrun",
			Buffer:        256,
		},
		Logging: LoggingConfig{
			Level: logging.LevelInfo,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the configuration directory (~/.rigrun-agent).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// Path returns the config file path, honouring RIGRUN_CONFIG.
func Path() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// ensureSecurePermissions tightens the config file to 0600; it may hold a
// token hash.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Missing files are ignored and variables
// that are already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the default config file if it exists, applies RIGRUN_*
// overrides and validates the result.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes TOML on top of the defaults without env overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	cfg.SetDefaults()
	return cfg, nil
}

func decodeFile(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return nil
}

// SetDefaults fills zero values that have no meaningful zero.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Orchestrator.CorrectionTimeout.Duration == 0 {
		c.Orchestrator.CorrectionTimeout = d.Orchestrator.CorrectionTimeout
	}
	if c.Tools.ShellTimeout.Duration == 0 {
		c.Tools.ShellTimeout = d.Tools.ShellTimeout
	}
	if c.Tools.WebMaxBytes == 0 {
		c.Tools.WebMaxBytes = d.Tools.WebMaxBytes
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Planner.Provider == "" {
		c.Planner.Provider = d.Planner.Provider
	}
	if c.Planner.OllamaURL == "" {
		c.Planner.OllamaURL = d.Planner.OllamaURL
	}
	if c.Planner.Model == "" {
		c.Planner.Model = d.Planner.Model
	}
	if c.Planner.Timeout.Duration == 0 {
		c.Planner.Timeout = d.Planner.Timeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = d.Events.SubjectPrefix
	}
	if c.Events.Buffer == 0 {
		c.Events.Buffer = d.Events.Buffer
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Policy returns the permission policy described by [permissions].
func (c *Config) Policy() permission.Policy {
	return permission.Policy{
		permission.GroupShellExecution:  c.Permissions.ShellExecution,
		permission.GroupFilesystemWrite: c.Permissions.FilesystemWrite,
		permission.GroupFilesystemRead:  c.Permissions.FilesystemRead,
		permission.GroupInternetAccess:  c.Permissions.InternetAccess,
	}
}

// EnabledTools returns [tools].enabled as a set.
func (c *Config) EnabledTools() map[string]bool {
	out := make(map[string]bool, len(c.Tools.Enabled))
	for _, name := range c.Tools.Enabled {
		out[strings.TrimSpace(name)] = true
	}
	return out
}

// ResolveDataDir returns the data directory, defaulting to
// <workspace>/.rigrun.
func (c *Config) ResolveDataDir(workspace string) string {
	if c.Storage.DataDir != "" {
		return expandHome(c.Storage.DataDir)
	}
	return filepath.Join(workspace, ".rigrun")
}

// ResolveGlobalKnowledgeDir returns the global knowledge index directory.
func (c *Config) ResolveGlobalKnowledgeDir() string {
	if c.Knowledge.GlobalDir != "" {
		return expandHome(c.Knowledge.GlobalDir)
	}
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "knowledge")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default path.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# rigrun-agent configuration file\n")
	buf.WriteString("# Generated by rigrun-agent - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid setting.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Orchestrator
	if c.Orchestrator.MaxRetries < 0 || c.Orchestrator.MaxRetries > 20 {
		add("orchestrator.max_retries", "must be between 0 and 20, got %d", c.Orchestrator.MaxRetries)
	}
	if c.Orchestrator.TaskTimeout.Duration < 0 {
		add("orchestrator.task_timeout", "cannot be negative")
	}
	if c.Orchestrator.CorrectionTimeout.Duration <= 0 {
		add("orchestrator.correction_timeout", "must be positive")
	}

	// Tools
	if c.Tools.ShellTimeout.Duration <= 0 || c.Tools.ShellTimeout.Duration > 30*time.Minute {
		add("tools.shell_timeout", "must be between 1s and 30m, got %s", c.Tools.ShellTimeout)
	}
	if c.Tools.WebRatePerSec < 0 {
		add("tools.web_rate_per_sec", "cannot be negative")
	}
	if c.Tools.WebMaxBytes <= 0 {
		add("tools.web_max_bytes", "must be positive")
	}
	seen := make(map[string]bool, len(c.Tools.Enabled))
	for _, name := range c.Tools.Enabled {
		if strings.TrimSpace(name) == "" {
			add("tools.enabled", "contains an empty name")
		} else if seen[name] {
			add("tools.enabled", "lists %q twice", name)
		}
		seen[name] = true
	}

	// Storage
	if c.Storage.Backend != BackendSQLite && c.Storage.Backend != BackendFile {
		add("storage.backend", "invalid backend '%s', must be one of: sqlite, file", c.Storage.Backend)
	}

	// Planner
	switch c.Planner.Provider {
	case PlannerOllama:
		if err := validateHTTPURL(c.Planner.OllamaURL); err != nil {
			add("planner.ollama_url", "%v", err)
		}
		if strings.TrimSpace(c.Planner.Model) == "" {
			add("planner.model", "is required for the ollama provider")
		}
	case PlannerFile:
		if strings.TrimSpace(c.Planner.PlanFile) == "" {
			add("planner.plan_file", "is required for the file provider")
		}
	default:
		add("planner.provider", "invalid provider '%s', must be one of: ollama, file", c.Planner.Provider)
	}
	if c.Planner.Temperature < 0 || c.Planner.Temperature > 2 {
		add("planner.temperature", "must be between 0 and 2")
	}

	// Server
	if _, port, err := splitHostPort(c.Server.Addr); err != nil {
		add("server.addr", "%v", err)
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		add("server.addr", "invalid port %q", port)
	}
	if c.Server.TokenHash != "" && !strings.HasPrefix(c.Server.TokenHash, "$2") {
		add("server.token_hash", "must be a bcrypt hash")
	}

	// Events
	if c.Events.NATSURL != "" {
		if u, err := url.Parse(c.Events.NATSURL); err != nil || u.Host == "" {
			add("events.nats_url", "invalid URL %q", c.Events.NATSURL)
		}
	}
	if c.Events.Buffer < 1 {
		add("events.buffer", "must be at least 1")
	}
	if strings.ContainsAny(c.Events.SubjectPrefix, " *>") {
		add("events.subject_prefix", "cannot contain spaces or wildcards")
	}

	// Logging
	if !logging.ValidLevel(c.Logging.Level) {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 {
		return "", "", fmt.Errorf("address %q has no port", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies RIGRUN_* environment variables.
//
// Supported environment variables:
//   - RIGRUN_MAX_RETRIES: orchestrator.max_retries
//   - RIGRUN_WORKSPACE: orchestrator.workspace
//   - RIGRUN_PERMISSIONS: comma-separated groups to enable (replaces [permissions])
//   - RIGRUN_ENABLED_TOOLS: comma-separated opt-in capabilities
//   - RIGRUN_DATA_DIR: storage.data_dir
//   - RIGRUN_STORAGE: storage.backend
//   - RIGRUN_PLANNER: planner.provider
//   - RIGRUN_OLLAMA_URL: planner.ollama_url
//   - RIGRUN_MODEL: planner.model
//   - RIGRUN_PLAN_FILE: planner.plan_file
//   - RIGRUN_SERVER_ADDR: server.addr
//   - RIGRUN_NATS_URL: events.nats_url
//   - RIGRUN_LOG_LEVEL: logging.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGRUN_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.MaxRetries = n
		}
	}
	if v := os.Getenv("RIGRUN_WORKSPACE"); v != "" {
		c.Orchestrator.Workspace = v
	}
	if v, ok := os.LookupEnv("RIGRUN_PERMISSIONS"); ok {
		groups := splitList(v)
		c.Permissions = PermissionsConfig{
			ShellExecution:  slices.Contains(groups, string(permission.GroupShellExecution)),
			FilesystemWrite: slices.Contains(groups, string(permission.GroupFilesystemWrite)),
			FilesystemRead:  slices.Contains(groups, string(permission.GroupFilesystemRead)),
			InternetAccess:  slices.Contains(groups, string(permission.GroupInternetAccess)),
		}
	}
	if v := os.Getenv("RIGRUN_ENABLED_TOOLS"); v != "" {
		c.Tools.Enabled = splitList(v)
	}
	if v := os.Getenv("RIGRUN_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("RIGRUN_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("RIGRUN_PLANNER"); v != "" {
		c.Planner.Provider = v
	}
	if v := os.Getenv("RIGRUN_OLLAMA_URL"); v != "" {
		c.Planner.OllamaURL = v
	}
	if v := os.Getenv("RIGRUN_MODEL"); v != "" {
		c.Planner.Model = v
	}
	if v := os.Getenv("RIGRUN_PLAN_FILE"); v != "" {
		c.Planner.PlanFile = v
	}
	if v := os.Getenv("RIGRUN_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RIGRUN_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("RIGRUN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by TOML key path (e.g. "orchestrator.max_retries").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by TOML key path. Strings are converted to the
// field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct || field.Type() == reflect.TypeOf(Duration{}) {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an arbitrary value with type
// conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(strVal))
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				field.Set(reflect.ValueOf(splitList(strVal)))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every configuration key in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// =============================================================================
// COPY & DISPLAY
// =============================================================================

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Tools.Enabled = slices.Clone(c.Tools.Enabled)
	return &clone
}

// String returns the configuration as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.TokenHash != "" {
		safe.Server.TokenHash = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
