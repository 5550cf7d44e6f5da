// Package config loads and validates layered TOML configuration.
//
// Precedence, lowest to highest: builtin defaults, user config
// (~/.cmdgate/config.toml), project config (./.cmdgate/config.toml),
// environment (CMDGATE_*), then explicit flag overrides. Policy values are
// read once at process start; nothing here watches for changes.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config is the full effective configuration.
type Config struct {
	Security  SecurityConfig  `mapstructure:"security" toml:"security"`
	Execution ExecutionConfig `mapstructure:"execution" toml:"execution"`
	History   HistoryConfig   `mapstructure:"history" toml:"history"`
	Approval  ApprovalConfig  `mapstructure:"approval" toml:"approval"`
	Gateway   GatewayConfig   `mapstructure:"gateway" toml:"gateway"`
	Engine    EngineConfig    `mapstructure:"engine" toml:"engine"`
	Journal   JournalConfig   `mapstructure:"journal" toml:"journal"`
}

// SecurityConfig is the gating policy surface.
type SecurityConfig struct {
	// DangerousTerms are case-insensitive substrings that force approval.
	DangerousTerms []string `mapstructure:"dangerous_terms" toml:"dangerous_terms"`
	// ExtraPatterns are additional case-sensitive regexes; invalid entries
	// are skipped at policy build time.
	ExtraPatterns []string `mapstructure:"extra_patterns" toml:"extra_patterns"`
	// MaxCommandLength rejects longer submissions outright.
	MaxCommandLength int `mapstructure:"max_command_length" toml:"max_command_length"`
	// AutoApproveSafe runs every submission without parking.
	AutoApproveSafe bool `mapstructure:"auto_approve_safe" toml:"auto_approve_safe"`
}

// ExecutionConfig bounds command execution.
type ExecutionConfig struct {
	TimeoutSecs  int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	Shell        string `mapstructure:"shell" toml:"shell"`
	Workdir      string `mapstructure:"workdir" toml:"workdir"`
	Workers      int    `mapstructure:"workers" toml:"workers"`
	QueueDepth   int    `mapstructure:"queue_depth" toml:"queue_depth"`
	OutputBudget int    `mapstructure:"output_budget" toml:"output_budget"`
}

// Timeout returns the execution wall bound.
func (c ExecutionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// HistoryConfig shapes per-session conversation logs.
type HistoryConfig struct {
	Limit           int `mapstructure:"limit" toml:"limit"`
	KeepRecent      int `mapstructure:"keep_recent" toml:"keep_recent"`
	Stride          int `mapstructure:"stride" toml:"stride"`
	ContextEntries  int `mapstructure:"context_entries" toml:"context_entries"`
	ContextChars    int `mapstructure:"context_chars" toml:"context_chars"`
	IdleSessionMins int `mapstructure:"idle_session_minutes" toml:"idle_session_minutes"`
}

// IdleSession returns how long a session may sit untouched before GC.
// Zero disables the sweep.
func (c HistoryConfig) IdleSession() time.Duration {
	return time.Duration(c.IdleSessionMins) * time.Minute
}

// ApprovalConfig shapes the ticket ledger.
type ApprovalConfig struct {
	// TTLMins expires unapproved tickets; zero keeps them forever.
	TTLMins           int `mapstructure:"ttl_minutes" toml:"ttl_minutes"`
	SweepIntervalSecs int `mapstructure:"sweep_interval_seconds" toml:"sweep_interval_seconds"`
}

// TTL returns the ticket lifetime, zero when tickets never expire.
func (c ApprovalConfig) TTL() time.Duration {
	return time.Duration(c.TTLMins) * time.Minute
}

// SweepInterval returns how often expiry and idle sweeps run.
func (c ApprovalConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// GatewayConfig shapes the daemon listeners.
type GatewayConfig struct {
	Socket         string   `mapstructure:"socket" toml:"socket"`
	TCPAddr        string   `mapstructure:"tcp_addr" toml:"tcp_addr"`
	TCPRequireAuth bool     `mapstructure:"tcp_require_auth" toml:"tcp_require_auth"`
	TCPAllowedIPs  []string `mapstructure:"tcp_allowed_ips" toml:"tcp_allowed_ips"`
	AuthToken      string   `mapstructure:"auth_token" toml:"auth_token"`
	LogLevel       string   `mapstructure:"log_level" toml:"log_level"`
}

// EngineConfig selects and tunes the completion backend.
type EngineConfig struct {
	// Provider is none, openai, or anthropic.
	Provider     string `mapstructure:"provider" toml:"provider"`
	Model        string `mapstructure:"model" toml:"model"`
	Endpoint     string `mapstructure:"endpoint" toml:"endpoint"`
	APIKey       string `mapstructure:"api_key" toml:"api_key"`
	MaxTokens    int    `mapstructure:"max_tokens" toml:"max_tokens"`
	TimeoutSecs  int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	SystemPrompt string `mapstructure:"system_prompt" toml:"system_prompt"`
	OSType       string `mapstructure:"os_type" toml:"os_type"`
}

// Timeout returns the completion request deadline.
func (c EngineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// JournalConfig locates the audit journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Path    string `mapstructure:"path" toml:"path"`
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ProjectDir anchors the project config; empty uses the working dir.
	ProjectDir string
	// ConfigPath overrides the project config file path entirely.
	ConfigPath string
	// FlagOverrides are dotted keys set from command-line flags.
	FlagOverrides map[string]any
}

// DefaultConfig returns the builtin configuration.
func DefaultConfig() *Config {
	osType := "linux"
	if runtime.GOOS == "windows" {
		osType = "windows"
	}
	return &Config{
		Security: SecurityConfig{
			DangerousTerms:   defaultDangerousTerms(),
			MaxCommandLength: 1000,
			AutoApproveSafe:  false,
		},
		Execution: ExecutionConfig{
			TimeoutSecs:  30,
			Workers:      4,
			QueueDepth:   16,
			OutputBudget: 1800,
		},
		History: HistoryConfig{
			Limit:           50,
			KeepRecent:      20,
			Stride:          5,
			ContextEntries:  5,
			ContextChars:    200,
			IdleSessionMins: 120,
		},
		Approval: ApprovalConfig{
			TTLMins:           0,
			SweepIntervalSecs: 30,
		},
		Gateway: GatewayConfig{
			Socket:         defaultSocketPath(),
			TCPRequireAuth: true,
			TCPAllowedIPs:  []string{"127.0.0.1/32", "::1/128"},
			LogLevel:       "info",
		},
		Engine: EngineConfig{
			Provider:    "none",
			Model:       "gpt-4o-mini",
			TimeoutSecs: 60,
			OSType:      osType,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    defaultJournalPath(),
		},
	}
}

// defaultDangerousTerms is the builtin term list, duplicated from the core
// defaults so config stays independent of the core package.
func defaultDangerousTerms() []string {
	return []string{
		"rm -rf", "del /f", "format", "fdisk", "mkfs",
		"dd if=", "shutdown", "reboot", "halt", "poweroff",
		"taskkill /f", "reg delete", "netsh", "iptables",
		"chmod 777", "chown", "wget", "curl",
		"powershell", "cmd", "bash", "sh",
	}
}

func defaultSocketPath() string {
	return filepath.Join(os.TempDir(), "cmdgate.sock")
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cmdgate-journal.db")
	}
	return filepath.Join(home, ".cmdgate", "journal.db")
}

// Load builds the effective configuration by layering sources.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	projectDir := opts.ProjectDir
	if projectDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectDir = cwd
		}
	}

	userPath, projectPath := ConfigPaths(projectDir, opts.ConfigPath)
	if err := mergeConfigFile(v, userPath); err != nil {
		return nil, fmt.Errorf("user config: %w", err)
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("project config: %w", err)
	}

	bindEnvVars(v)

	for key, value := range opts.FlagOverrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper with the builtin configuration.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("security.dangerous_terms", def.Security.DangerousTerms)
	v.SetDefault("security.extra_patterns", def.Security.ExtraPatterns)
	v.SetDefault("security.max_command_length", def.Security.MaxCommandLength)
	v.SetDefault("security.auto_approve_safe", def.Security.AutoApproveSafe)

	v.SetDefault("execution.timeout_seconds", def.Execution.TimeoutSecs)
	v.SetDefault("execution.shell", def.Execution.Shell)
	v.SetDefault("execution.workdir", def.Execution.Workdir)
	v.SetDefault("execution.workers", def.Execution.Workers)
	v.SetDefault("execution.queue_depth", def.Execution.QueueDepth)
	v.SetDefault("execution.output_budget", def.Execution.OutputBudget)

	v.SetDefault("history.limit", def.History.Limit)
	v.SetDefault("history.keep_recent", def.History.KeepRecent)
	v.SetDefault("history.stride", def.History.Stride)
	v.SetDefault("history.context_entries", def.History.ContextEntries)
	v.SetDefault("history.context_chars", def.History.ContextChars)
	v.SetDefault("history.idle_session_minutes", def.History.IdleSessionMins)

	v.SetDefault("approval.ttl_minutes", def.Approval.TTLMins)
	v.SetDefault("approval.sweep_interval_seconds", def.Approval.SweepIntervalSecs)

	v.SetDefault("gateway.socket", def.Gateway.Socket)
	v.SetDefault("gateway.tcp_addr", def.Gateway.TCPAddr)
	v.SetDefault("gateway.tcp_require_auth", def.Gateway.TCPRequireAuth)
	v.SetDefault("gateway.tcp_allowed_ips", def.Gateway.TCPAllowedIPs)
	v.SetDefault("gateway.auth_token", def.Gateway.AuthToken)
	v.SetDefault("gateway.log_level", def.Gateway.LogLevel)

	v.SetDefault("engine.provider", def.Engine.Provider)
	v.SetDefault("engine.model", def.Engine.Model)
	v.SetDefault("engine.endpoint", def.Engine.Endpoint)
	v.SetDefault("engine.api_key", def.Engine.APIKey)
	v.SetDefault("engine.max_tokens", def.Engine.MaxTokens)
	v.SetDefault("engine.timeout_seconds", def.Engine.TimeoutSecs)
	v.SetDefault("engine.system_prompt", def.Engine.SystemPrompt)
	v.SetDefault("engine.os_type", def.Engine.OSType)

	v.SetDefault("journal.enabled", def.Journal.Enabled)
	v.SetDefault("journal.path", def.Journal.Path)
}

// bindEnvVars wires the supported CMDGATE_* variables.
func bindEnvVars(v *viper.Viper) {
	binds := map[string]string{
		"security.max_command_length": "CMDGATE_MAX_COMMAND_LENGTH",
		"security.auto_approve_safe":  "CMDGATE_AUTO_APPROVE",
		"execution.timeout_seconds":   "CMDGATE_EXEC_TIMEOUT_SECONDS",
		"execution.shell":             "CMDGATE_SHELL",
		"history.limit":               "CMDGATE_HISTORY_LIMIT",
		"approval.ttl_minutes":        "CMDGATE_APPROVAL_TTL_MINUTES",
		"gateway.socket":              "CMDGATE_SOCKET",
		"gateway.auth_token":          "CMDGATE_AUTH_TOKEN",
		"gateway.log_level":           "CMDGATE_LOG_LEVEL",
		"engine.provider":             "CMDGATE_ENGINE_PROVIDER",
		"engine.model":                "CMDGATE_ENGINE_MODEL",
		"engine.endpoint":             "CMDGATE_ENGINE_ENDPOINT",
		"engine.api_key":              "CMDGATE_ENGINE_API_KEY",
		"journal.path":                "CMDGATE_JOURNAL_PATH",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}
}

// ConfigPaths returns the user and project config file paths.
func ConfigPaths(projectDir, override string) (userPath, projectPath string) {
	home, err := os.UserHomeDir()
	if err == nil {
		userPath = filepath.Join(home, ".cmdgate", "config.toml")
	}
	return userPath, projectConfigPath(projectDir, override)
}

// projectConfigPath resolves the project-level config file.
func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(projectDir, ".cmdgate", "config.toml")
}

// mergeConfigFile merges one TOML file into v. A missing file is fine;
// an unreadable or invalid one is not.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration and reports every violation at once.
func Validate(cfg *Config) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if cfg.Security.MaxCommandLength < 1 {
		add("security.max_command_length must be >= 1")
	}

	if cfg.Execution.TimeoutSecs < 1 {
		add("execution.timeout_seconds must be >= 1")
	}
	if cfg.Execution.Workers < 1 {
		add("execution.workers must be >= 1")
	}
	if cfg.Execution.QueueDepth < 0 {
		add("execution.queue_depth must be >= 0")
	}
	if cfg.Execution.OutputBudget < 1 {
		add("execution.output_budget must be >= 1")
	}

	if cfg.History.Limit < 1 {
		add("history.limit must be >= 1")
	}
	if cfg.History.KeepRecent < 1 {
		add("history.keep_recent must be >= 1")
	}
	if cfg.History.Stride < 1 {
		add("history.stride must be >= 1")
	}
	if cfg.History.ContextEntries < 1 {
		add("history.context_entries must be >= 1")
	}
	if cfg.History.ContextChars < 1 {
		add("history.context_chars must be >= 1")
	}
	if cfg.History.IdleSessionMins < 0 {
		add("history.idle_session_minutes must be >= 0")
	}

	if cfg.Approval.TTLMins < 0 {
		add("approval.ttl_minutes must be >= 0")
	}
	if cfg.Approval.SweepIntervalSecs < 1 {
		add("approval.sweep_interval_seconds must be >= 1")
	}

	switch cfg.Gateway.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		add("gateway.log_level must be one of debug, info, warn, error")
	}
	for _, entry := range cfg.Gateway.TCPAllowedIPs {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) == nil {
			add("gateway.tcp_allowed_ips entry %q is not an IP or CIDR", entry)
		}
	}

	switch cfg.Engine.Provider {
	case "none", "openai", "anthropic":
	default:
		add("engine.provider must be one of none, openai, anthropic")
	}
	if cfg.Engine.TimeoutSecs < 1 {
		add("engine.timeout_seconds must be >= 1")
	}
	if cfg.Engine.MaxTokens < 0 {
		add("engine.max_tokens must be >= 0")
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		add("journal.path is required when journal.enabled is true")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetValue looks up a dotted key on an already-loaded config.
func GetValue(cfg *Config, key string) (any, bool) {
	switch key {
	case "security":
		return cfg.Security, true
	case "security.dangerous_terms":
		return cfg.Security.DangerousTerms, true
	case "security.extra_patterns":
		return cfg.Security.ExtraPatterns, true
	case "security.max_command_length":
		return cfg.Security.MaxCommandLength, true
	case "security.auto_approve_safe":
		return cfg.Security.AutoApproveSafe, true

	case "execution":
		return cfg.Execution, true
	case "execution.timeout_seconds":
		return cfg.Execution.TimeoutSecs, true
	case "execution.shell":
		return cfg.Execution.Shell, true
	case "execution.workdir":
		return cfg.Execution.Workdir, true
	case "execution.workers":
		return cfg.Execution.Workers, true
	case "execution.queue_depth":
		return cfg.Execution.QueueDepth, true
	case "execution.output_budget":
		return cfg.Execution.OutputBudget, true

	case "history":
		return cfg.History, true
	case "history.limit":
		return cfg.History.Limit, true
	case "history.keep_recent":
		return cfg.History.KeepRecent, true
	case "history.stride":
		return cfg.History.Stride, true
	case "history.context_entries":
		return cfg.History.ContextEntries, true
	case "history.context_chars":
		return cfg.History.ContextChars, true
	case "history.idle_session_minutes":
		return cfg.History.IdleSessionMins, true

	case "approval":
		return cfg.Approval, true
	case "approval.ttl_minutes":
		return cfg.Approval.TTLMins, true
	case "approval.sweep_interval_seconds":
		return cfg.Approval.SweepIntervalSecs, true

	case "gateway":
		return cfg.Gateway, true
	case "gateway.socket":
		return cfg.Gateway.Socket, true
	case "gateway.tcp_addr":
		return cfg.Gateway.TCPAddr, true
	case "gateway.tcp_require_auth":
		return cfg.Gateway.TCPRequireAuth, true
	case "gateway.tcp_allowed_ips":
		return cfg.Gateway.TCPAllowedIPs, true
	case "gateway.auth_token":
		return cfg.Gateway.AuthToken, true
	case "gateway.log_level":
		return cfg.Gateway.LogLevel, true

	case "engine":
		return cfg.Engine, true
	case "engine.provider":
		return cfg.Engine.Provider, true
	case "engine.model":
		return cfg.Engine.Model, true
	case "engine.endpoint":
		return cfg.Engine.Endpoint, true
	case "engine.api_key":
		return cfg.Engine.APIKey, true
	case "engine.max_tokens":
		return cfg.Engine.MaxTokens, true
	case "engine.timeout_seconds":
		return cfg.Engine.TimeoutSecs, true
	case "engine.system_prompt":
		return cfg.Engine.SystemPrompt, true
	case "engine.os_type":
		return cfg.Engine.OSType, true

	case "journal":
		return cfg.Journal, true
	case "journal.enabled":
		return cfg.Journal.Enabled, true
	case "journal.path":
		return cfg.Journal.Path, true
	}
	return nil, false
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
	kindStringSlice
)

// kindFor maps supported dotted keys to the type ParseValue expects.
func kindFor(key string) (valueKind, bool) {
	switch key {
	case "security.dangerous_terms", "security.extra_patterns", "gateway.tcp_allowed_ips":
		return kindStringSlice, true
	case "security.max_command_length",
		"execution.timeout_seconds", "execution.workers", "execution.queue_depth", "execution.output_budget",
		"history.limit", "history.keep_recent", "history.stride",
		"history.context_entries", "history.context_chars", "history.idle_session_minutes",
		"approval.ttl_minutes", "approval.sweep_interval_seconds",
		"engine.max_tokens", "engine.timeout_seconds":
		return kindInt, true
	case "security.auto_approve_safe", "gateway.tcp_require_auth", "journal.enabled":
		return kindBool, true
	case "execution.shell", "execution.workdir",
		"gateway.socket", "gateway.tcp_addr", "gateway.auth_token", "gateway.log_level",
		"engine.provider", "engine.model", "engine.endpoint", "engine.api_key",
		"engine.system_prompt", "engine.os_type",
		"journal.path":
		return kindString, true
	}
	return 0, false
}

// ParseValue converts raw text to the typed value for a known key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := kindFor(key)
	if !ok {
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
	return parseValueByKind(raw, kind)
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %q", raw)
		}
		return b, nil
	case kindStringSlice:
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	}
	return nil, errors.New("unsupported value kind")
}

// WriteValue sets one dotted key in a TOML file, creating the file and any
// parent directories as needed. Existing content is preserved.
func WriteValue(path, key string, value any) error {
	if path == "" {
		return errors.New("config path is required")
	}
	segments := strings.Split(key, ".")
	if len(segments) < 2 {
		return fmt.Errorf("key %q must be section.name", key)
	}

	root := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	node := root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg]
		if !ok {
			next := map[string]any{}
			node[seg] = next
			node = next
			continue
		}
		table, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %s: %q is not a table", key, seg)
		}
		node = table
	}
	node[segments[len(segments)-1]] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(root); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
