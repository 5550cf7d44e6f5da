package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestDefaultConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(DefaultConfig) unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.MaxCommandLength = 0
	cfg.Execution.TimeoutSecs = 0
	cfg.Execution.Workers = 0
	cfg.Execution.OutputBudget = 0
	cfg.History.Limit = 0
	cfg.History.Stride = 0
	cfg.Approval.TTLMins = -1
	cfg.Approval.SweepIntervalSecs = 0
	cfg.Gateway.LogLevel = "bad"
	cfg.Gateway.TCPAllowedIPs = []string{"not-an-ip"}
	cfg.Engine.Provider = "bad"
	cfg.Engine.TimeoutSecs = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "config validation failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	// All violations surface in one pass.
	for _, want := range []string{
		"security.max_command_length",
		"execution.workers",
		"history.limit",
		"gateway.log_level",
		"engine.provider",
		"not-an-ip",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestLoad_Precedence_DefaultsUserProjectEnvFlags(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	project := t.TempDir()

	// User config: 300
	userPath := filepath.Join(home, ".cmdgate", "config.toml")
	if err := WriteValue(userPath, "security.max_command_length", 300); err != nil {
		t.Fatalf("WriteValue user: %v", err)
	}

	// Project config: 400
	projectPath := filepath.Join(project, ".cmdgate", "config.toml")
	if err := WriteValue(projectPath, "security.max_command_length", 400); err != nil {
		t.Fatalf("WriteValue project: %v", err)
	}

	// Env: 500
	t.Setenv("CMDGATE_MAX_COMMAND_LENGTH", "500")

	// Flags: 600
	cfg, err := Load(LoadOptions{
		ProjectDir: project,
		FlagOverrides: map[string]any{
			"security.max_command_length": 600,
		},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.MaxCommandLength != 600 {
		t.Fatalf("max_command_length=%d want 600", cfg.Security.MaxCommandLength)
	}
}

func TestLoad_EnvBeatsProject(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	project := t.TempDir()
	projectPath := filepath.Join(project, ".cmdgate", "config.toml")
	if err := WriteValue(projectPath, "security.max_command_length", 400); err != nil {
		t.Fatalf("WriteValue project: %v", err)
	}
	t.Setenv("CMDGATE_MAX_COMMAND_LENGTH", "500")

	cfg, err := Load(LoadOptions{ProjectDir: project})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.MaxCommandLength != 500 {
		t.Fatalf("max_command_length=%d want 500", cfg.Security.MaxCommandLength)
	}
}

func TestLoad_InvalidEnvValueErrors(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CMDGATE_MAX_COMMAND_LENGTH", "not-an-int")
	if _, err := Load(LoadOptions{ProjectDir: t.TempDir()}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_ProjectDirEmptyUsesCWD(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	project := t.TempDir()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(cwd)
	})
	if err := os.Chdir(project); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	projectPath := filepath.Join(project, ".cmdgate", "config.toml")
	if err := WriteValue(projectPath, "security.max_command_length", 900); err != nil {
		t.Fatalf("WriteValue project: %v", err)
	}

	cfg, err := Load(LoadOptions{ProjectDir: ""})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.MaxCommandLength != 900 {
		t.Fatalf("max_command_length=%d want 900", cfg.Security.MaxCommandLength)
	}
}

func TestMergeConfigFile(t *testing.T) {
	v := newTestViper()

	// Empty path is a no-op.
	if err := mergeConfigFile(v, ""); err != nil {
		t.Fatalf("mergeConfigFile(empty): %v", err)
	}

	// Missing file is a no-op.
	if err := mergeConfigFile(v, filepath.Join(t.TempDir(), "missing.toml")); err != nil {
		t.Fatalf("mergeConfigFile(missing): %v", err)
	}

	// Directory path is an error.
	if err := mergeConfigFile(v, t.TempDir()); err == nil {
		t.Fatalf("expected error for directory path")
	}

	// Invalid TOML is an error.
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("security = [\n"), 0644); err != nil {
		t.Fatalf("write invalid toml: %v", err)
	}
	if err := mergeConfigFile(v, path); err == nil {
		t.Fatalf("expected error for invalid toml")
	}
}

func newTestViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestConfigPathsAndProjectConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	u, p := ConfigPaths("/proj", "")
	if u != filepath.Join(home, ".cmdgate", "config.toml") {
		t.Fatalf("unexpected user path: %q", u)
	}
	if p != filepath.Join("/proj", ".cmdgate", "config.toml") {
		t.Fatalf("unexpected project path: %q", p)
	}

	if got := projectConfigPath("", ""); got != filepath.Join("", ".cmdgate", "config.toml") {
		t.Fatalf("projectConfigPath(empty)=%q", got)
	}
	if got := projectConfigPath("/proj", "/override.toml"); got != "/override.toml" {
		t.Fatalf("projectConfigPath(override)=%q", got)
	}
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue("security.max_command_length", "7")
	if err != nil {
		t.Fatalf("ParseValue int: %v", err)
	}
	if v.(int) != 7 {
		t.Fatalf("unexpected value: %#v", v)
	}

	v, err = ParseValue("security.auto_approve_safe", "true")
	if err != nil {
		t.Fatalf("ParseValue bool: %v", err)
	}
	if v.(bool) != true {
		t.Fatalf("unexpected value: %#v", v)
	}

	v, err = ParseValue("security.dangerous_terms", "a, , b")
	if err != nil {
		t.Fatalf("ParseValue slice: %v", err)
	}
	if !reflect.DeepEqual(v, []string{"a", "b"}) {
		t.Fatalf("unexpected slice: %#v", v)
	}

	v, err = ParseValue("gateway.socket", "/tmp/cmdgate.sock")
	if err != nil {
		t.Fatalf("ParseValue string: %v", err)
	}
	if v.(string) != "/tmp/cmdgate.sock" {
		t.Fatalf("unexpected value: %#v", v)
	}

	if _, err := ParseValue("security.max_command_length", "seven"); err == nil {
		t.Fatalf("expected error for bad int")
	}

	if _, err := parseValueByKind("x", valueKind(123)); err == nil {
		t.Fatalf("expected error for unsupported value kind")
	}

	if _, err := ParseValue("nope.nope", "x"); err == nil {
		t.Fatalf("expected unsupported key error")
	}
}

func TestGetValue(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		key  string
		want any
	}{
		{"security.dangerous_terms", cfg.Security.DangerousTerms},
		{"security.extra_patterns", cfg.Security.ExtraPatterns},
		{"security.max_command_length", cfg.Security.MaxCommandLength},
		{"security.auto_approve_safe", cfg.Security.AutoApproveSafe},

		{"execution.timeout_seconds", cfg.Execution.TimeoutSecs},
		{"execution.shell", cfg.Execution.Shell},
		{"execution.workdir", cfg.Execution.Workdir},
		{"execution.workers", cfg.Execution.Workers},
		{"execution.queue_depth", cfg.Execution.QueueDepth},
		{"execution.output_budget", cfg.Execution.OutputBudget},

		{"history.limit", cfg.History.Limit},
		{"history.keep_recent", cfg.History.KeepRecent},
		{"history.stride", cfg.History.Stride},
		{"history.context_entries", cfg.History.ContextEntries},
		{"history.context_chars", cfg.History.ContextChars},
		{"history.idle_session_minutes", cfg.History.IdleSessionMins},

		{"approval.ttl_minutes", cfg.Approval.TTLMins},
		{"approval.sweep_interval_seconds", cfg.Approval.SweepIntervalSecs},

		{"gateway.socket", cfg.Gateway.Socket},
		{"gateway.tcp_addr", cfg.Gateway.TCPAddr},
		{"gateway.tcp_require_auth", cfg.Gateway.TCPRequireAuth},
		{"gateway.tcp_allowed_ips", cfg.Gateway.TCPAllowedIPs},
		{"gateway.auth_token", cfg.Gateway.AuthToken},
		{"gateway.log_level", cfg.Gateway.LogLevel},

		{"engine.provider", cfg.Engine.Provider},
		{"engine.model", cfg.Engine.Model},
		{"engine.endpoint", cfg.Engine.Endpoint},
		{"engine.api_key", cfg.Engine.APIKey},
		{"engine.max_tokens", cfg.Engine.MaxTokens},
		{"engine.timeout_seconds", cfg.Engine.TimeoutSecs},
		{"engine.system_prompt", cfg.Engine.SystemPrompt},
		{"engine.os_type", cfg.Engine.OSType},

		{"journal.enabled", cfg.Journal.Enabled},
		{"journal.path", cfg.Journal.Path},

		{"security", cfg.Security},
		{"execution", cfg.Execution},
		{"history", cfg.History},
		{"approval", cfg.Approval},
		{"gateway", cfg.Gateway},
		{"engine", cfg.Engine},
		{"journal", cfg.Journal},
	}

	for _, tc := range cases {
		got, ok := GetValue(cfg, tc.key)
		if !ok {
			t.Fatalf("GetValue(%q) not found", tc.key)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("GetValue(%q)=%#v want %#v", tc.key, got, tc.want)
		}
	}

	if _, ok := GetValue(cfg, ""); ok {
		t.Fatalf("expected empty key to be not found")
	}

	badKeys := []string{
		"nope",
		"security.nope",
		"execution.nope",
		"history.nope",
		"approval.nope",
		"gateway.nope",
		"engine.nope",
		"journal.nope",
	}
	for _, key := range badKeys {
		if _, ok := GetValue(cfg, key); ok {
			t.Fatalf("expected %q to be not found", key)
		}
	}
}

func TestWriteValue(t *testing.T) {
	if err := WriteValue("", "security.max_command_length", 2); err == nil {
		t.Fatalf("expected error for empty path")
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteValue(path, "security.max_command_length", 3); err != nil {
		t.Fatalf("WriteValue: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "[security]") || !strings.Contains(string(data), "max_command_length = 3") {
		t.Fatalf("unexpected toml: %q", string(data))
	}

	// A bare key without a section is rejected.
	if err := WriteValue(path, "plain", 1); err == nil {
		t.Fatalf("expected error for sectionless key")
	}

	// Error when an intermediate segment is not a table.
	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("security = \"oops\"\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteValue(bad, "security.max_command_length", 2); err == nil {
		t.Fatalf("expected error when security is not a table")
	}
}

func TestWriteValue_DecodeExistingInvalidTOMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("security = [\n"), 0644); err != nil {
		t.Fatalf("write invalid toml: %v", err)
	}
	if err := WriteValue(path, "security.max_command_length", 2); err == nil {
		t.Fatalf("expected decode error")
	} else if !strings.Contains(err.Error(), "decode config") {
		t.Fatalf("unexpected error: %v", err)
	}
}
