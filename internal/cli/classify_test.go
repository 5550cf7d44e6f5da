package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// executeCommandCapture runs a command and captures actual stdout.
func executeCommandCapture(t *testing.T, root *cobra.Command, args ...string) (stdout string, err error) {
	t.Helper()

	root.SetArgs(args)

	stdout = captureStdout(t, func() {
		err = root.Execute()
	})

	return stdout, err
}

// newTestClassifyCmd creates a fresh classify command tree for testing,
// pointed at the given config file.
func newTestClassifyCmd(cfgPath string) *cobra.Command {
	root := &cobra.Command{
		Use:           "cmdgate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", cfgPath, "config file path")
	root.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format")
	root.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")

	testCmd := &cobra.Command{
		Use:   "classify <command>",
		Short: "Classify a command without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  classifyCmd.RunE,
	}
	testCmd.Flags().BoolVar(&classifyExitCode, "exit-code", false, "exit 1 when the command is not safe")

	root.AddCommand(testCmd)
	return root
}

// writeClassifyConfig writes a minimal policy config and returns its path.
// HOME is redirected so no user config merges in.
func writeClassifyConfig(t *testing.T, body string) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func resetClassifyFlags() {
	flagConfig = ""
	flagOutput = "text"
	flagJSON = false
	classifyExitCode = false
}

func TestClassifyCommand_RequiresCommand(t *testing.T) {
	resetClassifyFlags()

	cmd := newTestClassifyCmd("")
	_, _, err := executeCommand(cmd, "classify")

	if err == nil {
		t.Fatal("expected error when command is missing")
	}
	if !strings.Contains(err.Error(), "accepts 1 arg") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClassifyCommand_SafeCommand(t *testing.T) {
	resetClassifyFlags()
	cfgPath := writeClassifyConfig(t, `[security]
dangerous_terms = ["frobnicate", "zap"]
`)

	cmd := newTestClassifyCmd(cfgPath)
	stdout, err := executeCommandCapture(t, cmd, "classify", "ls -la", "-j")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nstdout: %s", err, stdout)
	}

	if result["safe"] != true {
		t.Errorf("expected safe=true for 'ls -la', got %v", result["safe"])
	}
	if result["risk_level"] != "low" {
		t.Errorf("expected risk_level=low, got %v", result["risk_level"])
	}
}

func TestClassifyCommand_DangerousCommand(t *testing.T) {
	resetClassifyFlags()
	cfgPath := writeClassifyConfig(t, `[security]
dangerous_terms = ["frobnicate", "zap"]
`)

	cmd := newTestClassifyCmd(cfgPath)
	stdout, err := executeCommandCapture(t, cmd, "classify", "frobnicate then zap it", "-j")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nstdout: %s", err, stdout)
	}

	if result["safe"] != false {
		t.Errorf("expected safe=false, got %v", result["safe"])
	}
	if result["risk_level"] != "medium" {
		t.Errorf("expected risk_level=medium for two terms, got %v", result["risk_level"])
	}

	terms, ok := result["matched_terms"].([]any)
	if !ok || len(terms) != 2 {
		t.Fatalf("expected two matched terms, got %v", result["matched_terms"])
	}
}

func TestClassifyCommand_TextOutput(t *testing.T) {
	resetClassifyFlags()
	cfgPath := writeClassifyConfig(t, `[security]
dangerous_terms = ["frobnicate"]
`)

	cmd := newTestClassifyCmd(cfgPath)

	stdout, err := executeCommandCapture(t, cmd, "classify", "ls -la")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "would run without approval") {
		t.Errorf("expected safe disposition line, got %q", stdout)
	}

	stdout, err = executeCommandCapture(t, cmd, "classify", "frobnicate everything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "would be parked") {
		t.Errorf("expected parked disposition line, got %q", stdout)
	}
	if !strings.Contains(stdout, "frobnicate") {
		t.Errorf("expected matched term in output, got %q", stdout)
	}
}

func TestClassifyCommand_OversizedCommand(t *testing.T) {
	resetClassifyFlags()
	cfgPath := writeClassifyConfig(t, `[security]
dangerous_terms = ["frobnicate"]
max_command_length = 16
`)

	cmd := newTestClassifyCmd(cfgPath)
	stdout, err := executeCommandCapture(t, cmd, "classify", strings.Repeat("x", 32), "-j")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nstdout: %s", err, stdout)
	}

	if result["rejected"] != true {
		t.Errorf("expected rejected=true for oversized command, got %v", result["rejected"])
	}
	reason, _ := result["reason"].(string)
	if !strings.Contains(reason, "too long") {
		t.Errorf("expected too-long reason, got %q", reason)
	}
}

func TestClassifyCommand_AutoApproveSafe(t *testing.T) {
	resetClassifyFlags()
	cfgPath := writeClassifyConfig(t, `[security]
dangerous_terms = ["frobnicate"]
auto_approve_safe = true
`)

	cmd := newTestClassifyCmd(cfgPath)
	stdout, err := executeCommandCapture(t, cmd, "classify", "frobnicate everything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Dangerous but auto-approve means it would still run.
	if !strings.Contains(stdout, "would run without approval") {
		t.Errorf("expected auto-approve disposition, got %q", stdout)
	}
}
