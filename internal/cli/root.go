// Package cli implements the Cobra command-line interface for cmdgate.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/config"
	"github.com/cmdgate-dev/cmdgate/internal/gateway"
	"github.com/cmdgate-dev/cmdgate/internal/render"
)

// Version information set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values
var (
	flagConfig    string
	flagOutput    string
	flagJSON      bool
	flagVerbose   bool
	flagSocket    string
	flagSessionID string
)

var rootCmd = &cobra.Command{
	Use:   "cmdgate",
	Short: "Command gate - approval pipeline for dangerous shell commands",
	Long: `cmdgate sits between an agent and the shell. Every command is classified
before it runs:

  LOW     - no dangerous terms matched; runs immediately
  MEDIUM  - one or two dangerous terms; parked behind an approval ticket
  HIGH    - three or more dangerous terms; parked behind an approval ticket

Parked commands wait in the gateway daemon until someone approves their
ticket. Approval is single-use: a ticket executes at most once. The optional
completion engine answers questions and proposes commands, each of which
passes through the same gate.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		// When no subcommand given, show quick reference card
		showQuickReference()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		goVersion := runtime.Version()
		configPath := flagConfig
		if configPath == "" {
			home, _ := os.UserHomeDir()
			configPath = filepath.Join(home, ".cmdgate", "config.toml")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		payload := map[string]any{
			"version":      version,
			"commit":       commit,
			"build_date":   date,
			"go_version":   goVersion,
			"config_path":  configPath,
			"socket":       GetSocket(cfg),
			"journal_path": cfg.Journal.Path,
		}

		switch GetOutput() {
		case "json", "yaml":
			return newWriter().Write(payload)
		case "text":
			fmt.Printf("cmdgate %s\n", version)
			fmt.Printf("  commit:  %s\n", commit)
			fmt.Printf("  built:   %s\n", date)
			fmt.Printf("  go:      %s\n", goVersion)
			fmt.Printf("  config:  %s\n", configPath)
			fmt.Printf("  socket:  %s\n", GetSocket(cfg))
			fmt.Printf("  journal: %s\n", cfg.Journal.Path)
			return nil
		default:
			return fmt.Errorf("unsupported format: %s", GetOutput())
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetOutput returns the configured output format.
// Precedence: CLI flags > CMDGATE_OUTPUT_FORMAT env > default
func GetOutput() string {
	if flagJSON {
		return "json"
	}
	if flagOutput != "text" {
		return flagOutput
	}

	if envFormat := os.Getenv("CMDGATE_OUTPUT_FORMAT"); envFormat != "" {
		switch envFormat {
		case "json", "yaml", "text":
			return envFormat
		}
	}

	return flagOutput
}

// GetSocket returns the gateway socket path.
// Precedence: --socket flag > CMDGATE_SOCKET env > config
func GetSocket(cfg *config.Config) string {
	if flagSocket != "" {
		return flagSocket
	}
	if env := os.Getenv("CMDGATE_SOCKET"); env != "" {
		return env
	}
	if cfg != nil && cfg.Gateway.Socket != "" {
		return cfg.Gateway.Socket
	}
	return config.DefaultConfig().Gateway.Socket
}

// GetSessionID returns the session identity for this invocation.
// Precedence: --session-id flag > CMDGATE_SESSION_ID env > empty (the
// gateway mints one)
func GetSessionID() string {
	if flagSessionID != "" {
		return flagSessionID
	}
	return os.Getenv("CMDGATE_SESSION_ID")
}

// loadConfig builds the effective configuration for this invocation.
func loadConfig() (*config.Config, error) {
	overrides := map[string]any{}
	if flagSocket != "" {
		overrides["gateway.socket"] = flagSocket
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigPath:    flagConfig,
		FlagOverrides: overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newWriter builds the output writer for the configured format.
func newWriter() *render.Writer {
	format, err := render.ParseFormat(GetOutput())
	if err != nil {
		format = render.FormatText
	}
	return render.New(format)
}

// cliLogger is quiet unless --verbose is set.
func cliLogger() *log.Logger {
	if flagVerbose {
		return log.NewWithOptions(os.Stderr, log.Options{
			Level:           log.DebugLevel,
			ReportTimestamp: false,
		})
	}
	return log.New(io.Discard)
}

// newClient connects command implementations to the gateway daemon.
func newClient(cfg *config.Config) *gateway.Client {
	opts := []gateway.ClientOption{gateway.WithClientLogger(cliLogger())}
	if cfg != nil && cfg.Gateway.TCPAddr != "" {
		opts = append(opts, gateway.WithTCPAddr(cfg.Gateway.TCPAddr, cfg.Gateway.AuthToken))
	}
	return gateway.NewClient(GetSocket(cfg), opts...)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml (env: CMDGATE_OUTPUT_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "gateway socket path (env: CMDGATE_SOCKET)")
	rootCmd.PersistentFlags().StringVarP(&flagSessionID, "session-id", "s", "", "session ID (env: CMDGATE_SESSION_ID)")

	rootCmd.AddCommand(versionCmd)
}
