// Package cli implements the serve command.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/ai"
	"github.com/cmdgate-dev/cmdgate/internal/config"
	"github.com/cmdgate-dev/cmdgate/internal/core"
	"github.com/cmdgate-dev/cmdgate/internal/gateway"
	"github.com/cmdgate-dev/cmdgate/internal/journal"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway daemon",
	Long: `Run the gateway daemon in the foreground.

The daemon owns the approval ledger, per-session conversation histories, and
the worker pool that executes commands. Clients talk to it over a Unix socket
(and optionally TCP with an auth handshake). Stopping the daemon abandons all
pending approvals: the ledger lives in process memory only.

The security policy is read once at startup. Edit the config and restart to
change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runGateway(cmd.Context(), cfg)
	},
}

func runGateway(parent context.Context, cfg *config.Config) error {
	logger := serveLogger(cfg.Gateway.LogLevel)

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		var err error
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer jnl.Close()
		logger.Info("journal open", "path", jnl.Path())
	}

	policy := core.NewPolicy(cfg.Security.DangerousTerms, cfg.Security.ExtraPatterns)
	policy.MaxCommandLength = cfg.Security.MaxCommandLength
	policy.AutoApproveSafe = cfg.Security.AutoApproveSafe

	runner := core.NewRunner(
		core.WithShell(cfg.Execution.Shell),
		core.WithTimeout(cfg.Execution.Timeout()),
		core.WithWorkdir(cfg.Execution.Workdir),
	)

	gateOpts := []core.GateOption{core.WithGateLogger(logger)}
	if jnl != nil {
		gateOpts = append(gateOpts, core.WithRecorder(jnl))
	}
	gate := core.NewGate(policy, core.NewLedger(cfg.Approval.TTL()), runner, gateOpts...)

	opts := gateway.Options{
		Gate:          gate,
		NewHistory:    historyFactory(cfg),
		SweepInterval: cfg.Approval.SweepInterval(),
		IdleSession:   cfg.History.IdleSession(),
		Version:       version,
	}
	if jnl != nil {
		opts.Recorder = jnl
		opts.Journal = jnl
	}

	if engine, err := buildEngine(cfg); err != nil {
		return err
	} else if engine != nil {
		assistOpts := []core.AssistantOption{
			core.WithAssistantLogger(logger),
			core.WithContextEntries(cfg.History.ContextEntries),
		}
		if cfg.Engine.SystemPrompt != "" {
			assistOpts = append(assistOpts, core.WithSystemPrompt(cfg.Engine.SystemPrompt))
		} else {
			assistOpts = append(assistOpts, core.WithSystemPrompt(core.DefaultSystemPrompt(cfg.Engine.OSType)))
		}
		opts.Assistant = core.NewAssistant(gate, engine, assistOpts...)
		opts.EngineName = fmt.Sprintf("%s (%s)", engine.Name(), engine.Model())
		logger.Info("completion engine ready", "provider", engine.Name(), "model", engine.Model())
	}

	// One pool serves both listeners so execution concurrency stays bounded
	// across transports.
	pool := gateway.NewPool(cfg.Execution.Workers, cfg.Execution.QueueDepth, logger)
	opts.Pool = pool
	pool.Start()
	defer pool.Stop()

	unixSrv, err := gateway.NewServer(GetSocket(cfg), opts, logger)
	if err != nil {
		return fmt.Errorf("starting unix listener: %w", err)
	}

	servers := []*gateway.Server{unixSrv}
	if cfg.Gateway.TCPAddr != "" {
		tcpSrv, err := gateway.NewTCPServer(gateway.TCPOptions{
			Addr:        cfg.Gateway.TCPAddr,
			RequireAuth: cfg.Gateway.TCPRequireAuth,
			AllowedIPs:  cfg.Gateway.TCPAllowedIPs,
			AuthToken:   cfg.Gateway.AuthToken,
		}, opts, logger)
		if err != nil {
			_ = unixSrv.Stop()
			return fmt.Errorf("starting tcp listener: %w", err)
		}
		servers = append(servers, tcpSrv)
		logger.Info("tcp listener ready", "addr", tcpSrv.Addr().String(), "auth", cfg.Gateway.TCPRequireAuth)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() { errCh <- srv.Start(ctx) }()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			for _, srv := range servers {
				_ = srv.Stop()
			}
			return err
		}
	}

	for _, srv := range servers {
		if err := srv.Stop(); err != nil {
			logger.Warn("listener stop failed", "err", err)
		}
	}
	return nil
}

// buildEngine constructs the completion backend, or nil when disabled.
func buildEngine(cfg *config.Config) (*ai.Engine, error) {
	provider := cfg.Engine.Provider
	if provider == "" || provider == "none" {
		return nil, nil
	}

	engine, err := ai.New(ai.Config{
		Provider:  provider,
		Model:     cfg.Engine.Model,
		Endpoint:  cfg.Engine.Endpoint,
		APIKey:    cfg.Engine.APIKey,
		MaxTokens: cfg.Engine.MaxTokens,
		Timeout:   cfg.Engine.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("configuring completion engine: %w", err)
	}
	return engine, nil
}

// historyFactory applies the configured history shape to every new session.
func historyFactory(cfg *config.Config) func() *core.History {
	return func() *core.History {
		return core.NewHistory(
			core.WithLimit(cfg.History.Limit),
			core.WithKeepRecent(cfg.History.KeepRecent),
			core.WithStride(cfg.History.Stride),
			core.WithContextChars(cfg.History.ContextChars),
		)
	}
}

// serveLogger builds the daemon logger at the configured level.
func serveLogger(level string) *log.Logger {
	lvl := log.InfoLevel
	if parsed, err := log.ParseLevel(level); err == nil {
		lvl = parsed
	}
	if flagVerbose {
		lvl = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "cmdgate",
	})
}
