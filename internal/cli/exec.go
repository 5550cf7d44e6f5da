// Package cli implements the exec command.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/core"
	"github.com/cmdgate-dev/cmdgate/internal/render"
)

func init() {
	rootCmd.AddCommand(execCmd)
}

var execCmd = &cobra.Command{
	Use:   "exec <command>",
	Short: "Submit a command to the gate",
	Long: `Submit a command to the gateway for classification and execution.

Flow:
1. The gateway rejects oversized commands outright
2. Safe commands execute immediately and print their output
3. Dangerous commands are parked behind an approval ticket

A parked command does not block: the ticket id is printed and the command
waits in the daemon until 'cmdgate approve <id>' runs it.

Examples:
  cmdgate exec "ls -la"
  cmdgate exec "rm -rf ./build" -s build-agent
  cmdgate exec "echo done" --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := newClient(cfg)
		defer client.Close()
		if err := client.MustBeRunning(); err != nil {
			return err
		}

		res, err := client.Exec(cmd.Context(), GetSessionID(), args[0])
		if err != nil {
			return err
		}

		out := newWriter()
		if out.Format() != render.FormatText {
			return out.Write(res)
		}

		out.Human(render.Outcome(res.Outcome, cfg.Execution.OutputBudget))

		// Propagate the command's exit code so callers can script on it.
		if res.Outcome.Status == core.OutcomeExecuted && res.Outcome.Result != nil {
			if code := res.Outcome.Result.ExitCode; code != 0 {
				os.Exit(code)
			}
		}
		return nil
	},
}
