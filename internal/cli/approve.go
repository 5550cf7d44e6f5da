// Package cli implements the approve command.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/render"
)

func init() {
	rootCmd.AddCommand(approveCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <ticket-id>",
	Short: "Approve and execute a parked command",
	Long: `Approve a parked command by its ticket id and execute it.

Approval is single-use and atomic: the ticket is consumed as part of the
approval, so a given id executes at most once even under concurrent
approvals. An unknown or already-consumed id reports "not found or already
executed" - the two cases are deliberately indistinguishable.

Examples:
  cmdgate approve a1b2c3d4
  cmdgate approve a1b2c3d4 --json`,
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

		res, err := client.Approve(cmd.Context(), GetSessionID(), args[0])
		if err != nil {
			return err
		}

		out := newWriter()
		if out.Format() != render.FormatText {
			return out.Write(res)
		}
		out.Human(render.Outcome(res.Outcome, cfg.Execution.OutputBudget))
		return nil
	},
}
