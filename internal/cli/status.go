// Package cli implements the status command.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/render"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway daemon status",
	Long: `Show a summary of the running gateway: version, uptime, pending
approvals, and active sessions.

Examples:
  cmdgate status
  cmdgate status --json`,
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

		res, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}

		out := newWriter()
		if out.Format() != render.FormatText {
			return out.Write(res)
		}
		out.Human(render.Status(res.Version, res.UptimeSeconds, res.PendingCount, res.ActiveSessions, res.Engine))
		return nil
	},
}
