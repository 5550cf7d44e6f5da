// Package cli implements the pending command.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/render"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List parked commands awaiting approval",
	Long: `List every parked command currently waiting for approval.

Tickets are ordered oldest first. When [approval] ttl_minutes is set,
expired tickets are swept by the daemon and never reach this list.`,
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

		res, err := client.Pending(cmd.Context())
		if err != nil {
			return err
		}

		out := newWriter()
		if out.Format() != render.FormatText {
			return out.Write(res)
		}
		out.Human(render.Tickets(res.Tickets))
		return nil
	},
}
