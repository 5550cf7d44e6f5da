// Package cli implements the ask command.
package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/render"
)

func init() {
	rootCmd.AddCommand(askCmd)
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the completion engine for help",
	Long: `Ask the completion engine a question in the context of your session.

The engine sees recent conversation history and answers in prose. Any
commands it proposes are extracted and pass through the gate one by one:
safe proposals run immediately, dangerous ones are parked behind approval
tickets exactly as if you had submitted them with 'cmdgate exec'.

Requires [engine] to be configured on the daemon.

Examples:
  cmdgate ask "how do I find the largest files here"
  cmdgate ask -s my-session "now delete the oldest ones"`,
	Args: cobra.MinimumNArgs(1),
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

		question := strings.Join(args, " ")
		reply, err := client.Ask(cmd.Context(), GetSessionID(), question)
		if err != nil {
			return err
		}

		out := newWriter()
		if out.Format() != render.FormatText {
			return out.Write(reply)
		}
		out.Human(render.Ask(reply.Ask, cfg.Execution.OutputBudget))
		return nil
	},
}
