// Package cli implements the history and clear commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/render"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the session's conversation history",
	Long: `Show the conversation history for a session, oldest first.

History is append-only with lossy compaction: once the log grows past the
configured limit, older entries are subsampled while the newest survive
verbatim. What you see here is what the completion engine sees as context.

Examples:
  cmdgate history -s my-session
  cmdgate history -s my-session --json`,
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

		res, err := client.History(cmd.Context(), GetSessionID())
		if err != nil {
			return err
		}

		out := newWriter()
		if out.Format() != render.FormatText {
			return out.Write(res)
		}
		out.Human(render.HistoryEntries(res.Entries))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the session's conversation history",
	Long: `Discard all conversation history for a session.

Only the conversation log is cleared; parked tickets and the audit journal
are untouched.`,
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

		res, err := client.Clear(cmd.Context(), GetSessionID())
		if err != nil {
			return err
		}

		out := newWriter()
		if out.Format() != render.FormatText {
			return out.Write(res)
		}
		out.Success(formatCleared(res.Cleared))
		return nil
	},
}

func formatCleared(n int) string {
	if n == 1 {
		return "cleared 1 history entry"
	}
	return fmt.Sprintf("cleared %d history entries", n)
}
