// Package cli implements the audit command.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/config"
	"github.com/cmdgate-dev/cmdgate/internal/gateway"
	"github.com/cmdgate-dev/cmdgate/internal/journal"
	"github.com/cmdgate-dev/cmdgate/internal/render"
)

var (
	auditLimit   int
	auditVerdict string
	auditSearch  string
	auditTotals  bool
)

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "maximum entries to show")
	auditCmd.Flags().StringVar(&auditVerdict, "verdict", "", "filter by verdict (auto_run, approved_run, parked, rejected, expired)")
	auditCmd.Flags().StringVarP(&auditSearch, "search", "q", "", "filter by command substring")
	auditCmd.Flags().BoolVar(&auditTotals, "totals", false, "include per-verdict totals")
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit journal",
	Long: `Show gate decisions recorded in the audit journal, newest first.

Every submission leaves one record: the command, its risk classification,
the verdict (auto_run, approved_run, parked, rejected, or expired), and the
execution result when one ran. When the gateway is up the journal is read
through it; otherwise the database is opened directly.

Examples:
  cmdgate audit
  cmdgate audit -n 50 --verdict parked
  cmdgate audit -q "rm -rf" --totals
  cmdgate audit -s my-session --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := newClient(cfg)
		defer client.Close()

		var res *gateway.AuditResult
		if client.IsRunning() {
			res, err = client.Audit(cmd.Context(), gateway.AuditParams{
				SessionID: flagSessionID,
				Verdict:   auditVerdict,
				Search:    auditSearch,
				Limit:     auditLimit,
			})
			if err != nil {
				return err
			}
		} else {
			res, err = readJournal(cmd, cfg)
			if err != nil {
				return err
			}
		}

		out := newWriter()
		if out.Format() != render.FormatText {
			return out.Write(res)
		}
		out.Human(render.AuditEntries(res.Entries))
		if auditTotals && len(res.Counts) > 0 {
			out.Human(render.AuditCounts(res.Counts))
		}
		return nil
	},
}

// readJournal opens the journal database directly, for when the gateway is
// not running.
func readJournal(cmd *cobra.Command, cfg *config.Config) (*gateway.AuditResult, error) {
	if !cfg.Journal.Enabled {
		return nil, fmt.Errorf("journal is disabled and no gateway is running")
	}

	jnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	defer jnl.Close()

	entries, err := jnl.Recent(cmd.Context(), journal.Query{
		Session: flagSessionID,
		Verdict: auditVerdict,
		Search:  auditSearch,
		Limit:   auditLimit,
	})
	if err != nil {
		return nil, err
	}

	res := &gateway.AuditResult{Entries: entries}
	if auditTotals {
		counts, err := jnl.Counts(cmd.Context())
		if err != nil {
			return nil, err
		}
		res.Counts = counts
	}
	return res, nil
}
