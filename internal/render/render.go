// Package render turns gate outcomes into terminal text. Colors follow the
// Catppuccin Mocha palette with plain fallbacks for dumb terminals; JSON and
// YAML rendering lives in Writer.
package render

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/cmdgate-dev/cmdgate/internal/core"
	"github.com/cmdgate-dev/cmdgate/internal/journal"
)

// TruncationMarker ends command output that was cut at the presentation
// budget.
const TruncationMarker = "... (output truncated)"

// DefaultOutputBudget caps rendered command output when the caller passes no
// budget.
const DefaultOutputBudget = 1800

// Catppuccin Mocha color palette
var (
	colorMauve   = lipgloss.Color("#cba6f7") // Titles
	colorBlue    = lipgloss.Color("#89b4fa") // Headers
	colorGreen   = lipgloss.Color("#a6e3a1") // Commands, low risk
	colorYellow  = lipgloss.Color("#f9e2af") // Medium risk
	colorRed     = lipgloss.Color("#f38ba8") // High risk, failures
	colorPeach   = lipgloss.Color("#fab387") // Warnings
	colorOverlay = lipgloss.Color("#6c7086") // Muted text
)

// Styles
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	commandStyle = lipgloss.NewStyle().Foreground(colorGreen)
	ticketStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorMauve)
	warnStyle    = lipgloss.NewStyle().Foreground(colorPeach)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorOverlay)

	lowStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	mediumStyle = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	highStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
)

// Truncate cuts s at the presentation budget, marking the cut. Non-positive
// budgets select the default.
func Truncate(s string, budget int) string {
	if budget <= 0 {
		budget = DefaultOutputBudget
	}
	r := []rune(s)
	if len(r) <= budget {
		return s
	}
	return strings.TrimRight(string(r[:budget]), "\n ") + "\n" + TruncationMarker
}

// Badge renders a risk level tag.
func Badge(level core.RiskLevel) string {
	switch level {
	case core.RiskHigh:
		return highStyle.Render("[HIGH]")
	case core.RiskMedium:
		return mediumStyle.Render("[MEDIUM]")
	default:
		return lowStyle.Render("[LOW]")
	}
}

// Execution renders a command result: stdout, stderr, exit status. The
// combined block is sanitized and truncated at the budget.
func Execution(result *core.ExecutionResult, budget int) string {
	if result == nil {
		return ""
	}

	var b strings.Builder
	if out := strings.TrimRight(SanitizeOutput(result.Stdout), "\n"); out != "" {
		b.WriteString(out)
		b.WriteString("\n")
	}
	if errOut := strings.TrimRight(SanitizeOutput(result.Stderr), "\n"); errOut != "" {
		b.WriteString(warnStyle.Render("stderr:"))
		b.WriteString("\n")
		b.WriteString(errOut)
		b.WriteString("\n")
	}

	switch {
	case result.TimedOut:
		b.WriteString(errorStyle.Render("✗ " + result.ErrorMessage))
		b.WriteString("\n")
	case result.ErrorMessage != "":
		b.WriteString(errorStyle.Render("✗ " + result.ErrorMessage))
		b.WriteString("\n")
	case result.ExitCode != 0:
		b.WriteString(mutedStyle.Render(fmt.Sprintf("exit code %d", result.ExitCode)))
		b.WriteString("\n")
	case b.Len() == 0:
		b.WriteString(mutedStyle.Render("(no output)"))
		b.WriteString("\n")
	}

	return Truncate(strings.TrimRight(b.String(), "\n"), budget)
}

// Outcome renders a full gate decision for one submission.
func Outcome(out *core.Outcome, budget int) string {
	if out == nil {
		return ""
	}

	switch out.Status {
	case core.OutcomeExecuted:
		var b strings.Builder
		if out.Risk != nil && !out.Risk.Safe {
			b.WriteString(riskSummary(out.Risk))
			b.WriteString("\n")
		}
		b.WriteString(Execution(out.Result, budget))
		return b.String()

	case core.OutcomeParked:
		var b strings.Builder
		b.WriteString(riskSummary(out.Risk))
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("⏸ command parked, approval required"))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("  command: "))
		b.WriteString(commandStyle.Render(out.Command))
		b.WriteString("\n")
		if out.Ticket != nil {
			b.WriteString(mutedStyle.Render("  ticket:  "))
			b.WriteString(ticketStyle.Render(out.Ticket.ID))
			b.WriteString("\n")
			if !out.Ticket.ExpiresAt.IsZero() {
				b.WriteString(mutedStyle.Render("  expires " + humanize.Time(out.Ticket.ExpiresAt)))
				b.WriteString("\n")
			}
			b.WriteString(fmt.Sprintf("Run %s to execute.",
				commandStyle.Render("cmdgate approve "+out.Ticket.ID)))
		}
		return b.String()

	case core.OutcomeRejected:
		return errorStyle.Render("✗ rejected: " + out.Reason)

	case core.OutcomeNotFound:
		return errorStyle.Render("✗ " + out.Reason)

	default:
		return mutedStyle.Render(string(out.Status))
	}
}

// Risk renders a standalone classification plus the disposition the gate
// would take for it.
func Risk(risk *core.Classification, autoApprove bool) string {
	var b strings.Builder
	b.WriteString(riskSummary(risk))
	b.WriteString("\n")
	if risk != nil && !risk.Safe && !autoApprove {
		b.WriteString(warnStyle.Render("⏸ would be parked for approval"))
	} else {
		b.WriteString(lowStyle.Render("✓ would run without approval"))
	}
	return b.String()
}

// riskSummary is the one-line classification banner with matched terms.
func riskSummary(risk *core.Classification) string {
	if risk == nil {
		return Badge(core.RiskLow)
	}
	line := Badge(risk.Level)
	if len(risk.MatchedTerms) > 0 {
		line += mutedStyle.Render(" matched: ") + strings.Join(risk.MatchedTerms, ", ")
	}
	for _, w := range risk.Warnings {
		line += "\n" + warnStyle.Render("  ! "+w)
	}
	return line
}

// Ask renders an assisted exchange: the engine's prose followed by the gate
// decision for every proposed command.
func Ask(res *core.AskResult, budget int) string {
	if res == nil {
		return ""
	}

	var b strings.Builder
	if res.Reply != "" {
		b.WriteString(res.Reply)
		b.WriteString("\n")
	}
	for _, out := range res.Outcomes {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("$ " + out.Command))
		b.WriteString("\n")
		b.WriteString(Outcome(out, budget))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Tickets renders the pending approval queue, newest first as delivered.
func Tickets(tickets []*core.Ticket) string {
	if len(tickets) == 0 {
		return mutedStyle.Render("No pending approvals.")
	}

	width := clampWidth(detectWidth())
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Pending approvals (%d)", len(tickets))))
	b.WriteString("\n")
	for _, tk := range tickets {
		if tk == nil {
			continue
		}
		level := core.RiskLow
		if tk.Risk != nil {
			level = tk.Risk.Level
		}
		age := humanize.Time(tk.CreatedAt)
		b.WriteString(fmt.Sprintf("  %s %s %s  %s\n",
			ticketStyle.Render(tk.ID),
			Badge(level),
			mutedStyle.Render(age),
			commandStyle.Render(clipLine(tk.Command, width-28))))
		if !tk.ExpiresAt.IsZero() {
			b.WriteString(mutedStyle.Render("           expires " + humanize.Time(tk.ExpiresAt)))
			b.WriteString("\n")
		}
	}
	b.WriteString(mutedStyle.Render("Approve with: ") + commandStyle.Render("cmdgate approve <id>"))
	return b.String()
}

// HistoryEntries renders a conversation snapshot, oldest first.
func HistoryEntries(entries []core.Entry) string {
	if len(entries) == 0 {
		return mutedStyle.Render("History is empty.")
	}

	width := clampWidth(detectWidth())
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		label := headerStyle.Render("User")
		if e.Role == core.RoleAssistant {
			label = ticketStyle.Render("Assistant")
		}
		b.WriteString(fmt.Sprintf("%s %s\n  %s",
			label,
			mutedStyle.Render(humanize.Time(e.At)),
			clipLine(strings.ReplaceAll(e.Content, "\n", " "), width-4)))
	}
	return b.String()
}

// AuditEntries renders journal rows, newest first as delivered.
func AuditEntries(entries []*journal.Entry) string {
	if len(entries) == 0 {
		return mutedStyle.Render("Journal is empty.")
	}

	width := clampWidth(detectWidth())
	var b strings.Builder
	for _, e := range entries {
		if e == nil {
			continue
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			mutedStyle.Render(e.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			verdictTag(e.Verdict),
			commandStyle.Render(clipLine(e.Command, width-34))))
		if e.Status != "" {
			detail := fmt.Sprintf("  %s exit=%d %dms", e.Status, e.ExitCode, e.DurationMs)
			if e.Error != "" {
				detail += " " + e.Error
			}
			b.WriteString(mutedStyle.Render(detail))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// AuditCounts renders the per-verdict tally line.
func AuditCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	order := []string{
		core.VerdictAutoRun, core.VerdictParked, core.VerdictApprovedRun,
		core.VerdictRejected, core.VerdictNotFound, core.VerdictExpired,
	}
	parts := make([]string, 0, len(order))
	for _, v := range order {
		if n, ok := counts[v]; ok && n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", v, n))
		}
	}
	return mutedStyle.Render("totals: " + strings.Join(parts, " · "))
}

// Status renders the gateway health line.
func Status(version string, uptimeSeconds int64, pending, sessions int, engine string) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("cmdgate " + version))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  uptime:   %s\n", (time.Duration(uptimeSeconds) * time.Second).String()))
	b.WriteString(fmt.Sprintf("  pending:  %d\n", pending))
	b.WriteString(fmt.Sprintf("  sessions: %d", sessions))
	if engine != "" {
		b.WriteString(fmt.Sprintf("\n  engine:   %s", engine))
	}
	return b.String()
}

// verdictTag colors a journal verdict.
func verdictTag(verdict string) string {
	switch verdict {
	case core.VerdictAutoRun:
		return lowStyle.Render(verdict)
	case core.VerdictApprovedRun:
		return headerStyle.Render(verdict)
	case core.VerdictParked:
		return mediumStyle.Render(verdict)
	case core.VerdictRejected, core.VerdictExpired:
		return highStyle.Render(verdict)
	default:
		return mutedStyle.Render(verdict)
	}
}

// clipLine shortens s to max runes on one line.
func clipLine(s string, max int) string {
	if max < 16 {
		max = 16
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func clampWidth(w int) int {
	if w < 72 {
		return 72
	}
	if w > 100 {
		return 100
	}
	return w
}

func detectWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if v, err := strconv.Atoi(cols); err == nil && v > 0 {
			return v
		}
	}
	return 80
}
