// Package cli implements colorized help and quick reference card using lipgloss.
package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Catppuccin Mocha color palette
var (
	colorMauve   = lipgloss.Color("#cba6f7") // Title
	colorBlue    = lipgloss.Color("#89b4fa") // Section headers
	colorGreen   = lipgloss.Color("#a6e3a1") // Commands
	colorYellow  = lipgloss.Color("#f9e2af") // Flags
	colorRed     = lipgloss.Color("#f38ba8") // HIGH tier
	colorPeach   = lipgloss.Color("#fab387") // MEDIUM tier
	colorOverlay = lipgloss.Color("#6c7086") // Muted text
	colorBase    = lipgloss.Color("#1e1e2e") // Background
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorMauve).
			MarginBottom(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			MarginTop(1)

	commandStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	flagStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	highTierStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRed)

	mediumTierStyle = lipgloss.NewStyle().
			Foreground(colorPeach)

	lowTierStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorOverlay)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBlue).
			Background(colorBase).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)
)

func showQuickReference() {
	width := clampWidth(detectWidth())
	useUnicode := supportsUnicode()

	border := lipgloss.RoundedBorder()
	if !useUnicode {
		border = lipgloss.Border{
			Top:         "-",
			Bottom:      "-",
			Left:        "|",
			Right:       "|",
			TopLeft:     "+",
			TopRight:    "+",
			BottomLeft:  "+",
			BottomRight: "+",
		}
	}

	container := boxStyle.Copy().Border(border).Width(width)

	titleText := " CMDGATE QUICK REFERENCE — Gated Command Execution "
	titleRendered := gradientText(titleText, []lipgloss.Color{colorMauve, colorBlue})
	if !useUnicode {
		titleRendered = "CMDGATE QUICK REFERENCE - Gated Command Execution"
	}
	title := titleStyle.Copy().Width(width - 4).Align(lipgloss.Center).Render(titleRendered)

	setup := renderSection(useUnicode, "🔷 SETUP (once per machine)", []string{
		bullet("cmdgate serve", "start the gateway daemon (owns tickets + history)"),
		bullet("cmdgate classify \"rm -rf ./build\"", "see how the policy judges a command"),
		bullet("cmdgate config set approval.ttl_minutes 30", "tune policy and limits"),
		bullet("cmdgate status -j", "check the daemon is up"),
	})

	gated := renderSection(useUnicode, "🔶 GATED EXECUTION", []string{
		bullet("cmdgate exec \"rm -rf ./build\" -s $SID -j", "classify, then run or park for approval"),
		bullet("cmdgate pending -j", "list parked commands awaiting approval"),
		bullet("cmdgate approve <ticket-id> -j", "execute a parked command (single use)"),
	})

	assisted := renderSection(useUnicode, "🔷 ASSISTED (completion engine)", []string{
		bullet("cmdgate ask \"how do I free disk space\" -s $SID", "ask; proposed commands pass the same gate"),
		bullet("cmdgate history -s $SID", "show what the engine sees as context"),
		bullet("cmdgate clear -s $SID", "drop the session's conversation"),
	})

	auditSec := renderSection(useUnicode, "🛡️ AUDIT", []string{
		bullet("cmdgate audit -n 50 --totals", "every decision, newest first"),
		bullet("cmdgate audit --verdict parked -q \"rm\"", "filter by verdict and command text"),
	})

	tiers := tierLegend(useUnicode)
	flags := flagLegend(useUnicode)
	footer := footerLegend(useUnicode)

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		setup,
		gated,
		assisted,
		auditSec,
		tiers,
		flags,
		footer,
	)

	fmt.Println(container.Render(content))
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
	// fall back to environment or default
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if v, err := strconv.Atoi(cols); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func supportsUnicode() bool {
	termEnv := strings.ToLower(os.Getenv("TERM"))
	locale := strings.ToLower(strings.Join([]string{
		os.Getenv("LC_ALL"),
		os.Getenv("LC_CTYPE"),
		os.Getenv("LANG"),
	}, " "))
	if strings.Contains(termEnv, "dumb") {
		return false
	}
	return strings.Contains(locale, "utf-8") || strings.Contains(locale, "utf8")
}

func gradientText(text string, colors []lipgloss.Color) string {
	if len(colors) == 0 || !supportsUnicode() {
		return text
	}
	runes := []rune(text)
	segments := len(colors)
	if segments == 1 {
		return lipgloss.NewStyle().Foreground(colors[0]).Render(text)
	}
	// Handle single character case to avoid division by zero
	if len(runes) <= 1 {
		return lipgloss.NewStyle().Foreground(colors[0]).Render(text)
	}

	var b strings.Builder
	for i, r := range runes {
		// simple linear gradient selection
		idx := i * (segments - 1) / (len(runes) - 1)
		b.WriteString(lipgloss.NewStyle().Foreground(colors[idx]).Render(string(r)))
	}
	return b.String()
}

func bullet(command, desc string) string {
	return commandStyle.Render("  "+command) + mutedStyle.Render("  "+desc)
}

func renderSection(useUnicode bool, title string, lines []string) string {
	if !useUnicode {
		title = strings.TrimLeft(title, "🔷🔶🛡️ ") // strip icons for ASCII fallback
	}
	header := sectionStyle.Render(title)
	body := strings.Join(lines, "\n")
	return lipgloss.JoinVertical(lipgloss.Left, header, body)
}

func tierLegend(useUnicode bool) string {
	high := "HIGH (3+ terms)"
	medium := "MEDIUM (1-2)"
	low := "LOW (auto-runs)"
	if useUnicode {
		high = "🔴 " + high
		medium = "🟠 " + medium
		low = "🟢 " + low
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render("🎯 RISK TIERS"),
		fmt.Sprintf("  %s   %s   %s", highTierStyle.Render(high), mediumTierStyle.Render(medium), lowTierStyle.Render(low)),
	)
}

func flagLegend(useUnicode bool) string {
	prefix := "🚩 GLOBAL FLAGS"
	if !useUnicode {
		prefix = "FLAGS"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render(prefix),
		flagStyle.Render("  -j, --json")+mutedStyle.Render("              structured output"),
		flagStyle.Render("  -o, --output <fmt>")+mutedStyle.Render("      text, json, yaml"),
		flagStyle.Render("  -s, --session-id <id>")+mutedStyle.Render("   session binding"),
		flagStyle.Render("  --socket <path>")+mutedStyle.Render("         gateway socket"),
		flagStyle.Render("  -c, --config <path>")+mutedStyle.Render("     config file override"),
	)
}

func footerLegend(useUnicode bool) string {
	daemon := "cmdgate serve"
	help := "cmdgate <command> --help"
	if !useUnicode {
		return mutedStyle.Render("DAEMON: " + daemon + "   HELP: " + help)
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		mutedStyle.Render("DAEMON: "), commandStyle.Render(daemon),
		mutedStyle.Render("   HELP: "), commandStyle.Render(help),
	)
}
