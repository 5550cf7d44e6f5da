// Package core implements risk classification, approval tracking, and
// bounded command execution.
package core

import (
	"fmt"
	"regexp"
	"strings"
)

// RiskLevel grades how dangerous a command looks.
type RiskLevel string

// Risk levels, ordered from least to most severe.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DefaultMaxCommandLength is the longest command accepted for gating.
const DefaultMaxCommandLength = 1000

// SuspectPattern is a compiled structural marker checked against the raw
// command text. Matching is case-sensitive: the structure of a command is
// meaningful in its original casing.
type SuspectPattern struct {
	// Expr is the regex source.
	Expr string
	// Label describes what the pattern detects, used in warnings.
	Label string
	// Compiled is the compiled regex.
	Compiled *regexp.Regexp
	// Source indicates where this pattern came from ("builtin" or "config").
	Source string
}

// Policy is the security posture the gate enforces. It is built once at
// startup and never mutated afterward, so it is safe for concurrent reads.
type Policy struct {
	// DangerousTerms are matched as case-insensitive substrings.
	DangerousTerms []string
	// Patterns are the structural markers (chaining, redirection, substitution).
	Patterns []*SuspectPattern
	// MaxCommandLength rejects oversized submissions before classification.
	MaxCommandLength int
	// AutoApproveSafe skips parking entirely and runs every submission.
	AutoApproveSafe bool
}

// Classification is the verdict for a single piece of text.
type Classification struct {
	// Safe is false when any term or pattern matched.
	Safe bool `json:"safe"`
	// Level is derived from the dangerous-term count alone.
	Level RiskLevel `json:"risk_level"`
	// MatchedTerms lists every dangerous term found, in policy order.
	MatchedTerms []string `json:"matched_terms,omitempty"`
	// Warnings holds one human-readable line per match.
	Warnings []string `json:"warnings,omitempty"`
}

// Builtin structural markers: shell chaining, redirection into system paths,
// angle-bracket tokens, command substitution in both spellings.
var builtinSuspects = []struct{ expr, label string }{
	{`[\|&;]`, "command chaining"},
	{`>\s*[/\\]`, "redirect to system path"},
	{`<.*>`, "angle-bracket expansion"},
	{`\$\([^)]*\)`, "command substitution"},
	{"`[^`]*`", "backtick substitution"},
}

// DefaultDangerousTerms returns the builtin term list. Callers receive a
// fresh copy and may append to it freely.
func DefaultDangerousTerms() []string {
	return []string{
		"rm -rf", "del /f", "format", "fdisk", "mkfs",
		"dd if=", "shutdown", "reboot", "halt", "poweroff",
		"taskkill /f", "reg delete", "netsh", "iptables",
		"chmod 777", "chown", "wget", "curl",
		"powershell", "cmd", "bash", "sh",
	}
}

// NewPolicy builds a Policy from a term list and optional extra pattern
// expressions. A nil term list selects the builtin defaults; empty terms are
// dropped because they would substring-match everything. Invalid extra
// patterns are skipped, builtin patterns must always compile.
func NewPolicy(terms []string, extraPatterns []string) *Policy {
	if terms == nil {
		terms = DefaultDangerousTerms()
	}
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		if strings.TrimSpace(t) == "" {
			continue
		}
		cleaned = append(cleaned, t)
	}

	p := &Policy{
		DangerousTerms:   cleaned,
		MaxCommandLength: DefaultMaxCommandLength,
	}
	for _, s := range builtinSuspects {
		p.Patterns = append(p.Patterns, mustCompileSuspect(s.expr, s.label))
	}
	for _, expr := range extraPatterns {
		compiled, err := regexp.Compile(expr)
		if err != nil {
			continue // Skip invalid config-supplied patterns
		}
		p.Patterns = append(p.Patterns, &SuspectPattern{
			Expr:     expr,
			Label:    expr,
			Compiled: compiled,
			Source:   "config",
		})
	}
	return p
}

func mustCompileSuspect(expr, label string) *SuspectPattern {
	compiled, err := regexp.Compile(expr)
	if err != nil {
		// Built-in patterns must always be valid.
		panic(fmt.Sprintf("invalid builtin pattern %q: %v", expr, err))
	}
	return &SuspectPattern{Expr: expr, Label: label, Compiled: compiled, Source: "builtin"}
}

// Classify inspects text against the policy. It is pure: same text and
// policy always produce the same verdict, and no state is read or written.
//
// Every term and every pattern is checked; there is no early exit, so the
// verdict always carries the complete list of matches.
func (p *Policy) Classify(text string) *Classification {
	result := &Classification{Safe: true, Level: RiskLow}

	lower := strings.ToLower(text)
	for _, term := range p.DangerousTerms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			result.Safe = false
			result.MatchedTerms = append(result.MatchedTerms, term)
			result.Warnings = append(result.Warnings, "dangerous term detected: "+term)
		}
	}

	// Structural markers match the original casing.
	for _, sp := range p.Patterns {
		if sp.Compiled.MatchString(text) {
			result.Safe = false
			result.Warnings = append(result.Warnings, "suspicious pattern detected: "+sp.Label)
		}
	}

	// Level depends only on how many terms matched. A pattern-only match
	// stays low: it blocks auto-run but signals structure, not intent.
	switch n := len(result.MatchedTerms); {
	case n == 0:
		result.Level = RiskLow
	case n <= 2:
		result.Level = RiskMedium
	default:
		result.Level = RiskHigh
	}

	return result
}

// LevelHigher returns true if a is more severe than b.
func LevelHigher(a, b RiskLevel) bool {
	order := map[RiskLevel]int{
		RiskLow:    1,
		RiskMedium: 2,
		RiskHigh:   3,
	}
	return order[a] > order[b]
}
