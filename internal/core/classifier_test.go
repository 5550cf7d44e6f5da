package core

import (
	"strings"
	"testing"
)

func TestClassifyDangerousTerm(t *testing.T) {
	policy := NewPolicy([]string{"rm -rf"}, nil)

	result := policy.Classify("please rm -rf /tmp")

	if result.Safe {
		t.Error("Expected Safe to be false")
	}
	if result.Level != RiskMedium {
		t.Errorf("Expected level=medium, got %s", result.Level)
	}
	if len(result.MatchedTerms) != 1 || result.MatchedTerms[0] != "rm -rf" {
		t.Errorf("Expected MatchedTerms=[rm -rf], got %v", result.MatchedTerms)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "rm -rf") {
		t.Errorf("Expected one warning naming the term, got %v", result.Warnings)
	}
}

func TestClassifyTermCaseInsensitive(t *testing.T) {
	policy := NewPolicy([]string{"rm -rf"}, nil)

	result := policy.Classify("RM -RF /var")
	if result.Safe {
		t.Error("Expected Safe to be false for uppercase variant")
	}
	if len(result.MatchedTerms) != 1 {
		t.Errorf("Expected 1 matched term, got %v", result.MatchedTerms)
	}
}

func TestClassifyPatternOnly(t *testing.T) {
	// No dangerous terms configured: only structural markers can fire.
	policy := NewPolicy([]string{}, nil)

	result := policy.Classify("echo hello | cat")

	if result.Safe {
		t.Error("Expected Safe to be false")
	}
	if result.Level != RiskLow {
		t.Errorf("Expected level=low for pattern-only match, got %s", result.Level)
	}
	if len(result.MatchedTerms) != 0 {
		t.Errorf("Expected no matched terms, got %v", result.MatchedTerms)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("Expected a pattern warning")
	}
	if !strings.Contains(result.Warnings[0], "command chaining") {
		t.Errorf("Expected chaining warning, got %q", result.Warnings[0])
	}
}

func TestClassifyStructuralPatterns(t *testing.T) {
	policy := NewPolicy([]string{}, nil)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"pipe", "ls | wc -l", "command chaining"},
		{"ampersand", "sleep 1 & echo done", "command chaining"},
		{"semicolon", "true; false", "command chaining"},
		{"redirect to root path", "echo x > /etc/passwd", "redirect to system path"},
		{"redirect to backslash path", `echo x >\Windows\sys.ini`, "redirect to system path"},
		{"angle brackets", "cat <file>", "angle-bracket expansion"},
		{"dollar substitution", "echo $(whoami)", "command substitution"},
		{"backticks", "echo `whoami`", "backtick substitution"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := policy.Classify(tc.text)
			if result.Safe {
				t.Fatalf("Classify(%q) expected unsafe", tc.text)
			}
			found := false
			for _, w := range result.Warnings {
				if strings.Contains(w, tc.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("Classify(%q) warnings = %v, want one containing %q", tc.text, result.Warnings, tc.want)
			}
		})
	}
}

func TestClassifyRiskLevels(t *testing.T) {
	policy := NewPolicy([]string{"alpha", "beta", "gamma", "delta"}, nil)

	tests := []struct {
		name  string
		text  string
		level RiskLevel
		terms int
	}{
		{"no terms", "nothing here", RiskLow, 0},
		{"one term", "run alpha now", RiskMedium, 1},
		{"two terms", "alpha and beta", RiskMedium, 2},
		{"three terms", "alpha beta gamma", RiskHigh, 3},
		{"four terms", "alpha beta gamma delta", RiskHigh, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := policy.Classify(tc.text)
			if result.Level != tc.level {
				t.Errorf("Classify(%q) level = %s, want %s", tc.text, result.Level, tc.level)
			}
			if len(result.MatchedTerms) != tc.terms {
				t.Errorf("Classify(%q) matched %d terms, want %d", tc.text, len(result.MatchedTerms), tc.terms)
			}
		})
	}
}

func TestClassifyNoEarlyExit(t *testing.T) {
	policy := NewPolicy([]string{"alpha", "beta"}, nil)

	// Two terms plus a structural pattern: all three must be reported.
	result := policy.Classify("alpha $(beta)")

	if len(result.MatchedTerms) != 2 {
		t.Errorf("Expected both terms recorded, got %v", result.MatchedTerms)
	}
	if len(result.Warnings) != 3 {
		t.Errorf("Expected 3 warnings (2 terms + 1 pattern), got %v", result.Warnings)
	}
}

func TestClassifyOverlappingTerms(t *testing.T) {
	policy := NewPolicy([]string{"rm -rf", "rm"}, nil)

	result := policy.Classify("rm -rf /data")
	if len(result.MatchedTerms) != 2 {
		t.Errorf("Expected both overlapping terms recorded, got %v", result.MatchedTerms)
	}
	if result.Level != RiskMedium {
		t.Errorf("Expected level=medium for 2 terms, got %s", result.Level)
	}
}

func TestClassifySafeText(t *testing.T) {
	policy := NewPolicy([]string{"rm -rf"}, nil)

	result := policy.Classify("echo hello")
	if !result.Safe {
		t.Errorf("Expected Safe, got unsafe: %v", result.Warnings)
	}
	if result.Level != RiskLow {
		t.Errorf("Expected level=low, got %s", result.Level)
	}
	if len(result.MatchedTerms) != 0 || len(result.Warnings) != 0 {
		t.Errorf("Expected no matches, got terms=%v warnings=%v", result.MatchedTerms, result.Warnings)
	}
}

func TestClassifyEmptyText(t *testing.T) {
	policy := NewPolicy(nil, nil)

	result := policy.Classify("")
	if !result.Safe {
		t.Error("Expected empty text to be safe")
	}
	if result.Level != RiskLow {
		t.Errorf("Expected level=low, got %s", result.Level)
	}
}

func TestNewPolicyDropsEmptyTerms(t *testing.T) {
	policy := NewPolicy([]string{"", "  ", "rm"}, nil)

	if len(policy.DangerousTerms) != 1 {
		t.Fatalf("Expected empty terms dropped, got %v", policy.DangerousTerms)
	}
	// An empty term would have matched everything.
	if result := policy.Classify("harmless"); !result.Safe {
		t.Errorf("Expected safe, got %v", result.Warnings)
	}
}

func TestNewPolicyExtraPatterns(t *testing.T) {
	policy := NewPolicy([]string{}, []string{`^sudo `})

	if result := policy.Classify("sudo ls"); result.Safe {
		t.Error("Expected extra pattern to match")
	}
	// Config patterns stay case-sensitive.
	if result := policy.Classify("SUDO ls"); !result.Safe {
		t.Error("Expected uppercase variant to pass a case-sensitive pattern")
	}
}

func TestNewPolicySkipsInvalidExtraPatterns(t *testing.T) {
	base := NewPolicy([]string{}, nil)
	policy := NewPolicy([]string{}, []string{`[unclosed`})

	if len(policy.Patterns) != len(base.Patterns) {
		t.Errorf("Expected invalid pattern skipped: got %d patterns, want %d",
			len(policy.Patterns), len(base.Patterns))
	}
}

func TestDefaultDangerousTermsIsolated(t *testing.T) {
	first := DefaultDangerousTerms()
	first[0] = "mutated"

	second := DefaultDangerousTerms()
	if second[0] == "mutated" {
		t.Error("Expected DefaultDangerousTerms to return a fresh copy")
	}
}

func TestLevelHigher(t *testing.T) {
	tests := []struct {
		name   string
		a, b   RiskLevel
		expect bool
	}{
		{"high > medium", RiskHigh, RiskMedium, true},
		{"high > low", RiskHigh, RiskLow, true},
		{"medium > low", RiskMedium, RiskLow, true},
		{"low < medium", RiskLow, RiskMedium, false},
		{"same level", RiskMedium, RiskMedium, false},
		{"unknown level", RiskLevel("wild"), RiskLow, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := LevelHigher(tc.a, tc.b); got != tc.expect {
				t.Errorf("LevelHigher(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.expect)
			}
		})
	}
}
