package core

import (
	"crypto/sha256"
	"encoding/hex"

	shellwords "github.com/mattn/go-shellwords"
)

// CommandSpec is the canonical description of a command for audit and
// display. The raw text is what actually executes; Argv is a best-effort
// tokenization for rendering and never feeds back into execution.
type CommandSpec struct {
	// Raw is the exact submitted text.
	Raw string `json:"raw"`
	// Argv is the shell-words split of Raw, empty when parsing fails
	// (unbalanced quotes and the like).
	Argv []string `json:"argv,omitempty"`
	// Hash is the full SHA256 of Raw in hex.
	Hash string `json:"hash"`
}

// NewCommandSpec builds the spec for raw command text.
func NewCommandSpec(raw string) CommandSpec {
	argv, err := shellwords.Parse(raw)
	if err != nil {
		argv = nil
	}
	return CommandSpec{
		Raw:  raw,
		Argv: argv,
		Hash: CommandHash(raw),
	}
}

// CommandHash returns the hex SHA256 of the raw command text. Ticket ids
// are the first TicketIDLen characters of this hash.
func CommandHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Program returns the first argv token, or "" when tokenization failed.
func (s CommandSpec) Program() string {
	if len(s.Argv) == 0 {
		return ""
	}
	return s.Argv[0]
}
