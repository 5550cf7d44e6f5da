package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// CommandMarker prefixes lines in an engine reply that carry a runnable
// command. Everything else in the reply is prose.
const CommandMarker = "COMMAND:"

// Completer produces one completion from a system instruction, rendered
// conversation context, and the current question.
type Completer interface {
	Complete(ctx context.Context, system, recent, question string) (string, error)
}

// AskResult is the outcome of one assisted exchange. Each proposed command
// passes through the gate independently, so a reply mixing a safe command
// with a dangerous one yields one execution and one ticket.
type AskResult struct {
	Question string     `json:"question"`
	Reply    string     `json:"reply"`
	Raw      string     `json:"raw,omitempty"`
	Outcomes []*Outcome `json:"outcomes,omitempty"`
}

// Assistant turns questions into gated command proposals via a completion
// engine.
type Assistant struct {
	gate           *Gate
	engine         Completer
	system         string
	contextEntries int
	logger         *log.Logger
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithSystemPrompt overrides the system instruction sent to the engine.
func WithSystemPrompt(prompt string) AssistantOption {
	return func(a *Assistant) {
		if prompt != "" {
			a.system = prompt
		}
	}
}

// WithContextEntries sets how many history entries feed the prompt.
func WithContextEntries(n int) AssistantOption {
	return func(a *Assistant) {
		if n > 0 {
			a.contextEntries = n
		}
	}
}

// WithAssistantLogger overrides the assistant's logger.
func WithAssistantLogger(logger *log.Logger) AssistantOption {
	return func(a *Assistant) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssistant creates an Assistant over a gate and completion engine.
func NewAssistant(gate *Gate, engine Completer, opts ...AssistantOption) *Assistant {
	a := &Assistant{
		gate:           gate,
		engine:         engine,
		system:         DefaultSystemPrompt(""),
		contextEntries: DefaultContextEntries,
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ask sends the question to the engine with recent history as context, then
// gates every proposed command independently.
//
// On engine failure nothing is appended to the history: a failed exchange
// leaves the conversation exactly as it was.
func (a *Assistant) Ask(ctx context.Context, session string, history *History, question string) (*AskResult, error) {
	if a.engine == nil {
		return nil, fmt.Errorf("completion engine not configured")
	}

	reply, err := a.engine.Complete(ctx, a.system, history.RecentContext(a.contextEntries), question)
	if err != nil {
		a.logger.Error("completion failed", "session", session, "err", err)
		return nil, fmt.Errorf("completion: %w", err)
	}

	history.Append(RoleUser, question)
	history.Append(RoleAssistant, reply)

	prose, commands := SplitCommands(reply)
	result := &AskResult{
		Question: question,
		Reply:    prose,
		Raw:      reply,
	}
	for _, command := range commands {
		result.Outcomes = append(result.Outcomes, a.gate.Submit(ctx, session, command))
	}

	a.logger.Info("ask completed",
		"session", session,
		"commands", len(commands),
		"reply_chars", len(reply))
	return result, nil
}

// SplitCommands separates marker lines from prose. A marker line is any line
// whose trimmed form starts with CommandMarker; the command is what follows
// the marker, with surrounding whitespace and stray backticks removed. Lines
// with an empty command after the marker are dropped entirely.
func SplitCommands(reply string) (prose string, commands []string) {
	var proseLines []string
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(trimmed, CommandMarker); ok {
			command := strings.TrimSpace(strings.Trim(strings.TrimSpace(after), "`"))
			if command != "" {
				commands = append(commands, command)
			}
			continue
		}
		proseLines = append(proseLines, line)
	}
	return strings.TrimSpace(strings.Join(proseLines, "\n")), commands
}

// DefaultSystemPrompt builds the engine instruction. osType seasons the
// wording ("linux", "windows"); empty defaults to linux.
func DefaultSystemPrompt(osType string) string {
	if osType == "" {
		osType = "linux"
	}
	return fmt.Sprintf(`You are a command-line assistant for %s systems.
Answer the user's question briefly. When a shell command would accomplish the
task, put it on its own line prefixed with %s followed by the exact command.
One command per line, no markdown fences around marker lines. Only propose
commands the user asked for.`, osType, CommandMarker)
}
