package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// OutcomeStatus is what the gate decided for one submission.
type OutcomeStatus string

// Gate outcomes.
const (
	// OutcomeExecuted means the command ran; inspect Result for how it went.
	OutcomeExecuted OutcomeStatus = "executed"
	// OutcomeParked means the command waits on approval under Ticket.
	OutcomeParked OutcomeStatus = "parked"
	// OutcomeRejected means policy refused the submission outright.
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeNotFound means the approval referenced no live ticket.
	OutcomeNotFound OutcomeStatus = "not_found"
)

// Journal verdicts. One is recorded for every gate decision.
const (
	VerdictAutoRun     = "auto_run"
	VerdictParked      = "parked"
	VerdictRejected    = "rejected"
	VerdictApprovedRun = "approved_run"
	VerdictNotFound    = "not_found"
	VerdictExpired     = "expired"
)

// Outcome is the structured answer to a submission or approval. The gate
// never returns an error for a bad command: policy refusals, parking, and
// execution failures are all data.
type Outcome struct {
	Status  OutcomeStatus    `json:"status"`
	Command string           `json:"command,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Risk    *Classification  `json:"risk,omitempty"`
	Ticket  *Ticket          `json:"ticket,omitempty"`
	Result  *ExecutionResult `json:"result,omitempty"`
}

// AuditRecord is the flattened view of a gate decision handed to the
// journal. Fields describing execution stay zero when nothing ran.
type AuditRecord struct {
	Session      string
	Command      string
	Verdict      string
	RiskLevel    RiskLevel
	MatchedTerms []string
	Status       string // ok | failed | timeout, "" when nothing ran
	ExitCode     int
	DurationMs   int64
	Error        string
}

// Recorder receives an audit record for every gate decision. Implementations
// must tolerate concurrent calls.
type Recorder interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// Gate wires the classifier, ledger, and runner into the submission
// pipeline: length check, classify, then run or park; approvals resolve a
// ticket and run it.
type Gate struct {
	policy   *Policy
	ledger   *Ledger
	runner   *Runner
	recorder Recorder
	logger   *log.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithRecorder attaches an audit recorder. Without one, decisions are only
// logged.
func WithRecorder(r Recorder) GateOption {
	return func(g *Gate) {
		g.recorder = r
	}
}

// WithGateLogger overrides the gate's logger.
func WithGateLogger(logger *log.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate creates a Gate over a policy, ledger, and runner.
func NewGate(policy *Policy, ledger *Ledger, runner *Runner, opts ...GateOption) *Gate {
	g := &Gate{
		policy: policy,
		ledger: ledger,
		runner: runner,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the gate's security posture.
func (g *Gate) Policy() *Policy {
	return g.policy
}

// Ledger returns the gate's approval ledger.
func (g *Gate) Ledger() *Ledger {
	return g.ledger
}

// Submit runs command text through the full pipeline. Order is fixed:
// the length check happens before classification, classification before any
// execution or parking decision.
func (g *Gate) Submit(ctx context.Context, session, command string) *Outcome {
	if command == "" {
		out := &Outcome{Status: OutcomeRejected, Reason: "empty command"}
		g.record(ctx, session, VerdictRejected, out)
		return out
	}
	if g.policy.MaxCommandLength > 0 && len(command) > g.policy.MaxCommandLength {
		out := &Outcome{
			Status:  OutcomeRejected,
			Command: command,
			Reason: fmt.Sprintf("command too long (%d chars, limit %d)",
				len(command), g.policy.MaxCommandLength),
		}
		g.logger.Warn("command rejected", "session", session, "length", len(command))
		g.record(ctx, session, VerdictRejected, out)
		return out
	}

	risk := g.policy.Classify(command)

	if risk.Safe || g.policy.AutoApproveSafe {
		result := g.runner.Run(ctx, command)
		out := &Outcome{
			Status:  OutcomeExecuted,
			Command: command,
			Risk:    risk,
			Result:  result,
		}
		g.logger.Info("command executed",
			"session", session,
			"exit_code", result.ExitCode,
			"duration", result.Duration,
			"succeeded", result.Succeeded)
		g.record(ctx, session, VerdictAutoRun, out)
		return out
	}

	ticket := g.ledger.Park(command, risk, session)
	out := &Outcome{
		Status:  OutcomeParked,
		Command: command,
		Risk:    risk,
		Ticket:  ticket,
	}
	g.logger.Info("command parked",
		"session", session,
		"ticket", ticket.ID,
		"program", NewCommandSpec(command).Program(),
		"risk", risk.Level,
		"terms", len(risk.MatchedTerms))
	g.record(ctx, session, VerdictParked, out)
	return out
}

// Approve resolves a parked ticket and executes its command. The resolve is
// atomic: of two concurrent approvals for the same id, exactly one executes
// and the other reports not found.
func (g *Gate) Approve(ctx context.Context, session, ticketID string) *Outcome {
	ticket, err := g.ledger.Resolve(ticketID)
	if err != nil {
		if !errors.Is(err, ErrTicketNotFound) {
			g.logger.Error("ticket resolve failed", "ticket", ticketID, "err", err)
		}
		out := &Outcome{
			Status: OutcomeNotFound,
			Reason: fmt.Sprintf("ticket %s not found or already executed", ticketID),
		}
		g.record(ctx, session, VerdictNotFound, out)
		return out
	}

	result := g.runner.Run(ctx, ticket.Command)
	out := &Outcome{
		Status:  OutcomeExecuted,
		Command: ticket.Command,
		Risk:    ticket.Risk,
		Ticket:  ticket,
		Result:  result,
	}
	g.logger.Info("approved command executed",
		"session", session,
		"ticket", ticket.ID,
		"exit_code", result.ExitCode,
		"succeeded", result.Succeeded)
	g.record(ctx, session, VerdictApprovedRun, out)
	return out
}

// record writes the audit entry for an outcome. Journal failures are logged
// and swallowed: auditing must never break the pipeline.
func (g *Gate) record(ctx context.Context, session, verdict string, out *Outcome) {
	if g.recorder == nil {
		return
	}

	rec := AuditRecord{
		Session: session,
		Command: out.Command,
		Verdict: verdict,
	}
	if out.Status == OutcomeRejected || out.Status == OutcomeNotFound {
		rec.Error = out.Reason
	}
	if out.Risk != nil {
		rec.RiskLevel = out.Risk.Level
		rec.MatchedTerms = out.Risk.MatchedTerms
	}
	if res := out.Result; res != nil {
		rec.ExitCode = res.ExitCode
		rec.DurationMs = res.Duration.Milliseconds()
		rec.Error = res.ErrorMessage
		switch {
		case res.TimedOut:
			rec.Status = "timeout"
		case res.Succeeded:
			rec.Status = "ok"
		default:
			rec.Status = "failed"
		}
	}

	if err := g.recorder.Record(ctx, rec); err != nil {
		g.logger.Warn("journal write failed", "verdict", verdict, "err", err)
	}
}
