package testutil

import (
	"context"
	"testing"

	"github.com/cmdgate-dev/cmdgate/internal/core"
	"github.com/cmdgate-dev/cmdgate/internal/journal"
)

// TicketOption customizes a parked test ticket before it enters the ledger.
type TicketOption func(*ticketSpec)

type ticketSpec struct {
	command string
	session string
	risk    *core.Classification
}

// MakeTicket parks a command in the ledger and returns its ticket.
func MakeTicket(t *testing.T, ledger *core.Ledger, opts ...TicketOption) *core.Ticket {
	t.Helper()

	spec := &ticketSpec{
		command: "frobnicate the widget",
		session: "sess-test",
		risk: &core.Classification{
			Level:        core.RiskMedium,
			MatchedTerms: []string{"frobnicate"},
			Warnings:     []string{`dangerous term "frobnicate"`},
		},
	}
	for _, opt := range opts {
		opt(spec)
	}

	ticket := ledger.Park(spec.command, spec.risk, spec.session)
	if ticket == nil {
		t.Fatalf("parking test ticket for %q", spec.command)
	}
	return ticket
}

// TicketWithCommand sets the parked command text.
func TicketWithCommand(command string) TicketOption {
	return func(s *ticketSpec) { s.command = command }
}

// TicketWithSession sets the owning session.
func TicketWithSession(session string) TicketOption {
	return func(s *ticketSpec) { s.session = session }
}

// TicketWithRisk sets the classification carried by the ticket.
func TicketWithRisk(risk *core.Classification) TicketOption {
	return func(s *ticketSpec) { s.risk = risk }
}

// RecordOption customizes a test audit record.
type RecordOption func(*core.AuditRecord)

// MakeAuditRecord inserts an audit record into the journal.
func MakeAuditRecord(t *testing.T, jnl *journal.Journal, opts ...RecordOption) core.AuditRecord {
	t.Helper()

	rec := core.AuditRecord{
		Session:      "sess-test",
		Command:      "echo test",
		Verdict:      core.VerdictAutoRun,
		RiskLevel:    core.RiskLow,
		MatchedTerms: nil,
		Status:       "ok",
		ExitCode:     0,
		DurationMs:   5,
	}
	for _, opt := range opts {
		opt(&rec)
	}

	RequireNoError(t, jnl.Record(context.Background(), rec), "recording test entry")
	return rec
}

// RecordWithCommand sets the audited command text.
func RecordWithCommand(command string) RecordOption {
	return func(r *core.AuditRecord) { r.Command = command }
}

// RecordWithSession sets the audited session.
func RecordWithSession(session string) RecordOption {
	return func(r *core.AuditRecord) { r.Session = session }
}

// RecordWithVerdict sets the verdict.
func RecordWithVerdict(verdict string) RecordOption {
	return func(r *core.AuditRecord) { r.Verdict = verdict }
}

// RecordWithRisk sets the risk level and matched terms.
func RecordWithRisk(level core.RiskLevel, terms ...string) RecordOption {
	return func(r *core.AuditRecord) {
		r.RiskLevel = level
		r.MatchedTerms = terms
	}
}

// RecordWithFailure marks the record as a failed execution.
func RecordWithFailure(exitCode int, errMsg string) RecordOption {
	return func(r *core.AuditRecord) {
		r.Status = "failed"
		r.ExitCode = exitCode
		r.Error = errMsg
	}
}
