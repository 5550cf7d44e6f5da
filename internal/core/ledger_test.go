package core

import (
	"errors"
	"testing"
	"time"
)

func TestParkAndResolve(t *testing.T) {
	ledger := NewLedger(0)

	ticket := ledger.Park("frobnicate --all", &Classification{Level: RiskMedium}, "sess-1")
	if len(ticket.ID) != TicketIDLen {
		t.Fatalf("Expected %d-char ticket id, got %q", TicketIDLen, ticket.ID)
	}
	if ticket.Command != "frobnicate --all" {
		t.Errorf("Expected command preserved, got %q", ticket.Command)
	}
	if !ticket.ExpiresAt.IsZero() {
		t.Error("Expected no expiry with zero ttl")
	}

	resolved, err := ledger.Resolve(ticket.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Command != "frobnicate --all" {
		t.Errorf("Expected resolved command preserved, got %q", resolved.Command)
	}

	// Resolve consumes: a second attempt must miss.
	if _, err := ledger.Resolve(ticket.ID); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("Expected ErrTicketNotFound on second resolve, got %v", err)
	}
}

func TestResolveUnknownTicket(t *testing.T) {
	ledger := NewLedger(0)

	if _, err := ledger.Resolve("deadbeef"); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("Expected ErrTicketNotFound, got %v", err)
	}
}

func TestTicketIDDeterministic(t *testing.T) {
	a := TicketID("rm -rf /data")
	b := TicketID("rm -rf /data")
	c := TicketID("rm -rf /other")

	if a != b {
		t.Errorf("Expected identical ids for identical text: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("Expected different ids for different text, both %q", a)
	}
	if len(a) != TicketIDLen {
		t.Errorf("Expected %d-char id, got %q", TicketIDLen, a)
	}
}

func TestParkSameCommandRefreshes(t *testing.T) {
	ledger := NewLedger(0)

	first := ledger.Park("frobnicate", nil, "sess-1")
	second := ledger.Park("frobnicate", nil, "sess-2")

	if first.ID != second.ID {
		t.Errorf("Expected same id for same text: %q vs %q", first.ID, second.ID)
	}
	if ledger.Len() != 1 {
		t.Errorf("Expected 1 ticket after re-park, got %d", ledger.Len())
	}

	resolved, err := ledger.Resolve(second.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Session != "sess-2" {
		t.Errorf("Expected refresh to take the latest session, got %q", resolved.Session)
	}
}

func TestParkCollisionSalts(t *testing.T) {
	ledger := NewLedger(0)

	// Force a short-id collision by planting a different command under the
	// canonical id.
	canonical := TicketID("frobnicate")
	ledger.tickets[canonical] = &Ticket{
		ID:        canonical,
		Command:   "something else entirely",
		CreatedAt: time.Now().UTC(),
	}

	ticket := ledger.Park("frobnicate", nil, "sess-1")

	if ticket.ID == canonical {
		t.Fatal("Expected a salted id for the colliding command")
	}
	if ticket.ID != saltedTicketID("frobnicate", 1) {
		t.Errorf("Expected first salt slot, got %q", ticket.ID)
	}

	// The incumbent must be untouched.
	incumbent, err := ledger.Resolve(canonical)
	if err != nil {
		t.Fatalf("Resolve(incumbent) error = %v", err)
	}
	if incumbent.Command != "something else entirely" {
		t.Errorf("Expected incumbent preserved, got %q", incumbent.Command)
	}
}

func TestSaltedIDsDiffer(t *testing.T) {
	if saltedTicketID("x", 0) == saltedTicketID("x", 1) {
		t.Error("Expected salted derivations to differ")
	}
	if saltedTicketID("x", 0) != TicketID("x") {
		t.Error("Expected counter zero to match the canonical derivation")
	}
}

func TestPendingSnapshot(t *testing.T) {
	ledger := NewLedger(0)
	for _, cmd := range []string{"one", "two", "three"} {
		ledger.Park(cmd, nil, "sess-1")
	}

	pending := ledger.Pending()
	if len(pending) != 3 {
		t.Fatalf("Expected 3 pending tickets, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].CreatedAt.Before(pending[i-1].CreatedAt) {
			t.Errorf("Expected oldest-first order, got %v before %v",
				pending[i-1].CreatedAt, pending[i].CreatedAt)
		}
	}

	// Mutating the snapshot must not touch the ledger.
	pending[0].Command = "mutated"
	fresh := ledger.Pending()
	for _, ticket := range fresh {
		if ticket.Command == "mutated" {
			t.Error("Expected Pending to return copies")
		}
	}
}

func TestSweepExpired(t *testing.T) {
	ledger := NewLedger(time.Hour)
	ledger.Park("stale-one", nil, "sess-1")
	ledger.Park("stale-two", nil, "sess-1")

	// Nothing is due yet.
	if swept := ledger.SweepExpired(time.Now().UTC()); len(swept) != 0 {
		t.Errorf("Expected no sweeps before expiry, got %d", len(swept))
	}

	swept := ledger.SweepExpired(time.Now().UTC().Add(2 * time.Hour))
	if len(swept) != 2 {
		t.Fatalf("Expected 2 expired tickets, got %d", len(swept))
	}
	if ledger.Len() != 0 {
		t.Errorf("Expected empty ledger after sweep, got %d", ledger.Len())
	}
}

func TestSweepWithoutTTL(t *testing.T) {
	ledger := NewLedger(0)
	ledger.Park("immortal", nil, "sess-1")

	swept := ledger.SweepExpired(time.Now().UTC().Add(1000 * time.Hour))
	if len(swept) != 0 {
		t.Errorf("Expected no sweeps without a ttl, got %d", len(swept))
	}
	if ledger.Len() != 1 {
		t.Errorf("Expected ticket retained, got %d", ledger.Len())
	}
}
