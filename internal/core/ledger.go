package core

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Ledger errors.
var (
	// ErrTicketNotFound is returned when a ticket id does not exist or was
	// already resolved. The two cases are deliberately indistinguishable.
	ErrTicketNotFound = errors.New("ticket not found")
)

// TicketIDLen is the width of a ticket id in hex characters.
const TicketIDLen = 8

// Ticket is a parked command awaiting approval.
type Ticket struct {
	// ID is a short content-derived hex identifier.
	ID string `json:"id"`
	// Command is the exact text that will run on approval.
	Command string `json:"command"`
	// Risk is the classification that caused parking.
	Risk *Classification `json:"risk,omitempty"`
	// Session identifies who parked the command.
	Session string `json:"session,omitempty"`
	// CreatedAt is when the ticket was parked (or last re-parked).
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is zero when tickets never expire.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Ledger holds parked commands keyed by ticket id. It lives in process
// memory only: restarting the daemon abandons all pending approvals.
type Ledger struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	ttl     time.Duration
}

// NewLedger creates an empty ledger. A zero ttl means tickets never expire.
func NewLedger(ttl time.Duration) *Ledger {
	return &Ledger{
		tickets: make(map[string]*Ticket),
		ttl:     ttl,
	}
}

// TicketID derives the canonical id for a command text.
func TicketID(command string) string {
	return saltedTicketID(command, 0)
}

// saltedTicketID derives the id for a command under a collision counter.
// Counter zero is the canonical unsalted derivation.
func saltedTicketID(command string, n int) string {
	input := command
	if n > 0 {
		input = command + "\n" + strconv.Itoa(n)
	}
	return CommandHash(input)[:TicketIDLen]
}

// Park stores a command for later approval and returns its ticket.
//
// Parking the same text again refreshes the existing ticket in place, so a
// repeated request hands back the same id. When a different command collides
// on a short id, the id is re-derived with an incrementing salt until a free
// slot is found; a parked ticket is never displaced by different text.
func (l *Ledger) Park(command string, risk *Classification, session string) *Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := saltedTicketID(command, 0)
	for n := 1; ; n++ {
		existing, ok := l.tickets[id]
		if !ok || existing.Command == command {
			break
		}
		id = saltedTicketID(command, n)
	}

	now := time.Now().UTC()
	t := &Ticket{
		ID:        id,
		Command:   command,
		Risk:      risk,
		Session:   session,
		CreatedAt: now,
	}
	if l.ttl > 0 {
		t.ExpiresAt = now.Add(l.ttl)
	}
	l.tickets[id] = t

	copied := *t
	return &copied
}

// Resolve removes and returns the ticket for id. Removal and return happen
// under one lock acquisition, so two concurrent approvals of the same id
// yield exactly one ticket and one ErrTicketNotFound.
func (l *Ledger) Resolve(id string) (*Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	delete(l.tickets, id)
	return t, nil
}

// Pending returns a snapshot of parked tickets, oldest first.
func (l *Ledger) Pending() []*Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Ticket, 0, len(l.tickets))
	for _, t := range l.tickets {
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len reports how many tickets are parked.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tickets)
}

// SweepExpired removes tickets whose ExpiresAt has passed and returns them,
// oldest first. Tickets without an expiry are never swept.
func (l *Ledger) SweepExpired(now time.Time) []*Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []*Ticket
	for id, t := range l.tickets {
		if t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt) {
			continue
		}
		delete(l.tickets, id)
		expired = append(expired, t)
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	return expired
}
