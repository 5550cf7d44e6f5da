package testutil

import (
	"context"
	"sync"

	"github.com/cmdgate-dev/cmdgate/internal/core"
)

// MemRecorder keeps audit records in memory for assertions.
type MemRecorder struct {
	mu   sync.Mutex
	recs []core.AuditRecord
}

var _ core.Recorder = (*MemRecorder)(nil)

// Record appends one audit record.
func (m *MemRecorder) Record(_ context.Context, rec core.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemRecorder) Records() []core.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.AuditRecord(nil), m.recs...)
}
