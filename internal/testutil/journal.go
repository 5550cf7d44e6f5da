package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cmdgate-dev/cmdgate/internal/journal"
)

// NewTestJournal returns a temporary, migrated journal database for tests.
//
// The caller does not need to close it; cleanup is registered on t.Cleanup.
func NewTestJournal(t *testing.T) *journal.Journal {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	return NewTestJournalAtPath(t, path)
}

// NewTestJournalAtPath creates a migrated journal database at a specific path.
func NewTestJournalAtPath(t *testing.T, path string) *journal.Journal {
	t.Helper()

	if path == "" {
		t.Fatalf("NewTestJournalAtPath: path is required")
	}

	jnl, err := journal.Open(path)
	if err != nil {
		t.Fatalf("opening test journal: %v", err)
	}

	t.Cleanup(func() {
		_ = jnl.Close()
	})

	return jnl
}

// WithTestJournal runs fn with a temporary test journal.
func WithTestJournal(t *testing.T, fn func(jnl *journal.Journal)) {
	t.Helper()
	if fn == nil {
		t.Fatalf("WithTestJournal: fn is required")
	}
	fn(NewTestJournal(t))
}

// CleanupTestJournal closes the journal if non-nil. Prefer relying on
// t.Cleanup via NewTestJournal.
func CleanupTestJournal(jnl *journal.Journal) error {
	if jnl == nil {
		return nil
	}
	if err := jnl.Close(); err != nil {
		return fmt.Errorf("closing test journal: %w", err)
	}
	return nil
}
