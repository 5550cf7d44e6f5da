// Package journal persists the audit trail of gate decisions in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cmdgate-dev/cmdgate/internal/core"
)

// ErrNoSuchEntry is returned when a journal entry is not found.
var ErrNoSuchEntry = errors.New("journal entry not found")

// DefaultRecentLimit bounds Recent queries that do not name a limit.
const DefaultRecentLimit = 20

// Entry is one recorded gate decision.
type Entry struct {
	ID           string    `json:"id"`
	Session      string    `json:"session,omitempty"`
	Command      string    `json:"command"`
	Verdict      string    `json:"verdict"`
	RiskLevel    string    `json:"risk_level,omitempty"`
	MatchedTerms []string  `json:"matched_terms,omitempty"`
	Status       string    `json:"status,omitempty"`
	ExitCode     int       `json:"exit_code"`
	DurationMs   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Query filters a Recent call. Zero values mean no filter.
type Query struct {
	// Session restricts entries to one session id.
	Session string
	// Verdict restricts entries to one verdict.
	Verdict string
	// Search matches a substring of the command text.
	Search string
	// Limit caps the result; zero or negative uses DefaultRecentLimit.
	Limit int
}

// Journal is an append-mostly SQLite audit log. It implements core.Recorder.
type Journal struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

var _ core.Recorder = (*Journal)(nil)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		session TEXT NOT NULL DEFAULT '',
		command TEXT NOT NULL,
		verdict TEXT NOT NULL,
		risk_level TEXT NOT NULL DEFAULT '',
		matched_terms TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_session ON journal(session)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_created_at ON journal(created_at)`,
}

// Open opens (creating if needed) the journal database at path and applies
// migrations.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}

	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	j := &Journal{db: database, path: path}
	if err := j.migrate(); err != nil {
		_ = database.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	for _, stmt := range migrations {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating journal: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one gate decision. Safe for concurrent use.
func (j *Journal) Record(ctx context.Context, rec core.AuditRecord) error {
	terms := "[]"
	if len(rec.MatchedTerms) > 0 {
		data, err := json.Marshal(rec.MatchedTerms)
		if err != nil {
			return fmt.Errorf("encoding matched terms: %w", err)
		}
		terms = string(data)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal (id, session, command, verdict, risk_level, matched_terms, status, exit_code, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), rec.Session, rec.Command, rec.Verdict, string(rec.RiskLevel),
		terms, rec.Status, rec.ExitCode, rec.DurationMs, rec.Error,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording journal entry: %w", err)
	}
	return nil
}

// Get retrieves one entry by id.
// Returns ErrNoSuchEntry if no entry has that id.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, session, command, verdict, risk_level, matched_terms, status, exit_code, duration_ms, error, created_at
		FROM journal WHERE id = ?
	`, id)

	return scanEntry(row)
}

// Recent returns entries newest first, filtered by q.
func (j *Journal) Recent(ctx context.Context, q Query) ([]*Entry, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, session, command, verdict, risk_level, matched_terms, status, exit_code, duration_ms, error, created_at
		FROM journal`)

	var clauses []string
	var args []any
	if q.Session != "" {
		clauses = append(clauses, "session = ?")
		args = append(args, q.Session)
	}
	if q.Verdict != "" {
		clauses = append(clauses, "verdict = ?")
		args = append(args, q.Verdict)
	}
	if q.Search != "" {
		clauses = append(clauses, "command LIKE ?")
		args = append(args, "%"+q.Search+"%")
	}
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}

	sb.WriteString(" ORDER BY created_at DESC, rowid DESC LIMIT ?")
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Counts returns how many entries exist per verdict.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT verdict, COUNT(*) FROM journal GROUP BY verdict
	`)
	if err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var verdict string
		var n int
		if err := rows.Scan(&verdict, &n); err != nil {
			return nil, fmt.Errorf("scanning journal counts: %w", err)
		}
		counts[verdict] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal counts: %w", err)
	}
	return counts, nil
}

// scanEntry scans a single journal row.
func scanEntry(row *sql.Row) (*Entry, error) {
	e := &Entry{}
	var terms, createdAt string

	err := row.Scan(&e.ID, &e.Session, &e.Command, &e.Verdict, &e.RiskLevel,
		&terms, &e.Status, &e.ExitCode, &e.DurationMs, &e.Error, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSuchEntry
		}
		return nil, fmt.Errorf("scanning journal entry: %w", err)
	}

	if err := fillEntry(e, terms, createdAt); err != nil {
		return nil, err
	}
	return e, nil
}

// scanEntries scans multiple journal rows.
func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var terms, createdAt string

		err := rows.Scan(&e.ID, &e.Session, &e.Command, &e.Verdict, &e.RiskLevel,
			&terms, &e.Status, &e.ExitCode, &e.DurationMs, &e.Error, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}

		if err := fillEntry(e, terms, createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}
	return entries, nil
}

// fillEntry decodes the stored matched_terms and created_at columns.
func fillEntry(e *Entry, terms, createdAt string) error {
	if terms != "" && terms != "[]" {
		if err := json.Unmarshal([]byte(terms), &e.MatchedTerms); err != nil {
			return fmt.Errorf("decoding matched terms: %w", err)
		}
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return nil
}
