// Package history keeps a ledger of transform outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mattjoyce/transformd/internal/command"
	"github.com/mattjoyce/transformd/internal/storage"
)

// MaxStderr caps the stderr kept per entry.
const MaxStderr = 64 * 1024

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded transform.
type Entry struct {
	ID              string        `json:"id"`
	RequestID       string        `json:"request_id"`
	Engine          string        `json:"engine"`
	Template        string        `json:"template"`
	SourceExtension string        `json:"source_extension"`
	TargetExtension string        `json:"target_extension"`
	State           string        `json:"state"`
	Verdict         string        `json:"verdict"`
	Cause           string        `json:"cause,omitempty"`
	ExitCode        int           `json:"exit_code"`
	Duration        time.Duration `json:"duration"`
	Stderr          string        `json:"stderr,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// FromOutcome builds an entry for an outcome produced by engine.
func FromOutcome(requestID, engine string, req command.Request, o command.Outcome) Entry {
	return Entry{
		RequestID:       requestID,
		Engine:          engine,
		Template:        o.Template,
		SourceExtension: command.NormalizeExtension(req.SourceExtension),
		TargetExtension: command.NormalizeExtension(req.TargetExtension),
		State:           string(o.State),
		Verdict:         string(o.Verdict),
		Cause:           string(o.Cause),
		ExitCode:        o.ExitCode,
		Duration:        o.Duration,
		Stderr:          o.Stderr,
	}
}

// Store is the SQLite-backed ledger. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the ledger at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// tail keeps the last n bytes of s, moving the cut forward to a rune start.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// Record appends e and returns it with ID and CreatedAt filled in.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.Stderr = tail(e.Stderr, MaxStderr)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO transform_log(id, request_id, engine, template, source_ext, target_ext, state, verdict, cause, exit_code, duration_ms, stderr, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.RequestID, e.Engine, e.Template, e.SourceExtension, e.TargetExtension,
		e.State, e.Verdict, e.Cause, e.ExitCode, e.Duration.Milliseconds(), e.Stderr,
		e.CreatedAt.Format(timeLayout))
	if err != nil {
		return Entry{}, fmt.Errorf("record transform %s: %w", e.RequestID, err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, request_id, engine, template, source_ext, target_ext, state, verdict, cause, exit_code, duration_ms, COALESCE(stderr, ''), created_at
FROM transform_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Engine, &e.Template, &e.SourceExtension, &e.TargetExtension,
			&e.State, &e.Verdict, &e.Cause, &e.ExitCode, &durationMS, &e.Stderr, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than olderThan and returns how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM transform_log WHERE created_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}
