package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cwygoda/mediagrab/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id      TEXT NOT NULL UNIQUE,
    url         TEXT NOT NULL,
    platform    TEXT NOT NULL,
    media       TEXT NOT NULL,
    status      TEXT NOT NULL,
    kind        TEXT,
    error       TEXT,
    filename    TEXT,
    size        INTEGER NOT NULL DEFAULT 0,
    attempts    INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_finished ON outcomes(finished_at);
`

// History implements domain.HistoryRecorder using SQLite. It is an append
// only audit trail of terminal job outcomes.
type History struct {
	db *sql.DB
}

// New opens the ledger at dbPath, initializing the schema if needed.
func New(dbPath string) (*History, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; executors record concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	return &History{db: db}, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Record appends a terminal outcome. Recording the same job twice keeps the
// first entry.
func (h *History) Record(ctx context.Context, o domain.Outcome) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO outcomes
		 (job_id, url, platform, media, status, kind, error, filename, size, attempts, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.JobID, o.URL, o.Platform, string(o.Media), string(o.Status),
		nullable(string(o.Kind)), nullable(o.Error), nullable(o.Filename),
		o.Size, o.Attempts, o.CreatedAt.UTC(), o.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", o.JobID, err)
	}
	return nil
}

// Recent returns up to limit outcomes, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]domain.Outcome, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT job_id, url, platform, media, status, COALESCE(kind, ''), COALESCE(error, ''),
		        COALESCE(filename, ''), size, attempts, created_at, finished_at
		 FROM outcomes ORDER BY finished_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Counts returns the number of recorded outcomes per status.
func (h *History) Counts(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outcomes GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row scanner) (domain.Outcome, error) {
	var (
		o                   domain.Outcome
		media, status, kind string
	)
	err := row.Scan(&o.JobID, &o.URL, &o.Platform, &media, &status, &kind, &o.Error,
		&o.Filename, &o.Size, &o.Attempts, &o.CreatedAt, &o.FinishedAt)
	if err != nil {
		return domain.Outcome{}, err
	}
	o.Media = domain.MediaType(media)
	o.Status = domain.JobStatus(status)
	o.Kind = domain.FailureKind(kind)
	return o, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
