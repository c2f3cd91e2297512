// Package history keeps a durable ledger of update attempts backed by
// SQLite. The JSON state files remain authoritative for the decision engine;
// this ledger exists for the status and history commands, which need more
// than the single most recent record.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one update attempt as seen by the decision engine.
type Record struct {
	ID            int64
	StartedAt     time.Time
	LocalVersion  string
	RemoteVersion string
	Outcome       string
	Detail        string
}

// Store manages ledger persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS update_attempts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            started_at TEXT NOT NULL,
            local_version TEXT NOT NULL,
            remote_version TEXT NOT NULL DEFAULT '',
            outcome TEXT NOT NULL,
            detail TEXT NOT NULL DEFAULT ''
        )`)
	if err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records one attempt and returns its id.
func (s *Store) Append(ctx context.Context, rec Record) (int64, error) {
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO update_attempts (started_at, local_version, remote_version, outcome, detail)
         VALUES (?, ?, ?, ?, ?)`,
		startedAt.Format(time.RFC3339Nano),
		rec.LocalVersion,
		rec.RemoteVersion,
		rec.Outcome,
		rec.Detail,
	)
	if err != nil {
		return 0, fmt.Errorf("append attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read attempt id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, local_version, remote_version, outcome, detail
         FROM update_attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var startedAt string
		if err := rows.Scan(&rec.ID, &startedAt, &rec.LocalVersion, &rec.RemoteVersion, &rec.Outcome, &rec.Detail); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse attempt timestamp: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return records, nil
}

// Prune removes everything but the newest keep records.
func (s *Store) Prune(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM update_attempts WHERE id NOT IN (
            SELECT id FROM update_attempts ORDER BY id DESC LIMIT ?
        )`, keep)
	if err != nil {
		return fmt.Errorf("prune attempts: %w", err)
	}
	return nil
}
