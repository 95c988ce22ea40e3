// Package sqlite implements a SQLite-backed report.Sink using database/sql.
// It performs batched INSERTs inside a transaction; SQLite has no dedicated
// bulk-load API, but a single transaction keeps performance acceptable for
// the row counts a batch run produces (one row per trace file).
//
// The sink registers itself under the "sqlite" scheme; destinations look like
// "sqlite:unify.db" or "sqlite:file:unify.db?cache=shared".
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"traceunify/internal/report"

	// SQLite driver; pure Go, no cgo required.
	_ "modernc.org/sqlite"
)

func init() {
	report.Register("sqlite", func(ctx context.Context, dest string) (report.Sink, error) {
		dsn := strings.TrimPrefix(dest, "sqlite:")
		return New(ctx, dsn)
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS unify_runs (
	job         TEXT NOT NULL,
	input       TEXT NOT NULL,
	output      TEXT NOT NULL,
	lines       INTEGER NOT NULL,
	kept        INTEGER NOT NULL,
	dropped     INTEGER NOT NULL,
	digest      TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);`

// Sink is a SQLite-backed implementation of report.Sink.
type Sink struct {
	db *sql.DB
}

// New opens a SQLite connection using the provided DSN and returns a Sink.
//
// DSN is passed directly to database/sql; for example:
//
//	"unify.db"
//	"file:unify.db?cache=shared"
func New(ctx context.Context, dsn string) (*Sink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// Fail fast on invalid DSNs.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &Sink{db: db}, nil
}

// EnsureSchema creates the manifest table if it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: create table: %w", err)
	}
	return nil
}

// Insert writes the given rows in a single transaction with a prepared
// statement.
func (s *Sink) Insert(ctx context.Context, job string, rows []report.FileReport) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO unify_runs
	(job, input, output, lines, kept, dropped, digest, status, error, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			job, r.Input, r.Output, r.Lines, r.Kept, r.Dropped,
			r.Digest, r.Status, r.Error, r.DurationMS, now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Sink) Close() error { return s.db.Close() }
