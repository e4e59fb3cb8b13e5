package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records of many invocations in one database file.
// Triggers reject any update other than filling a NULL hint, and any delete.
type SQLiteStore struct {
	db           *sql.DB
	invocationID string
	attempt      int
}

// OpenSQLite opens (and creates if needed) the database at path, bootstraps
// the schema and scopes the store to one attempt of invocationID.
func OpenSQLite(ctx context.Context, path, invocationID string, attempt int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if strings.TrimSpace(invocationID) == "" {
		return nil, fmt.Errorf("sqlite store: invocation id is empty")
	}
	if attempt < 1 {
		return nil, fmt.Errorf("sqlite store: attempt must be >= 1 (got %d)", attempt)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pipelines write concurrently; one connection serializes them and keeps
	// the busy_timeout pragma in effect for every statement.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, invocationID: invocationID, attempt: attempt}, nil
}

// BootstrapSQLite creates the table and the append-only triggers if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_records (
  invocation_id  TEXT NOT NULL,
  attempt        INTEGER NOT NULL,
  target_id      TEXT NOT NULL,
  correlation_id TEXT NOT NULL,
  run_id_hint    INTEGER,
  dispatched_at  TEXT NOT NULL,
  PRIMARY KEY (invocation_id, attempt, target_id)
);`,
		`CREATE TRIGGER IF NOT EXISTS dispatch_records_append_only
BEFORE UPDATE ON dispatch_records
WHEN OLD.run_id_hint IS NOT NULL
  OR NEW.invocation_id IS NOT OLD.invocation_id
  OR NEW.attempt IS NOT OLD.attempt
  OR NEW.target_id IS NOT OLD.target_id
  OR NEW.correlation_id IS NOT OLD.correlation_id
  OR NEW.dispatched_at IS NOT OLD.dispatched_at
BEGIN
  SELECT RAISE(ABORT, 'dispatch records are append-only');
END;`,
		`CREATE TRIGGER IF NOT EXISTS dispatch_records_no_delete
BEFORE DELETE ON dispatch_records
BEGIN
  SELECT RAISE(ABORT, 'dispatch records are append-only');
END;`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	var hint any
	if rec.RunIDHint != nil {
		hint = *rec.RunIDHint
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_records (invocation_id, attempt, target_id, correlation_id, run_id_hint, dispatched_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (invocation_id, attempt, target_id) DO NOTHING;`,
		s.invocationID, s.attempt, rec.TargetID, rec.CorrelationID, hint, rec.DispatchedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite store: save %s: %w", rec.TargetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: save %s: %w", rec.TargetID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordExists, rec.TargetID)
	}
	return nil
}

func (s *SQLiteStore) SetHint(ctx context.Context, targetID string, runID int64) error {
	rec, err := s.Load(ctx, targetID)
	if err != nil {
		return err
	}
	changed, err := checkHint(rec, runID)
	if err != nil || !changed {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dispatch_records SET run_id_hint = ?
WHERE invocation_id = ? AND attempt = ? AND target_id = ? AND run_id_hint IS NULL;`,
		runID, s.invocationID, s.attempt, targetID)
	if err != nil {
		return fmt.Errorf("sqlite store: set hint %s: %w", targetID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost a race with another writer; report what it wrote.
		rec, err := s.Load(ctx, targetID)
		if err != nil {
			return err
		}
		_, err = checkHint(rec, runID)
		return err
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, targetID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT target_id, correlation_id, run_id_hint, dispatched_at FROM dispatch_records
WHERE invocation_id = ? AND attempt = ? AND target_id = ?;`, s.invocationID, s.attempt, targetID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, targetID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("sqlite store: load %s: %w", targetID, err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, correlation_id, run_id_hint, dispatched_at FROM dispatch_records
WHERE invocation_id = ? AND attempt = ? ORDER BY target_id;`, s.invocationID, s.attempt)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec  Record
		hint sql.NullInt64
		at   string
	)
	if err := sc.Scan(&rec.TargetID, &rec.CorrelationID, &hint, &at); err != nil {
		return Record{}, err
	}
	if hint.Valid {
		v := hint.Int64
		rec.RunIDHint = &v
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Record{}, fmt.Errorf("parse dispatched_at %q: %w", at, err)
	}
	rec.DispatchedAt = t
	return rec, nil
}
