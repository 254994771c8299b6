// ============================================================================
// splice Last-Run Store
// ============================================================================
//
// Package: internal/lastrun
// File: lastrun.go
// Purpose: Persist recorded build/test command runs in SQLite so `fix` jobs
//          can quote the most recent output.
//
// `splice exec -- <cmd>` records runs; the context gatherer reads Last().
// Output columns are stored already bounded by the recorder.
// ============================================================================

package lastrun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChuLiYu/splice/internal/prompt"
)

// ErrNoRun is returned by Last when nothing has been recorded.
var ErrNoRun = errors.New("lastrun: no recorded run")

// Run is one recorded command execution.
type Run struct {
	ID         int64
	Command    string
	Dir        string
	ExitCode   int
	Stdout     string
	Stderr     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the command ran.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Output converts the run into the prompt layer.
func (r Run) Output() *prompt.RunOutput {
	return &prompt.RunOutput{
		Command:  r.Command,
		ExitCode: r.ExitCode,
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		Duration: r.Duration(),
	}
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("lastrun: create dir: %w", err)
		}
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("lastrun: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		command     TEXT    NOT NULL,
		dir         TEXT    NOT NULL DEFAULT '',
		exit_code   INTEGER NOT NULL,
		stdout      TEXT    NOT NULL DEFAULT '',
		stderr      TEXT    NOT NULL DEFAULT '',
		started_at  INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS runs_finished ON runs(finished_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("lastrun: create tables: %w", err)
	}
	return nil
}

// Record stores a run and returns its id.
func (s *Store) Record(ctx context.Context, r Run) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (command, dir, exit_code, stdout, stderr, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Command, r.Dir, r.ExitCode, r.Stdout, r.Stderr,
		r.StartedAt.UnixNano(), r.FinishedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("lastrun: record: %w", err)
	}
	return res.LastInsertId()
}

// Last returns the most recently recorded run.
func (s *Store) Last(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, command, dir, exit_code, stdout, stderr, started_at, finished_at
		 FROM runs ORDER BY id DESC LIMIT 1`)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRun
	}
	return r, err
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, dir, exit_code, stdout, stderr, started_at, finished_at
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("lastrun: query: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep runs and returns how many were deleted.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("lastrun: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (Run, error) {
	var (
		r                 Run
		started, finished int64
	)
	if err := sc.Scan(&r.ID, &r.Command, &r.Dir, &r.ExitCode, &r.Stdout, &r.Stderr, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("lastrun: scan: %w", err)
	}
	r.StartedAt = time.Unix(0, started)
	r.FinishedAt = time.Unix(0, finished)
	return r, nil
}
