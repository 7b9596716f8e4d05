// Package history keeps a log of protocol runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/op13/liquidplan/transfer"
)

// ErrNotFound is generated when no run has the requested ID
var ErrNotFound = errors.New("run not found")

// Run is one protocol run and its outcome
type Run struct {
	ID       string          `json:"id"`
	Protocol string          `json:"protocol"`
	Report   transfer.Report `json:"report"`
}

// Store is a run log backed by a SQLite file
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the log at path
func Open(path string) (*Store, error) {
	if path == "" {
		path = "liquidplan.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; sqlite serialises them anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		protocol TEXT NOT NULL,
		started INTEGER NOT NULL,
		ok INTEGER NOT NULL,
		report BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path
func (s *Store) Path() string { return s.path }

// Record adds a run to the log
func (s *Store) Record(ctx context.Context, r Run) error {
	data, err := json.Marshal(r.Report)
	if err != nil {
		return err
	}
	ok := 0
	if r.Report.Done() {
		ok = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id,protocol,started,ok,report) VALUES(?,?,?,?,?)`,
		r.ID, r.Protocol, r.Report.Started.UnixNano(), ok, data)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// Get returns one run
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, protocol, report FROM runs WHERE id = ?`, id)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// List returns up to limit runs, newest first.  limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, protocol, report FROM runs ORDER BY started DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []Run{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Since counts the runs started at or after t and how many of them failed
func (s *Store) Since(ctx context.Context, t time.Time) (total, failed int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(1 - ok), 0) FROM runs WHERE started >= ?`, t.UnixNano()).
		Scan(&total, &failed)
	return total, failed, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scan(sc scanner) (Run, error) {
	var (
		r    Run
		data []byte
	)
	if err := sc.Scan(&r.ID, &r.Protocol, &data); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal(data, &r.Report); err != nil {
		return Run{}, fmt.Errorf("decode run %s: %w", r.ID, err)
	}
	return r, nil
}
