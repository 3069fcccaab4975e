// Package history persists finished comparison runs in a SQLite file.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("history: run not found")

// timeLayout is fixed width so start times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	operation      TEXT NOT NULL,
	file1          TEXT NOT NULL,
	file2          TEXT NOT NULL,
	column1        TEXT NOT NULL,
	column2        TEXT NOT NULL,
	case_sensitive INTEGER NOT NULL,
	state          TEXT NOT NULL,
	rows1          INTEGER NOT NULL,
	rows2          INTEGER NOT NULL,
	result_rows    INTEGER NOT NULL,
	skipped_rows   INTEGER NOT NULL,
	summary        TEXT NOT NULL,
	error          TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	elapsed_ns     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// Run is one persisted comparison.
type Run struct {
	ID            string        `json:"id"`
	Operation     string        `json:"operation"`
	File1         string        `json:"file1"`
	File2         string        `json:"file2"`
	Column1       string        `json:"column1"`
	Column2       string        `json:"column2"`
	CaseSensitive bool          `json:"case_sensitive"`
	State         string        `json:"state"`
	Rows1         int64         `json:"rows1"`
	Rows2         int64         `json:"rows2"`
	ResultRows    int64         `json:"result_rows"`
	SkippedRows   int64         `json:"skipped_rows"`
	Summary       string        `json:"summary,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Elapsed       time.Duration `json:"elapsed"`
}

// NewID returns a fresh run identifier.
func NewID() string { return uuid.NewString() }

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")

	db, err := sql.Open("sqlite", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// one writer; SQLite serialises writes anyway
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record inserts r, replacing an earlier record with the same id.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, operation, file1, file2, column1, column2, case_sensitive, state,
			rows1, rows2, result_rows, skipped_rows, summary, error, started_at, elapsed_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Operation, r.File1, r.File2, r.Column1, r.Column2, r.CaseSensitive, r.State,
		r.Rows1, r.Rows2, r.ResultRows, r.SkippedRows, r.Summary, r.Error,
		r.StartedAt.UTC().Format(timeLayout), int64(r.Elapsed),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

const columns = `id, operation, file1, file2, column1, column2, case_sensitive, state,
	rows1, rows2, result_rows, skipped_rows, summary, error, started_at, elapsed_ns`

// Get returns the run with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r       Run
		started string
		elapsed int64
	)
	err := sc.Scan(&r.ID, &r.Operation, &r.File1, &r.File2, &r.Column1, &r.Column2, &r.CaseSensitive, &r.State,
		&r.Rows1, &r.Rows2, &r.ResultRows, &r.SkippedRows, &r.Summary, &r.Error, &started, &elapsed)
	if err != nil {
		return Run{}, err
	}
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("run %s: bad start time %q: %w", r.ID, started, err)
	}
	r.Elapsed = time.Duration(elapsed)
	return r, nil
}
