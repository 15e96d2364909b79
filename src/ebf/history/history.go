// Package history keeps a local ledger of past builds in SQLite, so
// `ebf history` can answer what was built, from which commit, and how
// it ended.
package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/common/logs"
	"github.com/bitswalk/ebf/src/common/paths"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the history package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Entry is one recorded build
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target"`
	Arch      string    `json:"arch,omitempty"`
	Ref       string    `json:"ref"`
	Commit    string    `json:"commit,omitempty"`
	State     string    `json:"state"`
	Degraded  bool      `json:"degraded"`
	Toolchain string    `json:"toolchain,omitempty"`
	OutputDir string    `json:"output_dir,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Duration returns how long the build ran
func (e Entry) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}

// Store is the SQLite-backed build ledger
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the ledger at the given path
func Open(path string) (*Store, error) {
	path = paths.Expand(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.ErrDatabaseConnection.WithMessagef("cannot create directory for %s", path).WithCause(err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.ErrDatabaseConnection.WithMessagef("cannot open ledger %s", path).WithCause(err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.ErrDatabaseConnection.WithMessage("cannot enable WAL").WithCause(err)
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close flushes and closes the ledger
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the ledger file location
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		target TEXT NOT NULL,
		arch TEXT,
		ref TEXT NOT NULL,
		commit_hash TEXT,
		state TEXT NOT NULL,
		degraded INTEGER NOT NULL DEFAULT 0,
		toolchain TEXT,
		output_dir TEXT,
		error_message TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_builds_target ON builds(target);
	CREATE INDEX IF NOT EXISTS idx_builds_created ON builds(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.ErrDatabaseQuery.WithMessage("schema initialization failed").WithCause(err)
	}
	return nil
}

// Add records a build. A missing ID is generated.
func (s *Store) Add(e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now()

	_, err := s.db.Exec(`
		INSERT INTO builds (id, kind, target, arch, ref, commit_hash, state,
			degraded, toolchain, output_dir, error_message, started_at, ended_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Target, e.Arch, e.Ref, e.Commit, e.State,
		e.Degraded, e.Toolchain, e.OutputDir, e.Error, e.StartedAt, e.EndedAt, e.CreatedAt,
	)
	if err != nil {
		return errors.ErrDatabaseQuery.WithMessage("recording build failed").WithCause(err)
	}
	log.Debug("Build recorded", "id", e.ID, "target", e.Target, "state", e.State)
	return nil
}

const selectBuilds = `
	SELECT id, kind, target, arch, ref, commit_hash, state,
		degraded, toolchain, output_dir, error_message, started_at, ended_at, created_at
	FROM builds
`

// Get retrieves a build by ID
func (s *Store) Get(id string) (*Entry, error) {
	row := s.db.QueryRow(selectBuilds+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDatabaseQuery.WithMessagef("build %s not found", id)
	}
	return e, err
}

// List returns the most recent builds, newest first
func (s *Store) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(selectBuilds+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.ErrDatabaseQuery.WithMessage("listing builds failed").WithCause(err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByTarget returns the most recent builds of one target, newest first
func (s *Store) ListByTarget(target string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(selectBuilds+` WHERE target = ? ORDER BY created_at DESC LIMIT ?`, target, limit)
	if err != nil {
		return nil, errors.ErrDatabaseQuery.WithMessage("listing builds failed").WithCause(err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Prune drops entries older than the cutoff, returning how many went away
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM builds WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, errors.ErrDatabaseQuery.WithMessage("pruning builds failed").WithCause(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Kind, &e.Target, &e.Arch, &e.Ref, &e.Commit, &e.State,
		&e.Degraded, &e.Toolchain, &e.OutputDir, &e.Error, &e.StartedAt, &e.EndedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.ErrDatabaseQuery.WithMessage("scanning build row failed").WithCause(err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrDatabaseQuery.WithMessage("iterating build rows failed").WithCause(err)
	}
	return entries, nil
}
