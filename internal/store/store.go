package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1-3 - Historical layouts, no longer readable.
// 4   - Current layout: tx / call / undo_call / _meta.
const currentSchemaVersion = 4

// Filenames inside the data directory.
const (
	dbFile    = "tx.db"
	lockFile  = "tx.db.lck" // sidecar, never the db file itself
	trashRoot = ".trash"
	tmpRoot   = ".tmp"
)

// ErrSchemaTooOld is the one non-recoverable initialization failure:
// the database was written by an older layout and silently upgrading
// would destroy user data. The operator must migrate or downgrade.
type ErrSchemaTooOld struct {
	Found int
}

func (e *ErrSchemaTooOld) Error() string {
	return fmt.Sprintf(
		"store: database schema version %d is too old (need %d); migrate the data directory or use an older release",
		e.Found, currentSchemaVersion)
}

// Store persists transaction records and their call logs in SQLite.
// It also owns the SQL-level transaction boundary used by the request
// wrapper.
//
// A Store is bound to one data directory and is not safe for
// concurrent use; cross-process access is serialized by the file lock
// one level up.
type Store struct {
	db  *sql.DB
	dir string

	// tx is the currently open SQL-level transaction, nil when in
	// autocommit mode.
	tx *sql.Tx

	// lastCtime guarantees strictly increasing insertion times within
	// one process even when the clock resolution ties.
	lastCtime float64
}

// Open creates or opens the store in the given data directory,
// creating the directory and its trash/tmp subdirectories as needed.
//
// The database is configured with WAL mode, NORMAL synchronous mode,
// a 5-second busy timeout, and foreign key enforcement. Opening an
// existing database with a schema version older than the current one
// fails with ErrSchemaTooOld.
func Open(dir string) (*Store, error) {
	for _, d := range []string{dir, filepath.Join(dir, trashRoot), filepath.Join(dir, tmpRoot)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", d, err)
		}
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also
	// keeps the SQL-level transaction bound to one session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if err := checkSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, dir: dir}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dir returns the data directory the store was opened on.
func (s *Store) Dir() string {
	return s.dir
}

// LockPath returns the lock sidecar path for this data directory.
func (s *Store) LockPath() string {
	return filepath.Join(s.dir, lockFile)
}

// TrashDir returns the per-transaction trash directory, creating it
// on first use.
func (s *Store) TrashDir(serID int64) (string, error) {
	return s.ensureDir(trashRoot, serID)
}

// TmpDir returns the per-transaction tmp directory, creating it on
// first use.
func (s *Store) TmpDir(serID int64) (string, error) {
	return s.ensureDir(tmpRoot, serID)
}

func (s *Store) ensureDir(root string, serID int64) (string, error) {
	dir := filepath.Join(s.dir, root, strconv.FormatInt(serID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create %s: %w", dir, err)
	}
	return dir, nil
}

// RemoveScratchDirs deletes the per-transaction trash and tmp
// directories, if any. Used when a transaction is discarded.
func (s *Store) RemoveScratchDirs(serID int64) error {
	for _, root := range []string{trashRoot, tmpRoot} {
		dir := filepath.Join(s.dir, root, strconv.FormatInt(serID, 10))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("store: remove %s: %w", dir, err)
		}
	}
	return nil
}

// Now returns the current time as floating-point seconds since the
// epoch, bumped by an epsilon when the clock would tie with the
// previous insertion. Callers rely on ctime being strictly increasing
// per insertion within a batch so that (ctime, id) totally orders the
// call log.
func (s *Store) Now() float64 {
	t := float64(time.Now().UnixNano()) / 1e9
	if t <= s.lastCtime {
		t = s.lastCtime + 1e-6
	}
	s.lastCtime = t
	return t
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// checkSchemaVersion reads the version from _meta, inserting the
// current one into a fresh database. Versions older than the current
// layout are fatal.
func checkSchemaVersion(db *sql.DB) error {
	var raw string
	err := db.QueryRow(`SELECT value FROM _meta WHERE name = 'v'`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec(`INSERT INTO _meta (name, value) VALUES ('v', ?)`,
			strconv.Itoa(currentSchemaVersion)); err != nil {
			return fmt.Errorf("store: record schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("store: read schema version: %w", err)
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("store: schema version %q is not an integer: %w", raw, err)
	}
	if v < currentSchemaVersion {
		return &ErrSchemaTooOld{Found: v}
	}
	return nil
}
