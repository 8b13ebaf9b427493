package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tapecell/undotx/internal/flock"
	"github.com/tapecell/undotx/internal/fnreg"
	"github.com/tapecell/undotx/internal/store"
)

// Quotas are retention limits for finished transactions. They are
// accepted and kept for forward compatibility but not enforced;
// cleanup currently only completes interrupted operations.
type Quotas struct {
	MaxTxs          int
	MaxOpenTxs      int
	MaxCommittedTxs int
	MaxOpenAge      time.Duration
	MaxCommittedAge time.Duration
}

// Options configures a Manager.
type Options struct {
	// DataDir is the directory holding the database, the lock sidecar
	// and the per-transaction scratch directories. Defaults to
	// $HOME/.undotx.
	DataDir string

	// Registry resolves function names for the call loop. Defaults to
	// an empty registry, which is enough for inspection-only use.
	Registry fnreg.Registry

	// Logger receives recovery diagnostics. Defaults to a discard
	// logger.
	Logger *slog.Logger

	// LockRetries overrides the lock acquisition backoff schedule.
	LockRetries []time.Duration

	// KeepInProgress leaves in-progress transactions alone during
	// startup recovery. By default they are treated as abandoned and
	// rolled back, since the process that opened them is gone. Tools
	// that intentionally span several short-lived processes over one
	// data directory set this.
	KeepInProgress bool

	Quotas Quotas
}

// Manager is the local transaction and undo/redo manager. It wraps
// calls to transactional functions in a durable envelope: each call is
// paired with an undo call obtained from the function via a dry-run
// probe, and both sequences persist so that a running transaction can
// be rolled back, a committed one undone, and an undone one redone.
//
// Construction is the recovery path: transactions left mid-operation
// by a crash are driven to a terminal state before New returns.
//
// A Manager is single-threaded; cross-process access to one data
// directory is serialized through the file lock.
type Manager struct {
	store *store.Store
	lock  *flock.Lock
	reg   fnreg.Registry
	log   *slog.Logger
	opts  Options

	// cur is the transaction loaded by the current (or most recent)
	// request. The scratch-directory operations act on it.
	cur *store.Rtx

	// defaultTxID is the sticky default target: the transaction of
	// the last successful begin.
	defaultTxID string

	// inRollback guards against rollback recursion. While set, nested
	// calls are permitted without undo recording and nested rollback
	// requests are ignored.
	inRollback bool

	// now is the request timestamp recorded by the wrapper.
	now float64
}

// New opens the data directory and returns a ready manager. Any
// transaction found aborting, undoing or redoing (and, unless
// KeepInProgress is set, in progress) is rolled back first; errors
// from individual recoveries are logged, not fatal. Transactions
// aborting an undo or a redo are not picked up. Besides I/O errors and
// a recovery lock that cannot be acquired, the only fatal
// initialization failure is a database written by an older schema
// version.
func New(opts Options) (*Manager, error) {
	if opts.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("manager: resolve home directory: %w", err)
		}
		opts.DataDir = filepath.Join(home, ".undotx")
	}
	if opts.Registry == nil {
		opts.Registry = fnreg.NewMemRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	st, err := store.Open(opts.DataDir)
	if err != nil {
		return nil, err
	}

	var lk *flock.Lock
	if len(opts.LockRetries) > 0 {
		lk = flock.NewWithRetries(st.LockPath(), opts.LockRetries)
	} else {
		lk = flock.New(st.LockPath())
	}

	m := &Manager{
		store: st,
		lock:  lk,
		reg:   opts.Registry,
		log:   opts.Logger,
		opts:  opts,
	}

	if err := m.Recover(context.Background()); err != nil {
		st.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the manager's resources. Pending SQL transactions
// are rolled back.
func (m *Manager) Close() error {
	m.store.Rollback()
	return m.store.Close()
}

// DataDir returns the data directory the manager operates on.
func (m *Manager) DataDir() string {
	return m.store.Dir()
}
