// Package flock provides the advisory file lock that serializes
// cross-process access to one data directory.
//
// The lock lives on a sidecar path beside the database file, never on
// the database file itself, so it cannot collide with SQLite's own
// OS-level locks. Routine operations take the lock shared; recovery
// takes it exclusive.
package flock

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultRetries is the linear backoff schedule applied between
// non-blocking acquisition attempts. It sums to 15 seconds.
var DefaultRetries = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	4 * time.Second,
	5 * time.Second,
}

// ErrBusy is returned when the lock cannot be acquired within the
// retry schedule. A long-held exclusive lock usually means another
// process is running recovery.
var ErrBusy = errors.New("flock: lock busy, recovery probably in progress")

// Lock is an advisory lock on a sidecar file. A Lock is reentrant
// within one manager: nested acquisitions by the same instance only
// bump a depth counter. It is not safe for concurrent use from
// multiple goroutines.
type Lock struct {
	path    string
	retries []time.Duration
	f       *os.File
	depth   int
}

// New creates a lock on path using the default retry schedule.
func New(path string) *Lock {
	return &Lock{path: path, retries: DefaultRetries}
}

// NewWithRetries creates a lock with a custom backoff schedule.
func NewWithRetries(path string, retries []time.Duration) *Lock {
	return &Lock{path: path, retries: retries}
}

// Acquire takes the lock, shared or exclusive. Attempts are
// non-blocking; on contention it sleeps through the retry schedule
// before giving up with ErrBusy. A nested Acquire on an already-held
// lock succeeds immediately regardless of mode.
func (l *Lock) Acquire(shared bool) error {
	if l.depth > 0 {
		l.depth++
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("flock: open %s: %w", l.path, err)
	}

	if err := l.tryWithRetries(f, shared); err != nil {
		f.Close()
		return err
	}

	l.f = f
	l.depth = 1
	return nil
}

func (l *Lock) tryWithRetries(f *os.File, shared bool) error {
	if err := tryLock(f, shared); err == nil {
		return nil
	} else if !isContention(err) {
		return fmt.Errorf("flock: %s: %w", l.path, err)
	}
	for _, wait := range l.retries {
		time.Sleep(wait)
		if err := tryLock(f, shared); err == nil {
			return nil
		} else if !isContention(err) {
			return fmt.Errorf("flock: %s: %w", l.path, err)
		}
	}
	return ErrBusy
}

// Release drops one level of acquisition. The OS lock is released when
// the outermost acquisition is released. Releasing an unheld lock is a
// no-op.
func (l *Lock) Release() error {
	if l.depth == 0 {
		return nil
	}
	l.depth--
	if l.depth > 0 {
		return nil
	}
	err := unlock(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("flock: release %s: %w", l.path, err)
	}
	return closeErr
}

// Held reports whether the lock is currently held by this instance.
func (l *Lock) Held() bool {
	return l.depth > 0
}
