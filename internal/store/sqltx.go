package store

import (
	"context"
	"database/sql"
	"fmt"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting store
// methods run inside the wrapper's SQL transaction when one is open
// and in autocommit mode otherwise.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Begin opens a SQL-level transaction. Beginning while one is already
// open is an error; the wrapper owns the boundary and never nests.
func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return fmt.Errorf("store: sql transaction already open")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open SQL-level transaction. A commit with no
// open transaction is a no-op; the call loop deliberately ends the
// wrapper's transaction early, and the wrapper's own commit must then
// do nothing.
func (s *Store) Commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Rollback rolls back the open SQL-level transaction; a no-op when
// none is open.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("store: rollback: %w", err)
	}
	return nil
}

// InTx reports whether a SQL-level transaction is open.
func (s *Store) InTx() bool {
	return s.tx != nil
}
