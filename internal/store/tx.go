package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/tapecell/undotx/internal/status"
)

// Rtx is one persisted logical transaction.
type Rtx struct {
	SerID      int64
	StrID      string
	OwnerID    string
	Summary    string
	Status     status.Status
	Ctime      float64
	CommitTime sql.NullFloat64
	LastCallID sql.NullInt64
}

// ErrDuplicateTx is returned by InsertRtx when the string id is
// already taken.
var ErrDuplicateTx = errors.New("store: transaction id already exists")

// ErrNoTx is returned when no transaction matches the requested id.
var ErrNoTx = errors.New("store: no such transaction")

const rtxColumns = "ser_id, str_id, owner_id, summary, status, ctime, commit_time, last_call_id"

func scanRtx(row interface{ Scan(...any) error }) (*Rtx, error) {
	var r Rtx
	var statusChar string
	var summary sql.NullString
	err := row.Scan(&r.SerID, &r.StrID, &r.OwnerID, &summary, &statusChar,
		&r.Ctime, &r.CommitTime, &r.LastCallID)
	if err != nil {
		return nil, err
	}
	r.Summary = summary.String
	if len(statusChar) != 1 {
		return nil, fmt.Errorf("store: malformed status %q for tx %d", statusChar, r.SerID)
	}
	r.Status, err = status.FromChar(statusChar[0])
	if err != nil {
		return nil, fmt.Errorf("store: tx %d: %w", r.SerID, err)
	}
	return &r, nil
}

// InsertRtx inserts a new transaction record and returns its serial
// id. A taken str_id yields ErrDuplicateTx.
func (s *Store) InsertRtx(ctx context.Context, strID, ownerID, summary string, st status.Status, ctime float64) (int64, error) {
	res, err := s.execer().ExecContext(ctx, `
		INSERT INTO tx (str_id, owner_id, summary, status, ctime)
		VALUES (?, ?, ?, ?, ?)
	`, strID, ownerID, summary, string(st.Char()), ctime)
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateTx, strID)
		}
		return 0, fmt.Errorf("store: insert tx: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert tx: last insert id: %w", err)
	}
	return id, nil
}

// GetRtx loads a transaction by string id. Returns ErrNoTx when
// absent.
func (s *Store) GetRtx(ctx context.Context, strID string) (*Rtx, error) {
	row := s.execer().QueryRowContext(ctx,
		`SELECT `+rtxColumns+` FROM tx WHERE str_id = ?`, strID)
	r, err := scanRtx(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNoTx, strID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: select tx: %w", err)
	}
	return r, nil
}

// GetRtxBySer loads a transaction by serial id.
func (s *Store) GetRtxBySer(ctx context.Context, serID int64) (*Rtx, error) {
	row := s.execer().QueryRowContext(ctx,
		`SELECT `+rtxColumns+` FROM tx WHERE ser_id = ?`, serID)
	r, err := scanRtx(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: #%d", ErrNoTx, serID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: select tx: %w", err)
	}
	return r, nil
}

// SetStatus updates a transaction's status, optionally clearing the
// resume marker. Returns the number of rows updated so callers can
// verify the write landed.
func (s *Store) SetStatus(ctx context.Context, serID int64, st status.Status, clearLastCall bool) (int64, error) {
	var res sql.Result
	var err error
	if clearLastCall {
		res, err = s.execer().ExecContext(ctx,
			`UPDATE tx SET status = ?, last_call_id = NULL WHERE ser_id = ?`,
			string(st.Char()), serID)
	} else {
		res, err = s.execer().ExecContext(ctx,
			`UPDATE tx SET status = ? WHERE ser_id = ?`,
			string(st.Char()), serID)
	}
	if err != nil {
		return 0, fmt.Errorf("store: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: update status: rows affected: %w", err)
	}
	return n, nil
}

// SetCommitTime records the commit time of a transaction.
func (s *Store) SetCommitTime(ctx context.Context, serID int64, t float64) error {
	if _, err := s.execer().ExecContext(ctx,
		`UPDATE tx SET commit_time = ? WHERE ser_id = ?`, t, serID); err != nil {
		return fmt.Errorf("store: update commit time: %w", err)
	}
	return nil
}

// SetLastCall advances the resume marker to the id of the call that
// just completed. Both placeholders are bound.
func (s *Store) SetLastCall(ctx context.Context, serID, callID int64) error {
	if _, err := s.execer().ExecContext(ctx,
		`UPDATE tx SET last_call_id = ? WHERE ser_id = ?`, callID, serID); err != nil {
		return fmt.Errorf("store: update last call id: %w", err)
	}
	return nil
}

// ListFilter narrows ListRtx results. Zero values mean no filtering.
type ListFilter struct {
	StrID    string
	Statuses []status.Status
}

// ListRtx enumerates transactions ordered by (ctime, ser_id)
// ascending.
func (s *Store) ListRtx(ctx context.Context, filter ListFilter) ([]*Rtx, error) {
	q := `SELECT ` + rtxColumns + ` FROM tx`
	var conds []string
	var args []any
	if filter.StrID != "" {
		conds = append(conds, "str_id = ?")
		args = append(args, filter.StrID)
	}
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			ph[i] = "?"
			args = append(args, string(st.Char()))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY ctime ASC, ser_id ASC"

	rows, err := s.execer().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tx: %w", err)
	}
	defer rows.Close()

	var out []*Rtx
	for rows.Next() {
		r, err := scanRtx(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list tx: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list tx: %w", err)
	}
	return out, nil
}

// ListTransient enumerates transactions stuck in the given transient
// states, most recent first. Recovery drives each of them to a
// terminal state.
func (s *Store) ListTransient(ctx context.Context, statuses []status.Status) ([]*Rtx, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	ph := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		ph[i] = "?"
		args[i] = string(st.Char())
	}
	rows, err := s.execer().QueryContext(ctx,
		`SELECT `+rtxColumns+` FROM tx WHERE status IN (`+strings.Join(ph, ", ")+`)
		 ORDER BY ctime DESC, ser_id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list transient tx: %w", err)
	}
	defer rows.Close()

	var out []*Rtx
	for rows.Next() {
		r, err := scanRtx(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list transient tx: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list transient tx: %w", err)
	}
	return out, nil
}

// LatestCommitted returns the most recently committed transaction:
// status C, newest commit_time, serial id as tiebreak. Returns ErrNoTx
// when there is none.
func (s *Store) LatestCommitted(ctx context.Context) (*Rtx, error) {
	row := s.execer().QueryRowContext(ctx,
		`SELECT `+rtxColumns+` FROM tx WHERE status = ?
		 ORDER BY commit_time DESC, ser_id DESC LIMIT 1`,
		string(status.Committed.Char()))
	r, err := scanRtx(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoTx
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest committed: %w", err)
	}
	return r, nil
}

// EarliestUndone returns the earliest undone transaction: status U,
// oldest commit_time, serial id as tiebreak. Returns ErrNoTx when
// there is none.
func (s *Store) EarliestUndone(ctx context.Context) (*Rtx, error) {
	row := s.execer().QueryRowContext(ctx,
		`SELECT `+rtxColumns+` FROM tx WHERE status = ?
		 ORDER BY commit_time ASC, ser_id ASC LIMIT 1`,
		string(status.Undone.Char()))
	r, err := scanRtx(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoTx
	}
	if err != nil {
		return nil, fmt.Errorf("store: earliest undone: %w", err)
	}
	return r, nil
}

// DeleteRtx removes a transaction record. Its call rows go with it
// via the foreign key cascade.
func (s *Store) DeleteRtx(ctx context.Context, serID int64) error {
	if _, err := s.execer().ExecContext(ctx,
		`DELETE FROM tx WHERE ser_id = ?`, serID); err != nil {
		return fmt.Errorf("store: delete tx: %w", err)
	}
	return nil
}
