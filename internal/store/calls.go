package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Table selects one of the two structurally identical call logs.
type Table int

const (
	// CallTable holds forward calls (and, after an undo, the redo
	// program).
	CallTable Table = iota
	// UndoCallTable holds inverse calls recorded via dry-run probes.
	UndoCallTable
)

// Opposite returns the other call log.
func (t Table) Opposite() Table {
	if t == CallTable {
		return UndoCallTable
	}
	return CallTable
}

func (t Table) name() string {
	if t == CallTable {
		return "call"
	}
	return "undo_call"
}

// String returns the SQL table name.
func (t Table) String() string {
	return t.name()
}

// CallRow is one persisted call record.
type CallRow struct {
	ID      int64
	TxSerID int64
	SP      sql.NullString
	Ctime   float64
	F       string
	Args    string
}

// InsertCall appends a call record and returns its id. sp carries the
// optional savepoint label; pass nil for none.
func (s *Store) InsertCall(ctx context.Context, table Table, txSerID int64, sp *string, ctime float64, f, args string) (int64, error) {
	res, err := s.execer().ExecContext(ctx,
		`INSERT INTO `+table.name()+` (tx_ser_id, sp, ctime, f, args) VALUES (?, ?, ?, ?, ?)`,
		txSerID, sp, ctime, f, args)
	if err != nil {
		return 0, fmt.Errorf("store: insert into %s: %w", table.name(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert into %s: last insert id: %w", table.name(), err)
	}
	return id, nil
}

// SelectCalls reads a transaction's program from one call log,
// ordered by (ctime, id) and reversed on request.
//
// When afterLast is set, rows already processed are skipped relative
// to that resume marker: reversed processing keeps rows with
// ctime <= ctime(afterLast), forward processing keeps ctime >=, and
// in both directions the marker row itself is excluded. The marker
// points at the last completed call, so execution resumes strictly
// past it.
func (s *Store) SelectCalls(ctx context.Context, table Table, txSerID int64, reversed bool, afterLast *int64) ([]CallRow, error) {
	q := `SELECT id, tx_ser_id, sp, ctime, f, args FROM ` + table.name() + ` WHERE tx_ser_id = ?`
	args := []any{txSerID}

	if afterLast != nil {
		var markCtime float64
		err := s.execer().QueryRowContext(ctx,
			`SELECT ctime FROM `+table.name()+` WHERE id = ?`, *afterLast).Scan(&markCtime)
		switch {
		case err == sql.ErrNoRows:
			// Marker points outside this table; no filtering applies.
		case err != nil:
			return nil, fmt.Errorf("store: select %s: resume marker: %w", table.name(), err)
		default:
			if reversed {
				q += " AND ctime <= ? AND id != ?"
			} else {
				q += " AND ctime >= ? AND id != ?"
			}
			args = append(args, markCtime, *afterLast)
		}
	}

	if reversed {
		q += " ORDER BY ctime DESC, id DESC"
	} else {
		q += " ORDER BY ctime ASC, id ASC"
	}

	rows, err := s.execer().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: select %s: %w", table.name(), err)
	}
	defer rows.Close()

	var out []CallRow
	for rows.Next() {
		var r CallRow
		if err := rows.Scan(&r.ID, &r.TxSerID, &r.SP, &r.Ctime, &r.F, &r.Args); err != nil {
			return nil, fmt.Errorf("store: select %s: %w", table.name(), err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: select %s: %w", table.name(), err)
	}
	return out, nil
}

// DeleteCalls removes all of a transaction's rows from one call log.
func (s *Store) DeleteCalls(ctx context.Context, table Table, txSerID int64) error {
	if _, err := s.execer().ExecContext(ctx,
		`DELETE FROM `+table.name()+` WHERE tx_ser_id = ?`, txSerID); err != nil {
		return fmt.Errorf("store: delete from %s: %w", table.name(), err)
	}
	return nil
}

// CountCalls returns the number of rows a transaction has in one call
// log.
func (s *Store) CountCalls(ctx context.Context, table Table, txSerID int64) (int, error) {
	var n int
	err := s.execer().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table.name()+` WHERE tx_ser_id = ?`, txSerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count %s: %w", table.name(), err)
	}
	return n, nil
}
