package manager

import (
	"context"
	"errors"

	"github.com/tapecell/undotx/internal/envelope"
	"github.com/tapecell/undotx/internal/fnreg"
	"github.com/tapecell/undotx/internal/status"
	"github.com/tapecell/undotx/internal/store"
)

// BeginRequest starts a new transaction.
type BeginRequest struct {
	// TxID is the caller-chosen identity, 1..200 characters, unique
	// across all transactions ever recorded.
	TxID string

	// Summary is free text describing the transaction.
	Summary string

	// ClientToken identifies the owner. Optional.
	ClientToken string
}

// Begin inserts a new in-progress transaction. A taken id yields 409.
// The new transaction becomes the sticky default target for
// operations that omit the id.
func (m *Manager) Begin(ctx context.Context, req BeginRequest) envelope.Response {
	return m.wrap(ctx, wrapOpts{txID: req.TxID, cleanup: true}, func(ctx context.Context, txID string) envelope.Response {
		serID, err := m.store.InsertRtx(ctx, txID, req.ClientToken, req.Summary, status.InProgress, m.now)
		if errors.Is(err, store.ErrDuplicateTx) {
			// The existing record belongs to someone else; leave the
			// SQL transaction alone.
			return envelope.Newf(envelope.CodeConflict, "transaction %s already exists", txID).
				WithExtra(envelope.ExtraRollback, false)
		}
		if err != nil {
			return envelope.Newf(envelope.CodeEnvironment, "cannot insert transaction: %v", err)
		}
		rtx, err := m.store.GetRtxBySer(ctx, serID)
		if err != nil {
			return envelope.Newf(envelope.CodeEnvironment, "cannot reload transaction: %v", err)
		}
		m.cur = rtx
		m.defaultTxID = txID
		return envelope.OK()
	})
}

// CallRequest performs one or more transactional calls.
type CallRequest struct {
	// TxID targets a transaction; empty falls back to the sticky
	// default.
	TxID string

	// F and Args specify a single call. Mutually exclusive with
	// Calls.
	F    string
	Args map[string]any

	// Calls specifies a batch.
	Calls []fnreg.CallSpec

	// DryRun probes the first call for its undo data without causing
	// side effects or recording anything.
	DryRun bool
}

// Call drives the call loop in call mode. Permitted while the
// transaction is in progress, or in any transient state when the
// manager is itself executing a rollback and the running function
// calls back in.
func (m *Manager) Call(ctx context.Context, req CallRequest) envelope.Response {
	calls := req.Calls
	if req.F != "" {
		calls = append([]fnreg.CallSpec{{F: req.F, Args: req.Args}}, calls...)
	}
	if len(calls) == 0 {
		return envelope.New(envelope.CodeBadRequest, "no calls given")
	}

	permitted := []status.Status{status.InProgress}
	if m.inRollback {
		permitted = []status.Status{
			status.InProgress, status.Aborting, status.Undoing,
			status.Redoing, status.AbortingUndo, status.AbortingRedo,
		}
	}

	return m.wrap(ctx, wrapOpts{txID: req.TxID, useSticky: true, loadTx: true, statuses: permitted},
		func(ctx context.Context, txID string) envelope.Response {
			return m.runLoop(ctx, loopCall, calls, req.DryRun, "")
		})
}

// Commit finishes an in-progress transaction: its forward log is
// dropped and only the inverse program is kept for a later undo. A
// transaction stuck aborting is rolled back instead.
func (m *Manager) Commit(ctx context.Context, txID string) envelope.Response {
	permitted := []status.Status{status.InProgress, status.Aborting}
	return m.wrap(ctx, wrapOpts{txID: txID, useSticky: true, loadTx: true, statuses: permitted},
		func(ctx context.Context, txID string) envelope.Response {
			if m.cur.Status == status.Aborting {
				resp := m.internalRollback(ctx)
				if !resp.Success() {
					return resp
				}
				return envelope.New(envelope.CodeOK, "Rolled back")
			}
			if err := m.store.DeleteCalls(ctx, store.CallTable, m.cur.SerID); err != nil {
				return envelope.Newf(envelope.CodeEnvironment, "cannot drop call log: %v", err)
			}
			if _, err := m.store.SetStatus(ctx, m.cur.SerID, status.Committed, true); err != nil {
				return envelope.Newf(envelope.CodeEnvironment, "cannot set status: %v", err)
			}
			if err := m.store.SetCommitTime(ctx, m.cur.SerID, m.now); err != nil {
				return envelope.Newf(envelope.CodeEnvironment, "cannot set commit time: %v", err)
			}
			m.cur.Status = status.Committed
			return envelope.OK()
		})
}

// Rollback aborts an in-progress transaction, or an undo or redo that
// is underway. Rolling back an already-terminal transaction is a
// no-op, except an inconsistent one, which can only be discarded. The
// sp argument names a savepoint and is reserved.
func (m *Manager) Rollback(ctx context.Context, txID, sp string) envelope.Response {
	if sp != "" {
		return envelope.New(envelope.CodeNotImpl, "rollback to savepoint not implemented")
	}
	return m.wrap(ctx, wrapOpts{txID: txID, useSticky: true, loadTx: true},
		func(ctx context.Context, txID string) envelope.Response {
			if _, _, ok := status.RollbackPlan(m.cur.Status); !ok {
				if m.cur.Status == status.Inconsistent {
					return envelope.Newf(envelope.CodeWrongStatus,
						"transaction %s is inconsistent; discard it", txID)
				}
				return envelope.Newf(envelope.CodeNoChange,
					"transaction %s already %s", txID, m.cur.Status)
			}
			resp := m.internalRollback(ctx)
			if !resp.Success() {
				return resp
			}
			return envelope.New(envelope.CodeOK, "Rolled back")
		})
}

// Undo reverses a committed transaction by executing its recorded
// inverse program. With no id, the most recently committed
// transaction is picked; 412 when there is none.
func (m *Manager) Undo(ctx context.Context, txID string) envelope.Response {
	pick := func(ctx context.Context) (string, envelope.Response) {
		rtx, err := m.store.LatestCommitted(ctx)
		if errors.Is(err, store.ErrNoTx) {
			return "", envelope.New(envelope.CodePrecondition, "no committed transaction to undo")
		}
		if err != nil {
			return "", envelope.Newf(envelope.CodeEnvironment, "cannot pick undo candidate: %v", err)
		}
		return rtx.StrID, envelope.OK()
	}
	o := wrapOpts{txID: txID, loadTx: true, statuses: []status.Status{status.Committed}}
	if txID == "" {
		o.pick = pick
	}
	return m.wrap(ctx, o, func(ctx context.Context, txID string) envelope.Response {
		return m.runLoop(ctx, loopUndo, nil, false, "")
	})
}

// Redo re-applies an undone transaction by executing the forward
// program accumulated during its undo. With no id, the earliest
// undone transaction is picked; 412 when there is none.
func (m *Manager) Redo(ctx context.Context, txID string) envelope.Response {
	pick := func(ctx context.Context) (string, envelope.Response) {
		rtx, err := m.store.EarliestUndone(ctx)
		if errors.Is(err, store.ErrNoTx) {
			return "", envelope.New(envelope.CodePrecondition, "no undone transaction to redo")
		}
		if err != nil {
			return "", envelope.Newf(envelope.CodeEnvironment, "cannot pick redo candidate: %v", err)
		}
		return rtx.StrID, envelope.OK()
	}
	o := wrapOpts{txID: txID, loadTx: true, statuses: []status.Status{status.Undone}}
	if txID == "" {
		o.pick = pick
	}
	return m.wrap(ctx, o, func(ctx context.Context, txID string) envelope.Response {
		return m.runLoop(ctx, loopRedo, nil, false, "")
	})
}

// TxRecord is the detailed list entry.
type TxRecord struct {
	SerID      int64   `json:"ser_id"`
	TxID       string  `json:"tx_id"`
	OwnerID    string  `json:"owner_id,omitempty"`
	Summary    string  `json:"summary,omitempty"`
	Status     string  `json:"tx_status"`
	Ctime      float64 `json:"ctime"`
	CommitTime float64 `json:"commit_time,omitempty"`
}

// ListRequest filters List.
type ListRequest struct {
	TxID     string
	Statuses []status.Status
	Detail   bool
}

// List enumerates transactions ordered by creation. The payload is a
// list of ids, or of TxRecord with Detail set.
func (m *Manager) List(ctx context.Context, req ListRequest) envelope.Response {
	return m.wrap2(ctx, func(ctx context.Context) envelope.Response {
		txs, err := m.store.ListRtx(ctx, store.ListFilter{StrID: req.TxID, Statuses: req.Statuses})
		if err != nil {
			return envelope.Newf(envelope.CodeEnvironment, "cannot list transactions: %v", err)
		}
		if !req.Detail {
			ids := make([]string, 0, len(txs))
			for _, t := range txs {
				ids = append(ids, t.StrID)
			}
			return envelope.OK().WithPayload(ids)
		}
		recs := make([]TxRecord, 0, len(txs))
		for _, t := range txs {
			recs = append(recs, toRecord(t))
		}
		return envelope.OK().WithPayload(recs)
	})
}

func toRecord(t *store.Rtx) TxRecord {
	r := TxRecord{
		SerID:   t.SerID,
		TxID:    t.StrID,
		OwnerID: t.OwnerID,
		Summary: t.Summary,
		Status:  string(t.Status.Char()),
		Ctime:   t.Ctime,
	}
	if t.CommitTime.Valid {
		r.CommitTime = t.CommitTime.Float64
	}
	return r
}

// discardable are the statuses a transaction may be discarded from.
var discardable = []status.Status{status.Committed, status.Undone, status.Inconsistent}

// Discard forgets a finished transaction: its record, call logs and
// scratch directories are removed. Only committed, undone or
// inconsistent transactions can be discarded.
func (m *Manager) Discard(ctx context.Context, txID string) envelope.Response {
	return m.wrap(ctx, wrapOpts{txID: txID, useSticky: true, loadTx: true, statuses: discardable},
		func(ctx context.Context, txID string) envelope.Response {
			if err := m.store.DeleteRtx(ctx, m.cur.SerID); err != nil {
				return envelope.Newf(envelope.CodeEnvironment, "cannot delete transaction: %v", err)
			}
			if err := m.store.RemoveScratchDirs(m.cur.SerID); err != nil {
				return envelope.Newf(envelope.CodeEnvironment, "cannot remove scratch dirs: %v", err)
			}
			m.cur = nil
			return envelope.OK()
		})
}

// DiscardAll discards every committed, undone or inconsistent
// transaction. The payload lists the discarded ids.
func (m *Manager) DiscardAll(ctx context.Context) envelope.Response {
	return m.wrap2(ctx, func(ctx context.Context) envelope.Response {
		txs, err := m.store.ListRtx(ctx, store.ListFilter{Statuses: discardable})
		if err != nil {
			return envelope.Newf(envelope.CodeEnvironment, "cannot list transactions: %v", err)
		}
		ids := make([]string, 0, len(txs))
		for _, t := range txs {
			if err := m.store.DeleteRtx(ctx, t.SerID); err != nil {
				return envelope.Newf(envelope.CodeEnvironment, "cannot delete %s: %v", t.StrID, err)
			}
			if err := m.store.RemoveScratchDirs(t.SerID); err != nil {
				return envelope.Newf(envelope.CodeEnvironment, "cannot remove scratch dirs of %s: %v", t.StrID, err)
			}
			ids = append(ids, t.StrID)
		}
		return envelope.OK().WithPayload(ids)
	})
}

// TrashDir returns the per-transaction trash directory of the current
// transaction, creating it on first use.
func (m *Manager) TrashDir(ctx context.Context) envelope.Response {
	return m.scratchDir(ctx, m.store.TrashDir)
}

// TmpDir returns the per-transaction tmp directory of the current
// transaction, creating it on first use.
func (m *Manager) TmpDir(ctx context.Context) envelope.Response {
	return m.scratchDir(ctx, m.store.TmpDir)
}

func (m *Manager) scratchDir(ctx context.Context, ensure func(int64) (string, error)) envelope.Response {
	return m.wrap2(ctx, func(ctx context.Context) envelope.Response {
		if m.cur == nil {
			return envelope.New(envelope.CodePrecondition, "no current transaction")
		}
		dir, err := ensure(m.cur.SerID)
		if err != nil {
			return envelope.Newf(envelope.CodeEnvironment, "cannot create directory: %v", err)
		}
		return envelope.OK().WithPayload(dir)
	})
}

// Prepare is reserved for two-phase commit and not implemented.
func (m *Manager) Prepare(ctx context.Context, txID string) envelope.Response {
	return envelope.New(envelope.CodeNotImpl, "prepare not implemented")
}

// Savepoint is reserved and not implemented.
func (m *Manager) Savepoint(ctx context.Context, txID, sp string) envelope.Response {
	return envelope.New(envelope.CodeNotImpl, "savepoint not implemented")
}

// ReleaseSavepoint is reserved and not implemented.
func (m *Manager) ReleaseSavepoint(ctx context.Context, txID, sp string) envelope.Response {
	return envelope.New(envelope.CodeNotImpl, "release savepoint not implemented")
}
