package manager

import (
	"context"
	"errors"

	"github.com/tapecell/undotx/internal/envelope"
	"github.com/tapecell/undotx/internal/status"
	"github.com/tapecell/undotx/internal/store"
)

// maxTxIDLen bounds caller-supplied transaction ids.
const maxTxIDLen = 200

// wrapOpts configures the per-request scaffolding around a facade
// operation.
type wrapOpts struct {
	// txID is the caller's transaction id; empty falls back to the
	// sticky default when useSticky is set.
	txID      string
	useSticky bool

	// pick selects a transaction when no id is given (undo/redo
	// candidate selection). Runs inside the SQL transaction. A
	// non-success response aborts the request.
	pick func(ctx context.Context) (string, envelope.Response)

	// loadTx loads the transaction into the current slot before the
	// body runs.
	loadTx bool

	// statuses is the precondition: the set of statuses the loaded
	// transaction may be in. Empty means no check.
	statuses []status.Status

	// cleanup runs the recovery/cleanup routine before the SQL
	// transaction opens. Only begin uses this.
	cleanup bool
}

// wrap runs body with the full request scaffolding: shared lock,
// request timestamp, transaction id resolution, SQL transaction,
// precondition check, and commit-or-rollback on the way out.
func (m *Manager) wrap(ctx context.Context, o wrapOpts, body func(ctx context.Context, txID string) envelope.Response) envelope.Response {
	if err := m.lock.Acquire(true); err != nil {
		return envelope.Newf(envelope.CodeEnvironment, "cannot acquire lock: %v", err)
	}
	defer m.lock.Release()

	m.now = m.store.Now()

	txID := o.txID
	if txID == "" && o.useSticky {
		txID = m.defaultTxID
	}
	if o.pick == nil {
		if txID == "" {
			return envelope.New(envelope.CodeBadRequest, "no transaction id given")
		}
		if len(txID) > maxTxIDLen {
			return envelope.Newf(envelope.CodeBadRequest,
				"transaction id too long (%d chars, max %d)", len(txID), maxTxIDLen)
		}
	}

	if o.cleanup {
		if err := m.recoverLocked(ctx, recoverable); err != nil {
			m.log.Warn("cleanup before request failed", "err", err)
		}
	}

	if err := m.store.Begin(ctx); err != nil {
		return envelope.Newf(envelope.CodeEnvironment, "cannot begin sql transaction: %v", err)
	}

	resp := m.wrapBody(ctx, o, txID, body)

	if resp.Success() || resp.SkipRollback() {
		if err := m.store.Commit(); err != nil {
			return envelope.Newf(envelope.CodeEnvironment, "cannot commit sql transaction: %v", err)
		}
	} else {
		if err := m.store.Rollback(); err != nil {
			return envelope.Newf(envelope.CodeEnvironment, "cannot roll back sql transaction: %v", err)
		}
	}
	return resp
}

func (m *Manager) wrapBody(ctx context.Context, o wrapOpts, txID string, body func(ctx context.Context, txID string) envelope.Response) envelope.Response {
	if o.pick != nil && txID == "" {
		picked, resp := o.pick(ctx)
		if !resp.Success() {
			return resp
		}
		txID = picked
	}

	if o.loadTx {
		rtx, err := m.store.GetRtx(ctx, txID)
		if errors.Is(err, store.ErrNoTx) {
			return envelope.Newf(envelope.CodeNoSuchTx, "no such transaction: %s", txID)
		}
		if err != nil {
			return envelope.Newf(envelope.CodeEnvironment, "cannot load transaction: %v", err)
		}
		m.cur = rtx

		if len(o.statuses) > 0 && !statusIn(rtx.Status, o.statuses) {
			return envelope.Newf(envelope.CodeWrongStatus,
				"transaction %s has status %c (%s), needs %s",
				txID, rtx.Status.Char(), rtx.Status, statusChars(o.statuses))
		}
	}

	return body(ctx, txID)
}

// wrap2 is the light variant for read-only or cross-transaction
// operations: lock only, no SQL transaction, no current-transaction
// load.
func (m *Manager) wrap2(ctx context.Context, body func(ctx context.Context) envelope.Response) envelope.Response {
	if err := m.lock.Acquire(true); err != nil {
		return envelope.Newf(envelope.CodeEnvironment, "cannot acquire lock: %v", err)
	}
	defer m.lock.Release()

	m.now = m.store.Now()
	return body(ctx)
}

func statusIn(s status.Status, set []status.Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func statusChars(set []status.Status) string {
	b := make([]byte, 0, len(set))
	for _, s := range set {
		b = append(b, s.Char())
	}
	return string(b)
}
