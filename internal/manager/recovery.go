package manager

import (
	"context"
	"fmt"

	"github.com/tapecell/undotx/internal/status"
)

// recoverable are the transient states recovery completes. A crash
// mid-rollback (states v, e) resumes through the same plan when the
// operator retries, but only a, u and d are picked up automatically.
var recoverable = []status.Status{status.Aborting, status.Undoing, status.Redoing}

// recoverStatuses returns the states this manager's recovery drives
// to a terminal one. In-progress transactions are included unless the
// manager was asked to keep them.
func (m *Manager) recoverStatuses() []status.Status {
	if m.opts.KeepInProgress {
		return recoverable
	}
	return append([]status.Status{status.InProgress}, recoverable...)
}

// Recover finishes operations interrupted by a crash: every
// transaction found in a recoverable transient state is rolled back
// to a terminal one. Runs under the exclusive lock so that two
// processes cannot recover the same directory at once.
//
// Failures of individual rollbacks are logged and skipped; such a
// transaction ends up inconsistent and can only be discarded.
func (m *Manager) Recover(ctx context.Context) error {
	if err := m.lock.Acquire(false); err != nil {
		return fmt.Errorf("manager: recovery: %w", err)
	}
	defer m.lock.Release()

	return m.recoverLocked(ctx, m.recoverStatuses())
}

// recoverLocked drives every transaction in one of the given states
// to a terminal one, assuming the lock is held. It is also the
// cleanup routine run before begin, with the bare transient set, so
// a live manager never abandons its own open transactions. Retention
// quotas would be enforced here, but they are deliberately not (see
// Quotas).
func (m *Manager) recoverLocked(ctx context.Context, statuses []status.Status) error {
	txs, err := m.store.ListTransient(ctx, statuses)
	if err != nil {
		return fmt.Errorf("manager: recovery: %w", err)
	}

	for _, rtx := range txs {
		m.log.Info("recovering interrupted transaction",
			"tx", rtx.StrID, "status", rtx.Status.String())
		m.cur = rtx
		resp := m.internalRollback(ctx)
		if !resp.Success() {
			m.log.Warn("recovery rollback failed",
				"tx", rtx.StrID, "code", resp.Code, "message", resp.Message)
		}
	}
	m.cur = nil
	return nil
}
