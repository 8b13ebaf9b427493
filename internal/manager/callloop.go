package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/tapecell/undotx/internal/envelope"
	"github.com/tapecell/undotx/internal/fnreg"
	"github.com/tapecell/undotx/internal/status"
	"github.com/tapecell/undotx/internal/store"
)

// loopKind selects the operation the call loop serves.
type loopKind int

const (
	loopCall loopKind = iota
	loopRollback
	loopUndo
	loopRedo
)

func (k loopKind) String() string {
	switch k {
	case loopCall:
		return "call"
	case loopRollback:
		return "rollback"
	case loopUndo:
		return "undo"
	case loopRedo:
		return "redo"
	}
	return "unknown"
}

// loopEntry is one unit of work: either a caller-supplied call (id 0)
// or a row loaded from a call log.
type loopEntry struct {
	id   int64
	f    string
	args map[string]any
}

// runLoop executes call, rollback, undo or redo over the current
// transaction.
//
// The loop first writes the transient status (clearing the resume
// marker) in a standalone autocommitted statement, then processes its
// program one entry at a time: resolve the function, probe it with a
// dry run to obtain undo data, record the undo rows into the sink
// table, perform the real call, and advance the resume marker. On
// success the stale direction is deleted and the final status
// written. Any failure triggers an internal rollback, unless this
// loop is itself the rollback, in which case the transaction is
// marked inconsistent and abandoned.
func (m *Manager) runLoop(ctx context.Context, kind loopKind, supplied []fnreg.CallSpec, dryRun bool, sp string) envelope.Response {
	rtx := m.cur
	if rtx == nil {
		return envelope.New(envelope.CodeInternal, "call loop invoked with no current transaction")
	}

	// Phase A: status transition. Computed from the current status;
	// a transaction already in the matching transient state resumes
	// where it left off.
	var transient, final status.Status
	if kind != loopCall {
		var ok bool
		switch kind {
		case loopRollback:
			transient, final, ok = status.RollbackPlan(rtx.Status)
		case loopUndo:
			transient, final, ok = status.UndoPlan(rtx.Status)
		case loopRedo:
			transient, final, ok = status.RedoPlan(rtx.Status)
		}
		if !ok {
			return envelope.Newf(envelope.CodeWrongStatus,
				"cannot %s transaction %s from status %c", kind, rtx.StrID, rtx.Status.Char())
		}
	}

	// From here to the end of the loop every statement runs in its
	// own SQL transaction, so other readers observe status changes
	// immediately. End the wrapper's transaction now.
	if err := m.store.Commit(); err != nil {
		return m.loopFailed(ctx, kind,
			envelope.Newf(envelope.CodeEnvironment, "cannot leave sql transaction: %v", err))
	}

	if kind != loopCall && transient != rtx.Status {
		n, err := m.store.SetStatus(ctx, rtx.SerID, transient, true)
		if err != nil {
			return m.loopFailed(ctx, kind,
				envelope.Newf(envelope.CodeEnvironment, "cannot set status %c: %v", transient.Char(), err))
		}
		if n != 1 {
			return m.loopFailed(ctx, kind,
				envelope.Newf(envelope.CodeEnvironment, "status update to %c touched %d rows", transient.Char(), n))
		}
		got, err := m.store.GetRtxBySer(ctx, rtx.SerID)
		if err != nil || got.Status != transient {
			return m.loopFailed(ctx, kind,
				envelope.Newf(envelope.CodeEnvironment, "status update to %c not observed", transient.Char()))
		}
		m.cur = got
		rtx = got
	}

	// Phase B: source and sink selection. Rollback reads reversed and
	// records nothing new; undo and redo read reversed and record into
	// the opposite log; call executes the supplied list and records
	// into undo_call, except when re-entered during a rollback.
	var source *store.Table
	var sink *store.Table
	reversed := false
	switch kind {
	case loopCall:
		if !m.inRollback {
			sink = tablePtr(store.UndoCallTable)
		}
	case loopUndo:
		source = tablePtr(store.UndoCallTable)
		sink = tablePtr(store.CallTable)
		reversed = true
	case loopRedo:
		source = tablePtr(store.CallTable)
		sink = tablePtr(store.UndoCallTable)
		reversed = true
	case loopRollback:
		reversed = true
		switch rtx.Status {
		case status.Aborting:
			source = tablePtr(store.UndoCallTable)
		case status.AbortingUndo:
			source = tablePtr(store.CallTable)
		case status.AbortingRedo:
			source = tablePtr(store.UndoCallTable)
		default:
			return envelope.Newf(envelope.CodeInternal,
				"rollback loop entered with status %c", rtx.Status.Char())
		}
	}

	// Phase C: load the program, resuming past the last completed
	// call when a marker is present.
	var entries []loopEntry
	if kind == loopCall {
		for _, cs := range supplied {
			entries = append(entries, loopEntry{f: cs.F, args: cs.Args})
		}
	} else {
		var afterLast *int64
		if rtx.LastCallID.Valid {
			afterLast = &rtx.LastCallID.Int64
		}
		rows, err := m.store.SelectCalls(ctx, *source, rtx.SerID, reversed, afterLast)
		if err != nil {
			return m.loopFailed(ctx, kind,
				envelope.Newf(envelope.CodeEnvironment, "cannot load %s program: %v", source, err))
		}
		for _, row := range rows {
			args, err := fnreg.UnmarshalArgs(row.Args)
			if err != nil {
				return m.loopFailed(ctx, kind,
					envelope.Newf(envelope.CodeEnvironment, "call #%d: %v", row.ID, err))
			}
			entries = append(entries, loopEntry{id: row.ID, f: row.F, args: args})
		}
	}

	// Phase D: per-call execution.
	for _, e := range entries {
		if resp, done := m.runEntry(ctx, kind, e, sink, dryRun, sp); done {
			if resp.Success() {
				return resp // top-level dry run short-circuits here
			}
			return m.loopFailed(ctx, kind, resp)
		}
	}

	if dryRun {
		// A dry run over an empty program: nothing to probe.
		return envelope.New(envelope.CodeNoChange, "No change (dry run)")
	}

	// Phase E: finalization. The direction just consumed is stale:
	// undo drains undo_call, redo drains call, rollback drains its
	// source (and, when aborting an in-progress transaction, the
	// forward log too).
	if kind != loopCall {
		if err := m.store.DeleteCalls(ctx, *source, rtx.SerID); err != nil {
			return m.loopFailed(ctx, kind,
				envelope.Newf(envelope.CodeEnvironment, "cannot drain %s: %v", source, err))
		}
		if kind == loopRollback && final == status.RolledBack {
			if err := m.store.DeleteCalls(ctx, store.CallTable, rtx.SerID); err != nil {
				return m.loopFailed(ctx, kind,
					envelope.Newf(envelope.CodeEnvironment, "cannot drain call log: %v", err))
			}
		}
		n, err := m.store.SetStatus(ctx, rtx.SerID, final, true)
		if err != nil || n != 1 {
			return m.loopFailed(ctx, kind,
				envelope.Newf(envelope.CodeEnvironment, "cannot set final status %c: %v", final.Char(), err))
		}
		rtx.Status = final
		rtx.LastCallID.Valid = false
	}

	return envelope.OK()
}

// runEntry executes one program entry. done=true short-circuits the
// loop with resp: either a top-level dry-run result or a failure.
func (m *Manager) runEntry(ctx context.Context, kind loopKind, e loopEntry, sink *store.Table, dryRun bool, sp string) (resp envelope.Response, done bool) {
	rtx := m.cur

	// Resolve the function and check its capabilities.
	if !fnreg.ValidName(e.f) {
		return envelope.Newf(envelope.CodeBadRequest, "malformed function name %q", e.f), true
	}
	fn, meta, err := m.reg.Resolve(e.f)
	if err != nil {
		return envelope.Newf(envelope.CodeInternal, "cannot load function %s: %v", e.f, err), true
	}
	if !meta.Features.All() {
		return envelope.Newf(envelope.CodePrecondition,
			"function %s does not support transactions, undo and dry run", e.f), true
	}

	// The caller's map may not smuggle reserved arguments.
	args := stripReserved(e.args)
	special := fnreg.Special{
		Manager:    txHandle{m},
		UndoAction: "do",
	}
	if m.inRollback {
		special.TxAction = "rollback"
	}

	// Dry-run probe: only when undo data is to be recorded. Rollback
	// replays already-recorded inverses and skips the probe.
	if sink != nil {
		probe := special
		probe.DryRun = true
		probe.CheckState = true
		r := fn(ctx, args, probe)
		if !r.Success() {
			return envelope.Newf(envelope.CodeEnvironment,
				"dry-run of %s failed: %d %s", e.f, r.Code, r.Message), true
		}
		undoData, err := fnreg.UndoData(r)
		if err != nil {
			return envelope.Newf(envelope.CodeEnvironment,
				"dry-run of %s returned bad undo data: %v", e.f, err), true
		}
		for _, ud := range undoData {
			if !fnreg.ValidName(ud.F) {
				return envelope.Newf(envelope.CodeBadRequest,
					"undo data of %s names malformed function %q", e.f, ud.F), true
			}
			_, udMeta, err := m.reg.Resolve(ud.F)
			if err != nil {
				return envelope.Newf(envelope.CodeInternal,
					"cannot load undo function %s: %v", ud.F, err), true
			}
			if !udMeta.Features.Tx {
				return envelope.Newf(envelope.CodePrecondition,
					"undo function %s does not support transactions", ud.F), true
			}
		}

		if dryRun {
			// Probe only: report the would-be undo program and stop
			// before anything is recorded or executed.
			if len(undoData) == 0 {
				return envelope.New(envelope.CodeNoChange, "No change (dry run)"), true
			}
			return envelope.New(envelope.CodeOK, "OK (dry run)").WithPayload(undoData), true
		}

		// Record the inverse program. Only the first row of a call
		// carries the savepoint label.
		for i, ud := range undoData {
			argsStr, err := fnreg.MarshalArgs(ud.Args)
			if err != nil {
				return envelope.Newf(envelope.CodeEnvironment,
					"cannot serialize undo args of %s: %v", ud.F, err), true
			}
			var spLabel *string
			if i == 0 && sp != "" {
				spLabel = &sp
			}
			if _, err := m.store.InsertCall(ctx, *sink, rtx.SerID, spLabel, m.store.Now(), ud.F, argsStr); err != nil {
				return envelope.Newf(envelope.CodeEnvironment,
					"cannot record undo call %s: %v", ud.F, err), true
			}
		}
	}

	// The real call.
	r := fn(ctx, args, special)
	if !r.Success() {
		return envelope.Newf(envelope.CodeEnvironment,
			"call to %s failed: %d %s", e.f, r.Code, r.Message), true
	}

	// Advance the resume marker. The update is not transactional with
	// the call's side effect: a crash in between makes recovery
	// re-execute one idempotent step.
	switch {
	case kind == loopCall && !m.inRollback:
		argsStr, err := fnreg.MarshalArgs(args)
		if err != nil {
			return envelope.Newf(envelope.CodeEnvironment,
				"cannot serialize args of %s: %v", e.f, err), true
		}
		id, err := m.store.InsertCall(ctx, store.CallTable, rtx.SerID, nil, m.store.Now(), e.f, argsStr)
		if err != nil {
			return envelope.Newf(envelope.CodeEnvironment,
				"cannot record call %s: %v", e.f, err), true
		}
		if err := m.store.SetLastCall(ctx, rtx.SerID, id); err != nil {
			return envelope.Newf(envelope.CodeEnvironment,
				"cannot advance resume marker: %v", err), true
		}
	case e.id != 0:
		if err := m.store.SetLastCall(ctx, rtx.SerID, e.id); err != nil {
			return envelope.Newf(envelope.CodeEnvironment,
				"cannot advance resume marker: %v", err), true
		}
	}

	return envelope.Response{}, false
}

// loopFailed implements the failure path. A failing rollback marks
// the transaction inconsistent and gives up; any other failing
// operation is rolled back, and the original error reports the
// rollback's outcome.
func (m *Manager) loopFailed(ctx context.Context, kind loopKind, orig envelope.Response) envelope.Response {
	// The SQL transaction (if any) is gone; tell the wrapper not to
	// touch it.
	orig = orig.WithExtra(envelope.ExtraRollback, false)

	if kind == loopRollback {
		if m.cur != nil {
			if _, err := m.store.SetStatus(ctx, m.cur.SerID, status.Inconsistent, true); err != nil {
				m.log.Error("cannot mark transaction inconsistent",
					"tx", m.cur.StrID, "err", err)
			} else {
				m.cur.Status = status.Inconsistent
			}
		}
		return orig
	}

	if m.inRollback {
		// A nested call failing inside a rollback propagates to the
		// rollback loop, which handles the inconsistency.
		return orig
	}

	rb := m.internalRollback(ctx)
	if rb.Success() {
		orig.Message += " (rolled back)"
	} else {
		orig.Message += fmt.Sprintf(" (rollback failed: %s)", rb.Message)
	}
	return orig
}

// internalRollback drives the rollback loop under the re-entry guard.
// A rollback requested while one is already running is ignored.
func (m *Manager) internalRollback(ctx context.Context) envelope.Response {
	if m.inRollback {
		return envelope.New(envelope.CodeOK, "Rollback already in progress")
	}
	m.inRollback = true
	defer func() { m.inRollback = false }()
	return m.runLoop(ctx, loopRollback, nil, false, "")
}

// stripReserved drops every caller-supplied key beginning with a
// dash; those names belong to the manager-to-function channel.
func stripReserved(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if strings.HasPrefix(k, "-") {
			continue
		}
		out[k] = v
	}
	return out
}

func tablePtr(t store.Table) *store.Table {
	return &t
}
