package manager

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapecell/undotx/internal/fnreg"
	"github.com/tapecell/undotx/internal/status"
	"github.com/tapecell/undotx/internal/store"
)

// commitSetA runs begin t1; env.set A=1; commit, the base state for
// the undo/redo tests.
func commitSetA(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()
	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.Equal(t, 200, m.Call(ctx, CallRequest{TxID: "t1", F: "env.set", Args: map[string]any{"key": "A", "val": "1"}}).Code)
	require.Equal(t, 200, m.Commit(ctx, "t1").Code)
}

func TestUndo(t *testing.T) {
	// Scenario: undoing a committed transaction restores the
	// environment and swaps the call logs.
	m, env := newTestManager(t)
	ctx := context.Background()
	commitSetA(t, m)

	resp := m.Undo(ctx, "t1")
	require.Equal(t, 200, resp.Code, resp.Message)

	_, ok := env.Get("A")
	require.False(t, ok, "A should be restored to unset")

	rtx := loadRtx(t, m, "t1")
	require.Equal(t, status.Undone, rtx.Status)
	require.Equal(t, 1, callCount(t, m, store.CallTable, rtx.SerID), "redo program recorded")
	require.Equal(t, 0, callCount(t, m, store.UndoCallTable, rtx.SerID), "inverse log drained")
}

func TestRedo(t *testing.T) {
	// Scenario: redoing an undone transaction re-applies it and swaps
	// the logs back.
	m, env := newTestManager(t)
	ctx := context.Background()
	commitSetA(t, m)
	require.Equal(t, 200, m.Undo(ctx, "t1").Code)

	resp := m.Redo(ctx, "t1")
	require.Equal(t, 200, resp.Code, resp.Message)

	v, ok := env.Get("A")
	require.True(t, ok)
	require.Equal(t, "1", v)

	rtx := loadRtx(t, m, "t1")
	require.Equal(t, status.Committed, rtx.Status)
	require.Equal(t, 0, callCount(t, m, store.CallTable, rtx.SerID))
	require.Equal(t, 1, callCount(t, m, store.UndoCallTable, rtx.SerID))

	// Round trip: the inverse program matches the post-commit one.
	rows, err := m.store.SelectCalls(ctx, store.UndoCallTable, rtx.SerID, false, nil)
	require.NoError(t, err)
	require.Equal(t, "env.unset", rows[0].F)
}

func TestUndoRedoChain(t *testing.T) {
	// Repeated undo/redo keeps converging to the same two states.
	m, env := newTestManager(t)
	ctx := context.Background()
	commitSetA(t, m)

	for i := 0; i < 3; i++ {
		require.Equal(t, 200, m.Undo(ctx, "t1").Code)
		_, ok := env.Get("A")
		require.False(t, ok)

		require.Equal(t, 200, m.Redo(ctx, "t1").Code)
		v, _ := env.Get("A")
		require.Equal(t, "1", v)
	}
}

func TestUndo_PicksLatestCommitted(t *testing.T) {
	m, env := newTestManager(t)
	ctx := context.Background()

	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "first"}).Code)
	require.Equal(t, 200, m.Call(ctx, CallRequest{F: "env.set", Args: map[string]any{"key": "X", "val": "1"}}).Code)
	require.Equal(t, 200, m.Commit(ctx, "first").Code)

	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "second"}).Code)
	require.Equal(t, 200, m.Call(ctx, CallRequest{F: "env.set", Args: map[string]any{"key": "Y", "val": "2"}}).Code)
	require.Equal(t, 200, m.Commit(ctx, "second").Code)

	// No id: the most recently committed transaction is undone.
	require.Equal(t, 200, m.Undo(ctx, "").Code)

	_, okY := env.Get("Y")
	require.False(t, okY, "second should be undone")
	_, okX := env.Get("X")
	require.True(t, okX, "first should be untouched")

	require.Equal(t, status.Undone, loadRtx(t, m, "second").Status)
	require.Equal(t, status.Committed, loadRtx(t, m, "first").Status)
}

func TestRedo_PicksEarliestUndone(t *testing.T) {
	m, env := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: id}).Code)
		require.Equal(t, 200, m.Call(ctx, CallRequest{F: "env.set", Args: map[string]any{"key": id, "val": "1"}}).Code)
		require.Equal(t, 200, m.Commit(ctx, id).Code)
	}
	require.Equal(t, 200, m.Undo(ctx, "b").Code)
	require.Equal(t, 200, m.Undo(ctx, "a").Code)

	// No id: the earliest undone transaction is redone.
	require.Equal(t, 200, m.Redo(ctx, "").Code)

	_, okA := env.Get("a")
	require.True(t, okA)
	_, okB := env.Get("b")
	require.False(t, okB)
}

func TestUndo_NoCandidate(t *testing.T) {
	m, _ := newTestManager(t)
	require.Equal(t, 412, m.Undo(context.Background(), "").Code)
}

func TestRedo_NoCandidate(t *testing.T) {
	m, _ := newTestManager(t)
	require.Equal(t, 412, m.Redo(context.Background(), "").Code)
}

func TestUndo_WrongStatus(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.Equal(t, 480, m.Undo(ctx, "t1").Code)
}

func TestCallFailure_AutoRollback(t *testing.T) {
	// Scenario: the second of two calls fails; the first call's undo
	// executes, the transaction ends rolled back, and the response
	// reports the rollback.
	m, env := newTestManager(t)
	env.FailKeys["K2"] = true
	ctx := context.Background()

	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "t2"}).Code)

	resp := m.Call(ctx, CallRequest{TxID: "t2", Calls: []fnreg.CallSpec{
		setEnv("K1", "x"),
		setEnv("K2", "y"),
	}})
	require.Equal(t, 532, resp.Code)
	require.True(t, strings.HasSuffix(resp.Message, "(rolled back)"), resp.Message)

	// The first call's effect is undone.
	_, ok := env.Get("K1")
	require.False(t, ok)

	rtx := loadRtx(t, m, "t2")
	require.Equal(t, status.RolledBack, rtx.Status)
	require.Equal(t, 0, callCount(t, m, store.CallTable, rtx.SerID))
	require.Equal(t, 0, callCount(t, m, store.UndoCallTable, rtx.SerID))
}

func TestRollbackFailure_MarksInconsistent(t *testing.T) {
	// A failing rollback abandons the transaction as inconsistent;
	// the response reports both failures.
	m, env := newTestManager(t)
	env.FailKeys["K2"] = true
	env.FailUnsetKeys["K1"] = true
	ctx := context.Background()

	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "t1"}).Code)

	resp := m.Call(ctx, CallRequest{TxID: "t1", Calls: []fnreg.CallSpec{
		setEnv("K1", "x"),
		setEnv("K2", "y"),
	}})
	require.Equal(t, 532, resp.Code)
	require.Contains(t, resp.Message, "(rollback failed:", resp.Message)

	rtx := loadRtx(t, m, "t1")
	require.Equal(t, status.Inconsistent, rtx.Status)

	// Inconsistent transactions refuse everything except discard.
	require.Equal(t, 480, m.Rollback(ctx, "t1", "").Code)
	require.Equal(t, 480, m.Undo(ctx, "t1").Code)
	require.Equal(t, 200, m.Discard(ctx, "t1").Code)
}

func TestExplicitRollback(t *testing.T) {
	m, env := newTestManager(t)
	ctx := context.Background()

	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.Equal(t, 200, m.Call(ctx, CallRequest{F: "env.set", Args: map[string]any{"key": "A", "val": "1"}}).Code)

	resp := m.Rollback(ctx, "t1", "")
	require.Equal(t, 200, resp.Code)
	require.Equal(t, "Rolled back", resp.Message)

	_, ok := env.Get("A")
	require.False(t, ok)

	rtx := loadRtx(t, m, "t1")
	require.Equal(t, status.RolledBack, rtx.Status)
	require.Equal(t, 0, callCount(t, m, store.CallTable, rtx.SerID))
	require.Equal(t, 0, callCount(t, m, store.UndoCallTable, rtx.SerID))
}

func TestRollback_AlreadyTerminal(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	commitSetA(t, m)

	resp := m.Rollback(ctx, "t1", "")
	require.Equal(t, 304, resp.Code)
	require.Equal(t, status.Committed, loadRtx(t, m, "t1").Status)
}

func TestCommit_OnAborting_RollsBack(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.Equal(t, 200, m.Call(ctx, CallRequest{F: "env.set", Args: map[string]any{"key": "A", "val": "1"}}).Code)

	// Simulate a rollback interrupted mid-flight.
	_, err := m.store.SetStatus(ctx, m.cur.SerID, status.Aborting, true)
	require.NoError(t, err)

	resp := m.Commit(ctx, "t1")
	require.Equal(t, 200, resp.Code)
	require.Equal(t, "Rolled back", resp.Message)
	require.Equal(t, status.RolledBack, loadRtx(t, m, "t1").Status)
}

func TestDryRun(t *testing.T) {
	// A dry run reports the would-be undo program without touching
	// anything.
	m, env := newTestManager(t)
	ctx := context.Background()

	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "t1"}).Code)

	resp := m.Call(ctx, CallRequest{
		TxID: "t1", F: "env.set", Args: map[string]any{"key": "A", "val": "1"},
		DryRun: true,
	})
	require.Equal(t, 200, resp.Code, resp.Message)

	ud, ok := resp.Payload.([]fnreg.CallSpec)
	require.True(t, ok, "payload should be the undo program")
	require.Len(t, ud, 1)
	require.Equal(t, "env.unset", ud[0].F)

	// Nothing happened, nothing was recorded.
	_, set := env.Get("A")
	require.False(t, set)
	rtx := loadRtx(t, m, "t1")
	require.Equal(t, status.InProgress, rtx.Status)
	require.Equal(t, 0, callCount(t, m, store.CallTable, rtx.SerID))
	require.Equal(t, 0, callCount(t, m, store.UndoCallTable, rtx.SerID))
}

func TestDryRun_NoChange(t *testing.T) {
	m, env := newTestManager(t)
	ctx := context.Background()

	require.Equal(t, 200, m.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.Equal(t, 200, m.Call(ctx, CallRequest{F: "env.set", Args: map[string]any{"key": "A", "val": "1"}}).Code)

	// Setting the same value again: the probe reports 304.
	resp := m.Call(ctx, CallRequest{
		F: "env.set", Args: map[string]any{"key": "A", "val": "1"},
		DryRun: true,
	})
	require.Equal(t, 304, resp.Code, resp.Message)

	v, _ := env.Get("A")
	require.Equal(t, "1", v)
}
