package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapecell/undotx/internal/fnreg"
	"github.com/tapecell/undotx/internal/status"
	"github.com/tapecell/undotx/internal/store"
	"github.com/tapecell/undotx/internal/testutil"
)

// TestRecovery_CrashDuringCall simulates a process killed between the
// undo-recording step and the real call: the undo row is persisted,
// the side effect never happened, the status is still in progress. A
// new manager on the same data directory rolls the transaction back.
func TestRecovery_CrashDuringCall(t *testing.T) {
	dir := t.TempDir()
	env := testutil.NewEnv()
	ctx := context.Background()

	m1 := newTestManagerAt(t, dir, env)
	require.Equal(t, 200, m1.Begin(ctx, BeginRequest{TxID: "t3"}).Code)

	// Hand-craft the crash point: the dry-run probe recorded the
	// inverse, then the process died before the real call.
	serID := m1.cur.SerID
	args, err := fnreg.MarshalArgs(map[string]any{"key": "A"})
	require.NoError(t, err)
	_, err = m1.store.InsertCall(ctx, store.UndoCallTable, serID, nil, m1.store.Now(), "env.unset", args)
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2 := newTestManagerAt(t, dir, env)

	rtx := loadRtx(t, m2, "t3")
	require.Equal(t, status.RolledBack, rtx.Status)
	require.Equal(t, 0, callCount(t, m2, store.CallTable, rtx.SerID))
	require.Equal(t, 0, callCount(t, m2, store.UndoCallTable, rtx.SerID))

	// No side effects leaked.
	_, ok := env.Get("A")
	require.False(t, ok)
}

// TestRecovery_CrashDuringRollback: a transaction left aborting
// resumes its rollback on startup.
func TestRecovery_CrashDuringRollback(t *testing.T) {
	dir := t.TempDir()
	env := testutil.NewEnv()
	ctx := context.Background()

	m1 := newTestManagerAt(t, dir, env)
	require.Equal(t, 200, m1.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.Equal(t, 200, m1.Call(ctx, CallRequest{F: "env.set", Args: map[string]any{"key": "A", "val": "1"}}).Code)

	// Crash right after the rollback wrote its transient status.
	serID := m1.cur.SerID
	_, err := m1.store.SetStatus(ctx, serID, status.Aborting, true)
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2 := newTestManagerAt(t, dir, env)

	require.Equal(t, status.RolledBack, loadRtx(t, m2, "t1").Status)
	_, ok := env.Get("A")
	require.False(t, ok, "recovery should have executed the recorded undo")
}

// TestRecovery_CrashDuringUndo: a transaction left undoing rolls back
// to committed.
func TestRecovery_CrashDuringUndo(t *testing.T) {
	dir := t.TempDir()
	env := testutil.NewEnv()
	ctx := context.Background()

	m1 := newTestManagerAt(t, dir, env)
	require.Equal(t, 200, m1.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.Equal(t, 200, m1.Call(ctx, CallRequest{F: "env.set", Args: map[string]any{"key": "A", "val": "1"}}).Code)
	require.Equal(t, 200, m1.Commit(ctx, "t1").Code)

	// Crash right after undo wrote its transient status, before any
	// undo call executed.
	serID := m1.cur.SerID
	_, err := m1.store.SetStatus(ctx, serID, status.Undoing, true)
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2 := newTestManagerAt(t, dir, env)

	rtx := loadRtx(t, m2, "t1")
	require.Equal(t, status.Committed, rtx.Status)
	// The inverse program survives for a later undo.
	require.Equal(t, 1, callCount(t, m2, store.UndoCallTable, rtx.SerID))
	v, _ := env.Get("A")
	require.Equal(t, "1", v)
}

// TestRecovery_ResumesPastMarker: a rollback that completed its last
// call before the crash resumes strictly before it.
func TestRecovery_ResumesPastMarker(t *testing.T) {
	dir := t.TempDir()
	env := testutil.NewEnv()
	ctx := context.Background()

	m1 := newTestManagerAt(t, dir, env)
	require.Equal(t, 200, m1.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.Equal(t, 200, m1.Call(ctx, CallRequest{Calls: []fnreg.CallSpec{
		setEnv("A", "1"),
		setEnv("B", "1"),
	}}).Code)
	serID := m1.cur.SerID

	// The interrupted rollback already processed B's inverse (the
	// reversed order starts with the newest row) and recorded it in
	// the resume marker.
	rows, err := m1.store.SelectCalls(ctx, store.UndoCallTable, serID, true, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "env.unset", rows[0].F)

	_, err = m1.store.SetStatus(ctx, serID, status.Aborting, true)
	require.NoError(t, err)
	require.NoError(t, m1.store.SetLastCall(ctx, serID, rows[0].ID))
	require.NoError(t, m1.Close())

	// B was already unset by the pre-crash rollback; re-set it to
	// catch an (incorrect) replay of its inverse.
	env.OnSet = nil
	envSet(env, "B", "sentinel")

	m2 := newTestManagerAt(t, dir, env)

	require.Equal(t, status.RolledBack, loadRtx(t, m2, "t1").Status)
	_, okA := env.Get("A")
	require.False(t, okA, "A's inverse must run on resume")
	v, okB := env.Get("B")
	require.True(t, okB, "B's inverse must not be replayed")
	require.Equal(t, "sentinel", v)
}

// TestRecovery_KeepInProgress: tools that span several processes keep
// open transactions alive across restarts.
func TestRecovery_KeepInProgress(t *testing.T) {
	dir := t.TempDir()
	env := testutil.NewEnv()
	ctx := context.Background()

	m1, err := New(Options{DataDir: dir, Registry: env.Registry(), LockRetries: fastRetries, KeepInProgress: true})
	require.NoError(t, err)
	require.Equal(t, 200, m1.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.NoError(t, m1.Close())

	m2, err := New(Options{DataDir: dir, Registry: env.Registry(), LockRetries: fastRetries, KeepInProgress: true})
	require.NoError(t, err)
	defer m2.Close()

	require.Equal(t, status.InProgress, loadRtx(t, m2, "t1").Status)
}

// TestRecovery_LeavesTerminalAlone: terminal transactions are not
// touched by recovery.
func TestRecovery_LeavesTerminalAlone(t *testing.T) {
	dir := t.TempDir()
	env := testutil.NewEnv()
	ctx := context.Background()

	m1 := newTestManagerAt(t, dir, env)
	require.Equal(t, 200, m1.Begin(ctx, BeginRequest{TxID: "t1"}).Code)
	require.Equal(t, 200, m1.Call(ctx, CallRequest{F: "env.set", Args: map[string]any{"key": "A", "val": "1"}}).Code)
	require.Equal(t, 200, m1.Commit(ctx, "t1").Code)
	require.NoError(t, m1.Close())

	m2 := newTestManagerAt(t, dir, env)
	require.Equal(t, status.Committed, loadRtx(t, m2, "t1").Status)
	v, _ := env.Get("A")
	require.Equal(t, "1", v)
}

// envSet pokes a value into the environment through its own function,
// outside any transaction.
func envSet(env *testutil.Env, key, val string) {
	reg := env.Registry()
	fn, _, err := reg.Resolve("env.set")
	if err != nil {
		panic(err)
	}
	fn(context.Background(), map[string]any{"key": key, "val": val}, fnreg.Special{UndoAction: "do"})
}
