// Package manager implements the transaction and undo/redo manager.
//
// ARCHITECTURE:
//
// Every public operation runs through the request wrapper: shared
// file lock, SQL transaction, current-transaction load, status
// precondition, body, commit-or-rollback. The four state-changing
// operations (call, rollback, undo, redo) share one call loop that
// differs only in its source and sink call logs and in processing
// direction.
//
// Crash safety hinges on the transient-status pattern: before the
// loop touches anything, the transaction's transient status is
// written in a standalone autocommitted statement and the resume
// marker cleared. A crash at any later point leaves a transient
// status behind, and the next manager constructed on the data
// directory rolls an aborting, undoing or redoing transaction back to
// a terminal state before serving requests; one left aborting an undo
// or a redo stays until it is rolled back explicitly. The resume marker (last_call_id) points at the
// last fully executed call, so a resumed rollback re-executes at most
// one idempotent step.
//
// Undo and redo are log swaps: undo executes the recorded inverse
// program in reverse while accumulating its own inverses into the
// forward log, then drains the inverse log; redo is symmetric. A
// rollback executes in reverse without recording anything new.
//
// A manager instance is single-threaded. Cross-process access to one
// data directory is serialized by the file lock; the only documented
// re-entrancy is a function calling back into Call while the manager
// is rolling back.
package manager
