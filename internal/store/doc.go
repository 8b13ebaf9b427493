// Package store provides SQLite-backed durable storage for the
// transaction manager.
//
// Four tables:
//   - tx: one row per logical transaction, including its status
//     character and the last_call_id resume marker
//   - call: the forward call log; grows while a transaction is in
//     progress, holds the redo program after an undo
//   - undo_call: the inverse call log recorded via dry-run probes
//   - _meta: key-value metadata carrying the schema version
//
// Ordering: call logs are always read ORDER BY (ctime, id). Insertion
// times are bumped monotonically per process (see Now) so the pair is
// a total order even on coarse clocks.
//
// The store also owns the SQL-level transaction boundary (Begin,
// Commit, Rollback). Commit and Rollback are no-ops when no SQL
// transaction is open, because the call loop deliberately ends the
// request wrapper's transaction early and runs every subsequent
// statement in autocommit mode.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: call rows are deleted with their transaction
package store
