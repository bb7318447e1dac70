// Package ledger is the authoritative record of batches, crates, and
// reconciliation observations.
//
// A Store wraps database/sql over either SQLite (modernc.org/sqlite) or
// Postgres (pgx stdlib) and applies embedded golang-migrate migrations for the
// selected dialect on open. Reads are available on both Store and Tx; every
// mutation runs inside Store.WithTx so multi-row invariants (crate assignment
// plus batch aggregates, observation upserts plus auto-advance) commit or roll
// back together. WithTx retries the whole unit on SQLITE_BUSY, Postgres
// serialization failures, and stale batch versions.
//
// The batch state machine (Status, AllowedTargets, Tx.ApplyTransition) lives
// here too. Higher-level policy such as completeness gating and role checks
// belongs to the reconcile package.
package ledger
