// Package assign composes batches: it creates and edits them, registers
// crates, and binds crates to open batches.
//
// Binding a crate and updating the batch's crate count and total weight
// happen in one ledger transaction under the batch row lock, guarded by the
// batch version. Version conflicts are retried up to
// ledger.conflict_retries times before surfacing as KindConflict.
package assign
