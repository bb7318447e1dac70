// Package fastpath keeps a per-batch projection of reconciliation progress
// so "is this batch done?" can be answered without scanning the ledger.
//
// The cache is never authoritative. Every entry can be rebuilt from the
// ledger through a Source, misses rebuild lazily, and backend failures are
// logged and swallowed: writes never fail the caller's ledger operation and
// reads fall back to the Source. Entries live under two keys per batch:
//
//	<prefix>batch:<id>         status blob (JSON)
//	<prefix>batch:<id>:crates  marker map keyed by crate code
//
// The marker map is merge-safe: concurrent RecordReconciled calls for
// different crates never overwrite each other, and a rebuild adds its
// snapshot to whatever markers are already stored instead of replacing them.
package fastpath
