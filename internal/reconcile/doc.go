// Package reconcile matches scans and weigh-ins against a batch's expected
// crates and owns every status transition.
//
// Presence scans are idempotent per (batch, code): the first observation
// is classified and stored, and later scans of the same code report
// OutcomeDuplicate with the stored outcome as Prior. Weigh-ins upsert the
// same observation record and keep the declared weight captured when it
// was first written, so differentials stay stable if crate data is edited
// later.
//
// Transitions to delivered and reconciled recompute completeness from the
// ledger inside the transition transaction. The fast-path cache is only
// consulted for read-only progress queries.
package reconcile
