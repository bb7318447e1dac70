// Package preflight provides readiness checks for the storage paths and
// backends cratetrail depends on.
//
// The CLI "cratetrail doctor" command runs RunAll and prints one row per
// check. Checks are gated by configuration: backends that are not selected
// are skipped.
package preflight
