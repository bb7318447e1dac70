// Package logs reads back the JSON log file written by the CLI.
//
// Reads are bounded: a negative offset returns the last N matching entries,
// a non-negative offset resumes where a previous read stopped, and follow
// mode polls until new entries arrive or the wait expires. Filters narrow
// entries to one batch, one event type or a minimum level so operators can
// watch mismatch warnings for a single batch.
package logs
