// Package main hosts the cratetrail CLI entrypoint and command graph.
//
// Each invocation loads configuration, opens the ledger and the fast-path
// cache, runs one operation through the assignment service or the
// reconciliation engine, and closes everything again. Output is a table by
// default and JSON with --json.
package main
