// Package config loads, normalizes, and validates cratetrail configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CRATETRAIL_POSTGRES_DSN and CRATETRAIL_REDIS_ADDR. The Config type centralizes
// every knob the ledger, reconciliation engine, fast-path cache, and CLI need,
// including the business policy values (default crate weight, auto-reconcile)
// that would otherwise hide as constants in code.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical driver and backend names, and clear validation
// errors.
package config
