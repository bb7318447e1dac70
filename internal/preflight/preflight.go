package preflight

import (
	"context"

	"cratetrail/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Data and log directories (always checked)
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	if cfg.Cache.Backend == config.CacheBadger {
		results = append(results, CheckDirectoryAccess("Cache directory", cfg.Cache.BadgerDir))
	}

	results = append(results, CheckLedger(ctx, cfg))
	results = append(results, CheckCache(ctx, cfg))
	results = append(results, CheckDirectory(cfg))

	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
