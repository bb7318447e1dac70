package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"cratetrail/internal/config"
	"cratetrail/internal/fastpath"
	"cratetrail/internal/ledger"
)

const checkTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckLedger opens the ledger, which applies pending migrations, and
// reports the driver and schema version.
func CheckLedger(ctx context.Context, cfg *config.Config) Result {
	const name = "Ledger"

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	store, err := ledger.Open(checkCtx, cfg, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("open failed (%v)", err)}
	}
	defer store.Close()

	if err := store.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", store.Driver(), err)}
	}
	version, err := store.SchemaVersion(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s schema unreadable (%v)", store.Driver(), err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s, schema v%d", store.Driver(), version)}
}

// CheckCache opens the configured fast-path backend. Redis is pinged as part
// of opening it.
func CheckCache(ctx context.Context, cfg *config.Config) Result {
	const name = "Fast-path cache"

	switch cfg.Cache.Backend {
	case config.CacheNone:
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	case config.CacheMemory:
		return Result{Name: name, Passed: true, Detail: "memory (per process)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	cache, err := fastpath.Open(checkCtx, cfg, nil, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unavailable (%v)", cfg.Cache.Backend, err)}
	}
	backend := cache.Backend()
	if err := cache.Close(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s close failed (%v)", backend, err)}
	}
	target := cfg.Cache.BadgerDir
	if cfg.Cache.Backend == config.CacheRedis {
		target = cfg.Cache.RedisAddr
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s at %s", backend, target)}
}

// CheckDirectory reports how farm, packhouse and variety references are
// validated.
func CheckDirectory(cfg *config.Config) Result {
	const name = "Directory"

	d := cfg.Directory
	counts := fmt.Sprintf("%d farms, %d packhouses, %d varieties", len(d.Farms), len(d.Packhouses), len(d.Varieties))
	if !d.Strict {
		return Result{Name: name, Passed: true, Detail: "permissive (" + counts + ")"}
	}
	if len(d.Farms) == 0 {
		return Result{Name: name, Detail: "strict but no farms configured; batch creation will be refused"}
	}
	return Result{Name: name, Passed: true, Detail: "strict (" + counts + ")"}
}
