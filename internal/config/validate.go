package config

import (
	"errors"
	"fmt"
)

var validTransitionTargets = map[string]struct{}{
	"in_transit": {},
	"arrived":    {},
	"delivered":  {},
	"closed":     {},
	"reconciled": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validatePolicy(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateAccess(); err != nil {
		return err
	}
	if err := c.validateDirectory(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Driver {
	case DriverSQLite:
		if c.Ledger.SQLitePath == "" {
			return errors.New("ledger.sqlite_path must be set when ledger.driver is sqlite")
		}
	case DriverPostgres:
		if c.Ledger.PostgresDSN == "" {
			return errors.New("ledger.postgres_dsn is required when ledger.driver is postgres. Set CRATETRAIL_POSTGRES_DSN or edit the config file")
		}
	default:
		return fmt.Errorf("ledger.driver: unsupported value %q (want sqlite or postgres)", c.Ledger.Driver)
	}
	return nil
}

func (c *Config) validatePolicy() error {
	if c.Policy.DefaultCrateWeight <= 0 {
		return errors.New("policy.default_crate_weight must be positive")
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheBadger:
		if c.Cache.BadgerDir == "" {
			return errors.New("cache.badger_dir must be set when cache.backend is badger")
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr is required when cache.backend is redis. Set CRATETRAIL_REDIS_ADDR or edit the config file")
		}
		if c.Cache.RedisDB < 0 {
			return errors.New("cache.redis_db must be >= 0")
		}
	default:
		return fmt.Errorf("cache.backend: unsupported value %q (want none, memory, badger, or redis)", c.Cache.Backend)
	}
	return nil
}

func (c *Config) validateAccess() error {
	for status := range c.Access.Transitions {
		if _, ok := validTransitionTargets[status]; !ok {
			return fmt.Errorf("access.transitions: unknown target status %q", status)
		}
	}
	return nil
}

func (c *Config) validateDirectory() error {
	sections := map[string][]DirectoryEntry{
		"directory.farms":      c.Directory.Farms,
		"directory.packhouses": c.Directory.Packhouses,
		"directory.varieties":  c.Directory.Varieties,
	}
	for key, entries := range sections {
		seen := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			if _, ok := seen[entry.ID]; ok {
				return fmt.Errorf("%s: duplicate id %q", key, entry.ID)
			}
			seen[entry.ID] = struct{}{}
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
