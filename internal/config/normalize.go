package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLedger(); err != nil {
		return err
	}
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeAccess()
	c.normalizeDirectory()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLedger() error {
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	switch c.Ledger.Driver {
	case "":
		c.Ledger.Driver = defaultLedgerDriver
	case "sqlite3":
		c.Ledger.Driver = DriverSQLite
	case "pgx", "postgresql":
		c.Ledger.Driver = DriverPostgres
	}

	if strings.TrimSpace(c.Ledger.SQLitePath) == "" {
		c.Ledger.SQLitePath = filepath.Join(c.Paths.DataDir, defaultLedgerFile)
	}
	if c.Ledger.SQLitePath != ":memory:" {
		var err error
		if c.Ledger.SQLitePath, err = expandPath(c.Ledger.SQLitePath); err != nil {
			return fmt.Errorf("ledger.sqlite_path: %w", err)
		}
	}

	if c.Ledger.PostgresDSN == "" {
		if value, ok := os.LookupEnv("CRATETRAIL_POSTGRES_DSN"); ok {
			c.Ledger.PostgresDSN = value
		}
	}
	c.Ledger.PostgresDSN = strings.TrimSpace(c.Ledger.PostgresDSN)

	if c.Ledger.MaxOpenConns <= 0 {
		c.Ledger.MaxOpenConns = defaultLedgerMaxOpenConns
	}
	if c.Ledger.ConflictRetries <= 0 {
		c.Ledger.ConflictRetries = defaultLedgerConflictRetries
	}
	return nil
}

func (c *Config) normalizeCache() error {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	switch c.Cache.Backend {
	case "":
		c.Cache.Backend = defaultCacheBackend
	case "off", "disabled":
		c.Cache.Backend = CacheNone
	}

	if strings.TrimSpace(c.Cache.BadgerDir) == "" {
		c.Cache.BadgerDir = filepath.Join(c.Paths.DataDir, defaultCacheDirName)
	}
	var err error
	if c.Cache.BadgerDir, err = expandPath(c.Cache.BadgerDir); err != nil {
		return fmt.Errorf("cache.badger_dir: %w", err)
	}

	if c.Cache.RedisAddr == "" {
		if value, ok := os.LookupEnv("CRATETRAIL_REDIS_ADDR"); ok {
			c.Cache.RedisAddr = value
		}
	}
	c.Cache.RedisAddr = strings.TrimSpace(c.Cache.RedisAddr)
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = defaultCacheKeyPrefix
	}
	return nil
}

func (c *Config) normalizeAccess() {
	if c.Access.Transitions == nil {
		c.Access.Transitions = defaultTransitionRoles()
	}
	normalized := make(map[string][]string, len(c.Access.Transitions))
	for status, roles := range c.Access.Transitions {
		key := strings.ToLower(strings.TrimSpace(status))
		if key == "" {
			continue
		}
		normalized[key] = normalizeRoles(roles)
	}
	c.Access.Transitions = normalized
	c.Access.BatchRoles = normalizeRoles(c.Access.BatchRoles)
	c.Access.RegisterRoles = normalizeRoles(c.Access.RegisterRoles)
	c.Access.AssignRoles = normalizeRoles(c.Access.AssignRoles)
	c.Access.ScanRoles = normalizeRoles(c.Access.ScanRoles)
	c.Access.WeighRoles = normalizeRoles(c.Access.WeighRoles)
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func (c *Config) normalizeDirectory() {
	trim := func(entries []DirectoryEntry) []DirectoryEntry {
		out := entries[:0]
		for _, entry := range entries {
			entry.ID = strings.TrimSpace(entry.ID)
			entry.Name = strings.TrimSpace(entry.Name)
			if entry.ID == "" {
				continue
			}
			out = append(out, entry)
		}
		return out
	}
	c.Directory.Farms = trim(c.Directory.Farms)
	c.Directory.Packhouses = trim(c.Directory.Packhouses)
	c.Directory.Varieties = trim(c.Directory.Varieties)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
