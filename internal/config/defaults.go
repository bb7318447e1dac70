package config

const (
	defaultConfigPath                 = "~/.config/cratetrail/config.toml"
	defaultDataDir                    = "~/.local/share/cratetrail"
	defaultLogDir                     = "~/.local/share/cratetrail/logs"
	defaultLedgerDriver               = DriverSQLite
	defaultLedgerFile                 = "ledger.db"
	defaultLedgerMaxOpenConns         = 8
	defaultLedgerConflictRetries      = 5
	defaultCrateWeight                = 1.0
	defaultCacheBackend               = CacheMemory
	defaultCacheDirName               = "fastpath"
	defaultCacheKeyPrefix             = "cratetrail:"
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
	defaultAutoReconcile              = true
	defaultRequireCompleteForDelivery = true
	defaultRequireTransportOnDispatch = true
)

// Supported ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported fast-path cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheBadger = "badger"
	CacheRedis  = "redis"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Ledger: Ledger{
			Driver:          defaultLedgerDriver,
			MaxOpenConns:    defaultLedgerMaxOpenConns,
			ConflictRetries: defaultLedgerConflictRetries,
		},
		Policy: Policy{
			DefaultCrateWeight:         defaultCrateWeight,
			AutoReconcile:              defaultAutoReconcile,
			RequireCompleteForDelivery: defaultRequireCompleteForDelivery,
			RequireTransportOnDispatch: defaultRequireTransportOnDispatch,
		},
		Cache: Cache{
			Backend:   defaultCacheBackend,
			KeyPrefix: defaultCacheKeyPrefix,
		},
		Access: Access{
			Enabled:       false,
			Transitions:   defaultTransitionRoles(),
			BatchRoles:    []string{"admin", "supervisor", "manager"},
			RegisterRoles: []string{"admin", "harvester", "supervisor", "manager"},
			AssignRoles:   []string{"admin", "supervisor", "manager"},
			ScanRoles:     []string{"admin", "packhouse", "supervisor", "manager"},
			WeighRoles:    []string{"admin", "packhouse", "supervisor", "manager"},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultTransitionRoles() map[string][]string {
	return map[string][]string{
		"in_transit": {"admin", "supervisor", "manager"},
		"arrived":    {"admin", "supervisor", "manager", "packhouse"},
		"delivered":  {"admin", "supervisor", "manager", "packhouse"},
		"closed":     {"admin", "supervisor", "manager", "packhouse"},
		"reconciled": {"admin", "packhouse", "supervisor", "manager"},
	}
}
