package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Ledger selects and tunes the authoritative relational store.
type Ledger struct {
	Driver          string `toml:"driver"`
	SQLitePath      string `toml:"sqlite_path"`
	PostgresDSN     string `toml:"postgres_dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	ConflictRetries int    `toml:"conflict_retries"`
}

// Policy holds business rules that domain owners are expected to confirm.
type Policy struct {
	// DefaultCrateWeight is used when a minimal-data assignment omits a weight.
	DefaultCrateWeight float64 `toml:"default_crate_weight"`
	// AutoReconcile advances in_transit/delivered batches to reconciled once
	// every assigned crate has a matched scan.
	AutoReconcile bool `toml:"auto_reconcile"`
	// RequireCompleteForDelivery gates arrived -> delivered on full completeness.
	RequireCompleteForDelivery bool `toml:"require_complete_for_delivery"`
	// RequireTransportOnDispatch demands transport mode and destination before open -> in_transit.
	RequireTransportOnDispatch bool `toml:"require_transport_on_dispatch"`
}

// Cache configures the fast-path reconciliation cache.
type Cache struct {
	Backend       string `toml:"backend"`
	BadgerDir     string `toml:"badger_dir"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
}

// Access maps operations to the roles allowed to invoke them.
type Access struct {
	Enabled       bool                `toml:"enabled"`
	Transitions   map[string][]string `toml:"transitions"`
	BatchRoles    []string            `toml:"batch_roles"`
	RegisterRoles []string            `toml:"register_roles"`
	AssignRoles   []string            `toml:"assign_roles"`
	ScanRoles     []string            `toml:"scan_roles"`
	WeighRoles    []string            `toml:"weigh_roles"`
}

// DirectoryEntry is a single farm, packhouse, or variety record.
type DirectoryEntry struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// Directory is the static reference directory used when no external one is wired.
type Directory struct {
	Strict     bool             `toml:"strict"`
	Farms      []DirectoryEntry `toml:"farms"`
	Packhouses []DirectoryEntry `toml:"packhouses"`
	Varieties  []DirectoryEntry `toml:"varieties"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cratetrail.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Ledger: relational store driver and connection settings
//   - Policy: business rules for assignment and reconciliation
//   - Cache: fast-path cache backend
//   - Access: role gating for transitions and observations
//   - Directory: static farm/packhouse/variety reference data
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Ledger    Ledger    `toml:"ledger"`
	Policy    Policy    `toml:"policy"`
	Cache     Cache     `toml:"cache"`
	Access    Access    `toml:"access"`
	Directory Directory `toml:"directory"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cratetrail.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories plus any backend
// directories the selected drivers write to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Ledger.Driver == DriverSQLite && c.Ledger.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(c.Ledger.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("create ledger directory: %w", err)
		}
	}
	if c.Cache.Backend == CacheBadger && strings.TrimSpace(c.Cache.BadgerDir) != "" {
		if err := os.MkdirAll(c.Cache.BadgerDir, 0o755); err != nil {
			return fmt.Errorf("create cache directory %q: %w", c.Cache.BadgerDir, err)
		}
	}
	return nil
}

// LogFilePath returns the file the CLI appends structured logs to.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "cratetrail.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
