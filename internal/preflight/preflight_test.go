package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cratetrail/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Ledger.SQLitePath = filepath.Join(base, "data", "ledger.db")
	cfg.Cache.BadgerDir = filepath.Join(base, "data", "fastpath")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cfg
}

func TestCheckLedger_SQLite(t *testing.T) {
	cfg := testConfig(t)
	result := CheckLedger(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected ledger pass, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "sqlite") || !strings.Contains(result.Detail, "schema v1") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckCache_Badger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBadger
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	result := CheckCache(context.Background(), cfg)
	if !result.Passed || !strings.HasPrefix(result.Detail, "badger") {
		t.Fatalf("expected badger pass, got: %+v", result)
	}
}

func TestCheckCache_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheNone
	if result := CheckCache(context.Background(), cfg); !result.Passed || result.Detail != "Disabled" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckDirectory_StrictWithoutFarms(t *testing.T) {
	cfg := testConfig(t)
	cfg.Directory.Strict = true
	if result := CheckDirectory(cfg); result.Passed {
		t.Fatal("expected strict directory without farms to fail")
	}
}

func TestRunAll(t *testing.T) {
	cfg := testConfig(t)
	results := RunAll(context.Background(), cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 checks, got %d: %+v", len(results), results)
	}
	if Failed(results) {
		t.Fatalf("expected every check to pass: %+v", results)
	}

	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "missing")
	if !Failed(RunAll(context.Background(), cfg)) {
		t.Fatal("expected missing log dir to fail")
	}
	if RunAll(context.Background(), nil) != nil {
		t.Fatal("expected nil results for nil config")
	}
}
