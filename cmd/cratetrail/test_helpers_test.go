package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig points every path at a temp directory and returns the config file.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	return writeTestConfigLevel(t, "error", extra)
}

func writeTestConfigLevel(t *testing.T, level, extra string) string {
	t.Helper()
	t.Setenv("CRATETRAIL_POSTGRES_DSN", "")
	t.Setenv("CRATETRAIL_REDIS_ADDR", "")
	t.Setenv("CRATETRAIL_ACTOR", "")
	t.Setenv("CRATETRAIL_ROLE", "")
	t.Setenv("NO_COLOR", "1")

	base := t.TempDir()
	slash := func(parts ...string) string { return filepath.ToSlash(filepath.Join(parts...)) }
	contents := `
[paths]
data_dir = "` + slash(base, "data") + `"
log_dir = "` + slash(base, "logs") + `"

[ledger]
driver = "sqlite"
sqlite_path = "` + slash(base, "data", "ledger.db") + `"

[cache]
backend = "memory"

[logging]
format = "json"
level = "` + level + `"
` + extra
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--actor", "tester"}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func mustRunCLI(t *testing.T, configPath string, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, configPath, args...)
	if err != nil {
		t.Fatalf("cratetrail %s: %v (stderr=%q)", strings.Join(args, " "), err, stderr)
	}
	return out
}

func decodeJSON(t *testing.T, output string, target any) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), target); err != nil {
		t.Fatalf("decode %q: %v", output, err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// createTestBatch opens a dispatchable batch and returns its code.
func createTestBatch(t *testing.T, configPath string) string {
	t.Helper()
	out := mustRunCLI(t, configPath, "--json", "batch", "create",
		"--origin", "farm-1", "--destination", "ph-1", "--transport", "truck")
	var batch struct {
		Code   string `json:"code"`
		Status string `json:"status"`
	}
	decodeJSON(t, out, &batch)
	if batch.Code == "" || batch.Status != "open" {
		t.Fatalf("unexpected created batch: %+v", batch)
	}
	return batch.Code
}
