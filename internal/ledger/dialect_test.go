package ledger

import (
	"testing"
	"time"
)

func TestRebindPostgres(t *testing.T) {
	got := dialectPostgres.rebind("SELECT a FROM t WHERE b = ? AND c IN (?, ?)")
	want := "SELECT a FROM t WHERE b = $1 AND c IN ($2, $3)"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	if q := dialectSQLite.rebind("SELECT ?"); q != "SELECT ?" {
		t.Fatalf("sqlite rebind changed query: %q", q)
	}
}

func TestFormatTimeSortsLexically(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	earlier := formatTime(base)
	later := formatTime(base.Add(500 * time.Millisecond))
	if len(earlier) != len(later) || earlier >= later {
		t.Fatalf("expected fixed width ascending strings, got %q and %q", earlier, later)
	}
	parsed, err := parseTimeString(later)
	if err != nil || !parsed.Equal(base.Add(500*time.Millisecond)) {
		t.Fatalf("round trip failed: %v %v", parsed, err)
	}
	if _, err := parseTimeString("2026-03-01T10:00:00.5+02:00"); err != nil {
		t.Fatalf("expected RFC3339 fallback, got %v", err)
	}
}

func TestBatchCodeFor(t *testing.T) {
	day := time.Date(2026, 10, 16, 23, 0, 0, 0, time.UTC)
	if got := BatchCodeFor(day, 7); got != "BATCH-20261016-007" {
		t.Fatalf("BatchCodeFor = %q", got)
	}
	if got := BatchCodeFor(day, 1234); got != "BATCH-20261016-1234" {
		t.Fatalf("BatchCodeFor overflow = %q", got)
	}
}
