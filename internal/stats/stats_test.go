package stats_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cratetrail/internal/ledger"
	"cratetrail/internal/stats"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSumWeightsSignConvention(t *testing.T) {
	totals := stats.SumWeights([]stats.WeightLine{
		{Code: "A", Declared: d("10.0"), Observed: d("9.5"), Differential: d("-0.5")},
	})
	if !totals.TotalDifferential.Equal(d("-0.5")) {
		t.Fatalf("expected differential -0.5, got %s", totals.TotalDifferential)
	}
	if !totals.LossPercentage.Equal(d("-5")) {
		t.Fatalf("expected loss -5%%, got %s", totals.LossPercentage)
	}
	if !totals.LossPercentage.IsNegative() {
		t.Fatal("loss should contribute negatively")
	}
}

func TestSumWeightsMixedLines(t *testing.T) {
	totals := stats.SumWeights([]stats.WeightLine{
		{Declared: d("10"), Observed: d("9"), Differential: d("-1")},
		{Declared: d("20"), Observed: d("20.5"), Differential: d("0.5")},
		{Declared: d("5"), Observed: d("5"), Differential: d("0")},
	})
	if totals.Count != 3 || !totals.TotalDeclared.Equal(d("35")) || !totals.TotalObserved.Equal(d("34.5")) {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if !totals.LossPercentage.Equal(d("-1.43")) {
		t.Fatalf("expected -1.43, got %s", totals.LossPercentage)
	}
}

func TestSumWeightsEmpty(t *testing.T) {
	totals := stats.SumWeights(nil)
	if totals.Count != 0 || !totals.LossPercentage.IsZero() || !totals.TotalDeclared.IsZero() {
		t.Fatalf("expected zero totals, got %+v", totals)
	}
}

func TestProgressLine(t *testing.T) {
	cases := []struct {
		reconciled, total int
		want              string
	}{
		{0, 0, "0/0 crates (0%)"},
		{2, 3, "2/3 crates (66.7%)"},
		{3, 3, "3/3 crates (100.0%)"},
	}
	for _, tc := range cases {
		if got := stats.ProgressLine(tc.reconciled, tc.total); got != tc.want {
			t.Fatalf("ProgressLine(%d, %d) = %q, want %q", tc.reconciled, tc.total, got, tc.want)
		}
	}
}

func TestCompositionGroupsAndTransit(t *testing.T) {
	crates := []*ledger.Crate{
		{Code: "1", Weight: d("5"), VarietyID: "v-1", QualityGrade: "A"},
		{Code: "2", Weight: d("5"), VarietyID: "v-1", QualityGrade: ""},
		{Code: "3", Weight: d("10"), VarietyID: "v-2", QualityGrade: "A"},
		{Code: "4", Weight: d("1"), VarietyID: "v-x"},
	}
	names := map[string]string{"v-1": "Alphonso", "v-2": "Kesar"}
	departed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	arrived := departed.Add(90 * time.Minute)

	report := stats.Composition(crates, &departed, &arrived, func(id string) string { return names[id] })
	if report.TotalCrates != 4 || !report.TotalWeight.Equal(d("21")) {
		t.Fatalf("unexpected totals: %+v", report)
	}
	if report.Varieties[0].Label != "Alphonso" || report.Varieties[0].Count != 2 || report.Varieties[0].Percent != 50 {
		t.Fatalf("unexpected leading variety: %+v", report.Varieties[0])
	}
	labels := map[string]int{}
	for _, share := range report.Varieties {
		labels[share.Label] = share.Count
	}
	if labels[stats.UnknownLabel] != 1 || labels["Kesar"] != 1 {
		t.Fatalf("unexpected variety buckets: %v", labels)
	}
	grades := map[string]int{}
	for _, share := range report.Grades {
		grades[share.Label] = share.Count
	}
	if grades["A"] != 2 || grades[stats.UngradedLabel] != 2 {
		t.Fatalf("unexpected grade buckets: %v", grades)
	}
	if report.TransitMinutes == nil || *report.TransitMinutes != 90 {
		t.Fatalf("expected 90 transit minutes, got %v", report.TransitMinutes)
	}

	if stats.Composition(crates, &departed, nil, nil).TransitMinutes != nil {
		t.Fatal("expected no transit time without arrival")
	}
}

func TestAverageScanIntervalIgnoresBreaks(t *testing.T) {
	batch := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []*ledger.ScanEvent{
		{BatchID: batch, ActorID: "a", ScannedAt: base},
		{BatchID: batch, ActorID: "a", ScannedAt: base.Add(10 * time.Second)},
		{BatchID: batch, ActorID: "a", ScannedAt: base.Add(30 * time.Second)},
		{BatchID: batch, ActorID: "a", ScannedAt: base.Add(30*time.Second + 500*time.Millisecond)},
		{BatchID: batch, ActorID: "a", ScannedAt: base.Add(10 * time.Minute)},
		{BatchID: batch, ActorID: "b", ScannedAt: base.Add(5 * time.Second)},
	}
	if got := stats.AverageScanInterval(events); got != 15*time.Second {
		t.Fatalf("expected 15s average, got %s", got)
	}
	if got := stats.AverageScanInterval(nil); got != 0 {
		t.Fatalf("expected zero for no events, got %s", got)
	}
}

func TestFillDaysZeroFills(t *testing.T) {
	since := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC)
	days := stats.FillDays([]ledger.DailyCount{{Day: "2026-03-02", Count: 7}}, since, until)
	if len(days) != 4 {
		t.Fatalf("expected 4 days, got %d: %v", len(days), days)
	}
	if days[0].Day != "2026-03-01" || days[0].Count != 0 || days[1].Count != 7 || days[3].Day != "2026-03-04" {
		t.Fatalf("unexpected days: %v", days)
	}
}
