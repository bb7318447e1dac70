// Package stats holds the pure aggregation helpers shared by the
// reconciliation engine and the CLI. Nothing here touches storage; callers
// pass in rows they already loaded.
package stats

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// WeightLine is one crate's contribution to a weigh-in summary.
type WeightLine struct {
	Code         string
	Declared     decimal.Decimal
	Observed     decimal.Decimal
	Differential decimal.Decimal
}

// WeightTotals sums a set of weigh-ins.
type WeightTotals struct {
	Count             int
	TotalDeclared     decimal.Decimal
	TotalObserved     decimal.Decimal
	TotalDifferential decimal.Decimal
	// LossPercentage is TotalDifferential / TotalDeclared * 100. Negative
	// values indicate loss.
	LossPercentage decimal.Decimal
}

// SumWeights totals lines. The result is recomputed on every call.
func SumWeights(lines []WeightLine) WeightTotals {
	totals := WeightTotals{
		TotalDeclared:     decimal.Zero,
		TotalObserved:     decimal.Zero,
		TotalDifferential: decimal.Zero,
	}
	for _, line := range lines {
		totals.Count++
		totals.TotalDeclared = totals.TotalDeclared.Add(line.Declared)
		totals.TotalObserved = totals.TotalObserved.Add(line.Observed)
		totals.TotalDifferential = totals.TotalDifferential.Add(line.Differential)
	}
	totals.LossPercentage = LossPercentage(totals.TotalDifferential, totals.TotalDeclared)
	return totals
}

// LossPercentage returns differential / declared * 100 rounded to two
// places, or zero when nothing was declared.
func LossPercentage(differential, declared decimal.Decimal) decimal.Decimal {
	if declared.IsZero() {
		return decimal.Zero
	}
	return differential.Mul(hundred).Div(declared).Round(2)
}

// Percent returns part/whole*100, or 0 when whole is not positive.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// ProgressLine renders reconciliation progress as "N/M crates (P%)".
func ProgressLine(reconciled, total int) string {
	if total <= 0 {
		return fmt.Sprintf("0/%d crates (0%%)", total)
	}
	return fmt.Sprintf("%d/%d crates (%.1f%%)", reconciled, total, Percent(reconciled, total))
}
