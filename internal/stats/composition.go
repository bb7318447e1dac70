package stats

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cratetrail/internal/ledger"
)

const (
	// UngradedLabel groups crates without a quality grade.
	UngradedLabel = "Ungraded"
	// UnknownLabel groups crates whose variety cannot be named.
	UnknownLabel = "Unknown"
)

// Share is one bucket of a distribution.
type Share struct {
	Label   string          `json:"label"`
	Count   int             `json:"count"`
	Weight  decimal.Decimal `json:"weight"`
	Percent float64         `json:"percent"`
}

// CompositionReport describes what a batch carries.
type CompositionReport struct {
	TotalCrates    int             `json:"total_crates"`
	TotalWeight    decimal.Decimal `json:"total_weight"`
	Varieties      []Share         `json:"varieties"`
	Grades         []Share         `json:"grades"`
	TransitMinutes *float64        `json:"transit_minutes,omitempty"`
}

// NameFunc resolves a variety ID to a display name. It returns "" when the
// ID is unknown.
type NameFunc func(id string) string

// Composition groups crates by variety and quality grade. Transit time is
// reported only when both departure and arrival are stamped.
func Composition(crates []*ledger.Crate, departed, arrived *time.Time, varietyName NameFunc) CompositionReport {
	report := CompositionReport{TotalWeight: decimal.Zero}
	varieties := map[string]*Share{}
	grades := map[string]*Share{}

	for _, crate := range crates {
		report.TotalCrates++
		report.TotalWeight = report.TotalWeight.Add(crate.Weight)

		label := ""
		if varietyName != nil && crate.VarietyID != "" {
			label = varietyName(crate.VarietyID)
		}
		if label == "" {
			label = UnknownLabel
		}
		addShare(varieties, label, crate.Weight)

		grade := strings.TrimSpace(crate.QualityGrade)
		if grade == "" {
			grade = UngradedLabel
		}
		addShare(grades, grade, crate.Weight)
	}

	report.Varieties = flatten(varieties, report.TotalCrates)
	report.Grades = flatten(grades, report.TotalCrates)

	if departed != nil && arrived != nil {
		minutes := arrived.Sub(*departed).Minutes()
		report.TransitMinutes = &minutes
	}
	return report
}

func addShare(buckets map[string]*Share, label string, weight decimal.Decimal) {
	share, ok := buckets[label]
	if !ok {
		share = &Share{Label: label, Weight: decimal.Zero}
		buckets[label] = share
	}
	share.Count++
	share.Weight = share.Weight.Add(weight)
}

// flatten orders buckets by count descending, then label.
func flatten(buckets map[string]*Share, total int) []Share {
	out := make([]Share, 0, len(buckets))
	for _, share := range buckets {
		share.Percent = Percent(share.Count, total)
		out = append(out, *share)
	}
	slices.SortFunc(out, func(a, b Share) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
	return out
}
