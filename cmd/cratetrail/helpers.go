package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cratetrail/internal/ledger"
)

func itoa(v int) string { return strconv.Itoa(v) }

// parseWeight reads a positive decimal weight. An empty value yields an
// invalid NullDecimal.
func parseWeight(op, value string) (decimal.NullDecimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.NullDecimal{}, ledger.Validation(op, "invalid weight %q", value)
	}
	if !d.IsPositive() {
		return decimal.NullDecimal{}, ledger.Validation(op, "weight must be positive, got %s", d)
	}
	return decimal.NewNullDecimal(d), nil
}

// parseTime accepts RFC 3339, "YYYY-MM-DD HH:MM" or a bare date in local time.
func parseTime(op, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	for _, layout := range []string{timeLayout, time.DateOnly} {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, ledger.Validation(op, "invalid time %q (use RFC 3339 or %s)", value, timeLayout)
}

// parseStatuses splits a comma-separated status list.
func parseStatuses(value string) ([]ledger.Status, error) {
	var out []ledger.Status
	for part := range strings.SplitSeq(value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		status, err := ledger.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

func parseOutcomes(value string) ([]ledger.Outcome, error) {
	var out []ledger.Outcome
	for part := range strings.SplitSeq(value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		outcome, err := ledger.ParseOutcome(part)
		if err != nil {
			return nil, err
		}
		out = append(out, outcome)
	}
	return out, nil
}

// parseLocation reads "lat,lng" into the location map stored with scans.
func parseLocation(value string) (map[string]any, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	lat, lng, ok := strings.Cut(value, ",")
	if !ok {
		return nil, fmt.Errorf("location must be \"lat,lng\", got %q", value)
	}
	latF, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q", lat)
	}
	lngF, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q", lng)
	}
	return map[string]any{"lat": latF, "lng": lngF}, nil
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

// signed formats d with two decimals and an explicit sign for gains.
func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}
