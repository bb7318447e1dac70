package stats

import (
	"slices"
	"time"

	"cratetrail/internal/ledger"
)

// Scan pacing bounds: gaps outside [MinScanGap, MaxScanGap] are treated as
// breaks rather than scanning time.
const (
	MinScanGap = time.Second
	MaxScanGap = time.Minute
)

// AverageScanInterval returns the mean gap between consecutive scans by the
// same actor on the same batch, counting only gaps within
// [MinScanGap, MaxScanGap]. It returns 0 when no gap qualifies.
func AverageScanInterval(events []*ledger.ScanEvent) time.Duration {
	type stream struct {
		batch string
		actor string
	}
	grouped := map[stream][]time.Time{}
	for _, event := range events {
		key := stream{batch: event.BatchID.String(), actor: event.ActorID}
		grouped[key] = append(grouped[key], event.ScannedAt)
	}

	var (
		total time.Duration
		count int
	)
	for _, times := range grouped {
		slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
		for i := 1; i < len(times); i++ {
			gap := times[i].Sub(times[i-1])
			if gap < MinScanGap || gap > MaxScanGap {
				continue
			}
			total += gap
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// FillDays returns one entry per UTC day from since to until inclusive,
// taking counts from observed and zero elsewhere.
func FillDays(observed []ledger.DailyCount, since, until time.Time) []ledger.DailyCount {
	counts := make(map[string]int, len(observed))
	for _, day := range observed {
		counts[day.Day] += day.Count
	}
	start := truncateDay(since)
	end := truncateDay(until)
	var out []ledger.DailyCount
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format(time.DateOnly)
		out = append(out, ledger.DailyCount{Day: key, Count: counts[key]})
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
