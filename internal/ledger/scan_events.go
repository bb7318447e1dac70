package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppendScanEvent adds one raw scan attempt to the log.
func (t *Tx) AppendScanEvent(ctx context.Context, event *ScanEvent) error {
	const op = "ledger.append_scan_event"
	location, err := nullableJSON(event.Location)
	if err != nil {
		return Validation(op, "encode location: %v", err)
	}
	device, err := nullableJSON(event.DeviceInfo)
	if err != nil {
		return Validation(op, "encode device info: %v", err)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.ScannedAt = t.now
	_, err = t.exec(ctx,
		`INSERT INTO scan_events (`+scanEventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID.String(),
		event.BatchID.String(),
		NormalizeCode(event.Code),
		string(event.Outcome),
		nullableString(event.ActorID),
		nullableString(event.ActorName),
		location,
		device,
		nullableString(event.Notes),
		formatTime(event.ScannedAt),
	)
	if err != nil {
		if IsRetryable(err) {
			return err
		}
		return storageError(op, err)
	}
	return nil
}

func scanFilterClauses(filter ScanFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.BatchID != nil {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, filter.BatchID.String())
	}
	if len(filter.Outcomes) > 0 {
		clauses = append(clauses, "outcome IN ("+makePlaceholders(len(filter.Outcomes))+")")
		for _, o := range filter.Outcomes {
			args = append(args, string(o))
		}
	}
	if code := NormalizeCode(filter.Code); code != "" {
		clauses = append(clauses, "code = ?")
		args = append(args, code)
	}
	if actor := strings.TrimSpace(filter.ActorID); actor != "" {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, actor)
	}
	if filter.Since != nil {
		clauses = append(clauses, "scanned_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		clauses = append(clauses, "scanned_at < ?")
		args = append(args, formatTime(*filter.Until))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListScanEvents returns scan events newest first.
func (r reader) ListScanEvents(ctx context.Context, filter ScanFilter) ([]*ScanEvent, error) {
	const op = "ledger.list_scan_events"
	where, args := scanFilterClauses(filter)
	query, args := appendPaging(`SELECT `+scanEventColumns+` FROM scan_events`+where+` ORDER BY scanned_at DESC, id`, args, filter.Limit, filter.Offset)

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var events []*ScanEvent
	for rows.Next() {
		event, err := scanScanEvent(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return events, nil
}

// CountScanEvents counts events matching filter, ignoring its paging.
func (r reader) CountScanEvents(ctx context.Context, filter ScanFilter) (int, error) {
	where, args := scanFilterClauses(filter)
	var count int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM scan_events`+where, args...).Scan(&count); err != nil {
		return 0, storageError("ledger.count_scan_events", err)
	}
	return count, nil
}

// ScanOutcomeCounts groups scan events by outcome.
func (r reader) ScanOutcomeCounts(ctx context.Context, filter ScanFilter) (map[Outcome]int, error) {
	const op = "ledger.scan_outcome_counts"
	where, args := scanFilterClauses(filter)
	rows, err := r.query(ctx, `SELECT outcome, COUNT(*) FROM scan_events`+where+` GROUP BY outcome`, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int, len(AllOutcomes()))
	for _, o := range AllOutcomes() {
		counts[o] = 0
	}
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, storageError(op, err)
		}
		counts[Outcome(outcome)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return counts, nil
}

// ScansPerDay counts scan events per UTC day from since onward. Days without
// scans are omitted.
func (r reader) ScansPerDay(ctx context.Context, since time.Time) ([]DailyCount, error) {
	const op = "ledger.scans_per_day"
	rows, err := r.query(ctx,
		`SELECT substr(scanned_at, 1, 10) AS day, COUNT(*) FROM scan_events
         WHERE scanned_at >= ? GROUP BY substr(scanned_at, 1, 10) ORDER BY day`,
		formatTime(since),
	)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, storageError(op, err)
		}
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return out, nil
}
