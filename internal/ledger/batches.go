package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const batchCodePrefix = "BATCH-"

// BatchCodeFor formats the human-readable batch code for day and sequence.
func BatchCodeFor(day time.Time, seq int) string {
	return fmt.Sprintf("%s%s-%03d", batchCodePrefix, day.UTC().Format("20060102"), seq)
}

// GetBatch loads a batch by ID.
func (r reader) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	row := r.queryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id.String())
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("ledger.get_batch", "batch %s not found", id)
	}
	if err != nil {
		return nil, storageError("ledger.get_batch", err)
	}
	return batch, nil
}

// GetBatchByCode loads a batch by its human-readable code.
func (r reader) GetBatchByCode(ctx context.Context, code string) (*Batch, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	row := r.queryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE code = ?`, code)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("ledger.get_batch", "batch %s not found", code)
	}
	if err != nil {
		return nil, storageError("ledger.get_batch", err)
	}
	return batch, nil
}

// ListBatches returns batches newest first.
func (r reader) ListBatches(ctx context.Context, filter BatchFilter) ([]*Batch, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if origin := strings.TrimSpace(filter.OriginID); origin != "" {
		clauses = append(clauses, "origin_id = ?")
		args = append(args, origin)
	}
	if dest := strings.TrimSpace(filter.DestinationID); dest != "" {
		clauses = append(clauses, "destination_id = ?")
		args = append(args, dest)
	}

	query := `SELECT ` + batchColumns + ` FROM batches`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, code DESC"
	query, args = appendPaging(query, args, filter.Limit, filter.Offset)

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, storageError("ledger.list_batches", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, storageError("ledger.list_batches", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("ledger.list_batches", err)
	}
	return batches, nil
}

// CountBatchesByStatus returns how many batches sit in each status.
func (r reader) CountBatchesByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.query(ctx, `SELECT status, COUNT(*) FROM batches GROUP BY status`)
	if err != nil {
		return nil, storageError("ledger.count_batches", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(AllStatuses()))
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storageError("ledger.count_batches", err)
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("ledger.count_batches", err)
	}
	return counts, nil
}

func appendPaging(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}
	return query, args
}

// LockBatch loads a batch and holds its row for the rest of the transaction.
// Every mutation of a batch or its crate set starts here.
func (t *Tx) LockBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	row := t.queryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`+t.d.lockClause(), id.String())
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("ledger.lock_batch", "batch %s not found", id)
	}
	if err != nil {
		if IsRetryable(err) {
			return nil, err
		}
		return nil, storageError("ledger.lock_batch", err)
	}
	return batch, nil
}

// CreateBatch inserts an open batch with the next code for today. A code
// collision with a concurrent creator is marked retryable.
func (t *Tx) CreateBatch(ctx context.Context, input NewBatch) (*Batch, error) {
	const op = "ledger.create_batch"
	origin := strings.TrimSpace(input.OriginID)
	if origin == "" {
		return nil, Validation(op, "origin is required")
	}

	code, err := t.nextBatchCode(ctx)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	stamp := formatTime(t.now)
	_, err = t.exec(ctx,
		`INSERT INTO batches (
            id, code, status, origin_id, destination_id, transport_mode, vehicle_number, driver_name,
            eta, total_crates, total_weight, version, notes, created_by, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 1, ?, ?, ?, ?)`,
		id.String(),
		code,
		string(StatusOpen),
		origin,
		nullableString(strings.TrimSpace(input.DestinationID)),
		nullableString(strings.TrimSpace(input.Transport.Mode)),
		nullableString(strings.TrimSpace(input.Transport.VehicleNumber)),
		nullableString(strings.TrimSpace(input.Transport.DriverName)),
		nullableTime(input.ETA),
		decimal.Zero.String(),
		nullableString(input.Notes),
		nullableString(input.CreatedBy.ID),
		stamp,
		stamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, Retryable(Conflict(op, "batch code %s already taken", code))
		}
		if IsRetryable(err) {
			return nil, err
		}
		return nil, storageError(op, err)
	}
	return t.GetBatch(ctx, id)
}

func (t *Tx) nextBatchCode(ctx context.Context) (string, error) {
	prefix := BatchCodeFor(t.now, 0)
	prefix = prefix[:len(prefix)-3]

	var last string
	err := t.queryRow(ctx,
		`SELECT code FROM batches WHERE code LIKE ? ORDER BY length(code) DESC, code DESC LIMIT 1`,
		prefix+"%",
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return prefix + "001", nil
	}
	if err != nil {
		if IsRetryable(err) {
			return "", err
		}
		return "", storageError("ledger.next_batch_code", err)
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
	if err != nil {
		return "", storageError("ledger.next_batch_code", fmt.Errorf("parse sequence of %q: %w", last, err))
	}
	return BatchCodeFor(t.now, seq+1), nil
}

// UpdateBatchDetails applies a partial update to a non-terminal batch.
func (t *Tx) UpdateBatchDetails(ctx context.Context, id uuid.UUID, details BatchDetails) (*Batch, error) {
	const op = "ledger.update_batch"
	batch, err := t.LockBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status.IsTerminal() {
		return nil, InvalidState(op, "batch %s is %s and can no longer be edited", batch.Code, batch.Status)
	}
	if details.DestinationID != nil {
		batch.DestinationID = strings.TrimSpace(*details.DestinationID)
	}
	if details.Transport != nil {
		batch.Transport = Transport{
			Mode:          strings.TrimSpace(details.Transport.Mode),
			VehicleNumber: strings.TrimSpace(details.Transport.VehicleNumber),
			DriverName:    strings.TrimSpace(details.Transport.DriverName),
		}
	}
	if details.ETA != nil {
		eta := details.ETA.UTC()
		batch.ETA = &eta
	}
	if details.Notes != nil {
		batch.Notes = *details.Notes
	}
	if err := t.saveBatch(ctx, op, batch); err != nil {
		return nil, err
	}
	return t.GetBatch(ctx, id)
}

// ApplyTransition moves a locked batch to target and stamps the lifecycle
// timestamps bound to it. Policy gates such as completeness are checked by
// the caller before this runs.
func (t *Tx) ApplyTransition(ctx context.Context, batch *Batch, target Status, actor Actor) (*Batch, error) {
	const op = "ledger.transition"
	if !CanTransition(batch.Status, target) {
		return nil, InvalidTransition(op, batch.Status, target)
	}
	now := t.now
	switch target {
	case StatusInTransit:
		if batch.DepartedAt == nil {
			batch.DepartedAt = &now
		}
	case StatusArrived:
		if batch.ArrivedAt == nil {
			batch.ArrivedAt = &now
		}
		if batch.DepartedAt == nil {
			departed := *batch.ArrivedAt
			batch.DepartedAt = &departed
		}
	case StatusDelivered:
		if batch.DeliveredAt == nil {
			batch.DeliveredAt = &now
		}
	case StatusReconciled:
		batch.ReconciledAt = &now
	case StatusClosed:
		batch.ClosedAt = &now
		batch.ClosedBy = actor.Label()
	}
	batch.Status = target
	if err := t.saveBatch(ctx, op, batch); err != nil {
		return nil, err
	}
	return t.GetBatch(ctx, batch.ID)
}

// RefreshAggregates recomputes total_crates and total_weight from the crates
// currently bound to the batch.
func (t *Tx) RefreshAggregates(ctx context.Context, batch *Batch) (*Batch, error) {
	const op = "ledger.refresh_aggregates"
	weights, err := t.crateWeights(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, w := range weights {
		total = total.Add(w)
	}
	batch.TotalCrates = len(weights)
	batch.TotalWeight = total
	if err := t.saveBatch(ctx, op, batch); err != nil {
		return nil, err
	}
	return t.GetBatch(ctx, batch.ID)
}

// AdjustAggregates applies a crate count and weight delta to a locked batch.
func (t *Tx) AdjustAggregates(ctx context.Context, batch *Batch, crates int, weight decimal.Decimal) (*Batch, error) {
	const op = "ledger.adjust_aggregates"
	nextCount := batch.TotalCrates + crates
	nextWeight := batch.TotalWeight.Add(weight)
	if nextCount < 0 || nextWeight.IsNegative() {
		return nil, &Error{Kind: KindStorage, Op: op, Message: fmt.Sprintf("aggregates for batch %s would become negative", batch.Code)}
	}
	batch.TotalCrates = nextCount
	batch.TotalWeight = nextWeight
	if err := t.saveBatch(ctx, op, batch); err != nil {
		return nil, err
	}
	return t.GetBatch(ctx, batch.ID)
}

// saveBatch writes every mutable column guarded by the version the batch was
// read at. A stale version is retryable; the retried unit re-reads the row.
func (t *Tx) saveBatch(ctx context.Context, op string, batch *Batch) error {
	res, err := t.exec(ctx,
		`UPDATE batches
         SET status = ?, destination_id = ?, transport_mode = ?, vehicle_number = ?, driver_name = ?,
             eta = ?, departed_at = ?, arrived_at = ?, delivered_at = ?, reconciled_at = ?,
             closed_at = ?, closed_by = ?, total_crates = ?, total_weight = ?, notes = ?,
             version = version + 1, updated_at = ?
         WHERE id = ? AND version = ?`,
		string(batch.Status),
		nullableString(batch.DestinationID),
		nullableString(batch.Transport.Mode),
		nullableString(batch.Transport.VehicleNumber),
		nullableString(batch.Transport.DriverName),
		nullableTime(batch.ETA),
		nullableTime(batch.DepartedAt),
		nullableTime(batch.ArrivedAt),
		nullableTime(batch.DeliveredAt),
		nullableTime(batch.ReconciledAt),
		nullableTime(batch.ClosedAt),
		nullableString(batch.ClosedBy),
		batch.TotalCrates,
		batch.TotalWeight.String(),
		nullableString(batch.Notes),
		formatTime(t.now),
		batch.ID.String(),
		batch.Version,
	)
	if err != nil {
		if IsRetryable(err) {
			return err
		}
		return storageError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError(op, err)
	}
	if affected == 0 {
		return Retryable(Conflict(op, "batch %s changed concurrently", batch.Code))
	}
	batch.Version++
	return nil
}
