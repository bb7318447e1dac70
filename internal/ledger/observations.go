package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// GetObservation loads the active observation for (batch, code).
func (r reader) GetObservation(ctx context.Context, batchID uuid.UUID, code string) (*Observation, error) {
	row := r.queryRow(ctx,
		`SELECT `+observationColumns+` FROM observations WHERE batch_id = ? AND code = ?`,
		batchID.String(), NormalizeCode(code))
	obs, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("ledger.get_observation", "no observation of %s for batch %s", code, batchID)
	}
	if err != nil {
		return nil, storageError("ledger.get_observation", err)
	}
	return obs, nil
}

// ListObservations returns a batch's observations in the order they were
// first recorded. Passing outcomes narrows the result.
func (r reader) ListObservations(ctx context.Context, batchID uuid.UUID, outcomes ...Outcome) ([]*Observation, error) {
	const op = "ledger.list_observations"
	query := `SELECT ` + observationColumns + ` FROM observations WHERE batch_id = ?`
	args := []any{batchID.String()}
	if len(outcomes) > 0 {
		query += " AND outcome IN (" + makePlaceholders(len(outcomes)) + ")"
		for _, o := range outcomes {
			args = append(args, string(o))
		}
	}
	query += " ORDER BY observed_at, code"

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return out, nil
}

// CountMatched counts matched observations of crates still bound to the batch.
func (r reader) CountMatched(ctx context.Context, batchID uuid.UUID) (int, error) {
	var count int
	err := r.queryRow(ctx,
		`SELECT COUNT(*) FROM observations o
         JOIN crates c ON c.id = o.crate_id
         WHERE o.batch_id = ? AND o.outcome = ? AND c.batch_id = o.batch_id`,
		batchID.String(), string(OutcomeMatched),
	).Scan(&count)
	if err != nil {
		return 0, storageError("ledger.count_matched", err)
	}
	return count, nil
}

// CountDistinctMatchedCrates counts crates with at least one matched observation anywhere.
func (r reader) CountDistinctMatchedCrates(ctx context.Context) (int, error) {
	var count int
	err := r.queryRow(ctx,
		`SELECT COUNT(DISTINCT crate_id) FROM observations WHERE outcome = ? AND crate_id IS NOT NULL`,
		string(OutcomeMatched),
	).Scan(&count)
	if err != nil {
		return 0, storageError("ledger.count_matched_crates", err)
	}
	return count, nil
}

// CountCrates counts every registered crate.
func (r reader) CountCrates(ctx context.Context) (int, error) {
	var count int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM crates`).Scan(&count); err != nil {
		return 0, storageError("ledger.count_crates", err)
	}
	return count, nil
}

// InsertObservation records the first observation of (batch, code). It
// reports false without error when one already exists.
func (t *Tx) InsertObservation(ctx context.Context, obs *Observation) (bool, error) {
	const op = "ledger.insert_observation"
	location, err := nullableJSON(obs.Location)
	if err != nil {
		return false, Validation(op, "encode location: %v", err)
	}
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	obs.ObservedAt = t.now
	obs.UpdatedAt = t.now
	res, err := t.exec(ctx,
		`INSERT INTO observations (`+observationColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (batch_id, code) DO NOTHING`,
		obs.ID.String(),
		obs.BatchID.String(),
		NormalizeCode(obs.Code),
		nullableUUID(obs.CrateID),
		string(obs.Outcome),
		nullableUUID(obs.ActualBatchID),
		nullableDecimal(obs.DeclaredWeight),
		nullableDecimal(obs.ObservedWeight),
		nullableDecimal(obs.Differential),
		nullableString(obs.PhotoRef),
		location,
		nullableString(obs.ObservedByID),
		nullableString(obs.ObservedByName),
		formatTime(obs.ObservedAt),
		formatTime(obs.UpdatedAt),
	)
	return rowsChanged(res, err, op)
}

// UpsertWeighedObservation writes a weigh-in for (batch, code). An existing
// record keeps its identity, first-observed time and declared snapshot; the
// weight, differential and observer fields are overwritten.
func (t *Tx) UpsertWeighedObservation(ctx context.Context, obs *Observation) (*Observation, error) {
	const op = "ledger.upsert_observation"
	location, err := nullableJSON(obs.Location)
	if err != nil {
		return nil, Validation(op, "encode location: %v", err)
	}
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	stamp := formatTime(t.now)
	_, err = t.exec(ctx,
		`INSERT INTO observations (`+observationColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (batch_id, code) DO UPDATE SET
             crate_id = excluded.crate_id,
             outcome = excluded.outcome,
             actual_batch_id = NULL,
             declared_weight = COALESCE(observations.declared_weight, excluded.declared_weight),
             observed_weight = excluded.observed_weight,
             weight_differential = excluded.weight_differential,
             photo_ref = COALESCE(excluded.photo_ref, observations.photo_ref),
             location_json = COALESCE(excluded.location_json, observations.location_json),
             observed_by_id = excluded.observed_by_id,
             observed_by_name = excluded.observed_by_name,
             updated_at = excluded.updated_at`,
		obs.ID.String(),
		obs.BatchID.String(),
		NormalizeCode(obs.Code),
		nullableUUID(obs.CrateID),
		string(obs.Outcome),
		nullableUUID(obs.ActualBatchID),
		nullableDecimal(obs.DeclaredWeight),
		nullableDecimal(obs.ObservedWeight),
		nullableDecimal(obs.Differential),
		nullableString(obs.PhotoRef),
		location,
		nullableString(obs.ObservedByID),
		nullableString(obs.ObservedByName),
		stamp,
		stamp,
	)
	if err != nil {
		if IsRetryable(err) {
			return nil, err
		}
		return nil, storageError(op, err)
	}
	return t.GetObservation(ctx, obs.BatchID, obs.Code)
}
