package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GetCrate loads a crate by ID.
func (r reader) GetCrate(ctx context.Context, id uuid.UUID) (*Crate, error) {
	row := r.queryRow(ctx, `SELECT `+crateColumns+` FROM crates WHERE id = ?`, id.String())
	crate, err := scanCrate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("ledger.get_crate", "crate %s not found", id)
	}
	if err != nil {
		return nil, storageError("ledger.get_crate", err)
	}
	return crate, nil
}

// GetCrateByCode loads a crate by its scannable code.
func (r reader) GetCrateByCode(ctx context.Context, code string) (*Crate, error) {
	code = NormalizeCode(code)
	row := r.queryRow(ctx, `SELECT `+crateColumns+` FROM crates WHERE code = ?`, code)
	crate, err := scanCrate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("ledger.get_crate", "crate %s not found", code)
	}
	if err != nil {
		return nil, storageError("ledger.get_crate", err)
	}
	return crate, nil
}

// ListBatchCrates returns the crates currently bound to a batch ordered by code.
func (r reader) ListBatchCrates(ctx context.Context, batchID uuid.UUID) ([]*Crate, error) {
	return r.listCrates(ctx, "ledger.list_batch_crates",
		`SELECT `+crateColumns+` FROM crates WHERE batch_id = ? ORDER BY code`, batchID.String())
}

// ListUnassignedCrates returns crates not bound to any batch, oldest first.
func (r reader) ListUnassignedCrates(ctx context.Context, limit, offset int) ([]*Crate, error) {
	query, args := appendPaging(`SELECT `+crateColumns+` FROM crates WHERE batch_id IS NULL ORDER BY created_at, code`, nil, limit, offset)
	return r.listCrates(ctx, "ledger.list_unassigned_crates", query, args...)
}

// ListCrates searches the registry ordered by code.
func (r reader) ListCrates(ctx context.Context, filter CrateFilter) ([]*Crate, error) {
	var (
		clauses []string
		args    []any
	)
	for _, col := range []struct{ name, value string }{
		{"variety_id", filter.VarietyID},
		{"farm_id", filter.FarmID},
		{"quality_grade", filter.QualityGrade},
	} {
		if v := strings.TrimSpace(col.value); v != "" {
			clauses = append(clauses, col.name+" = ?")
			args = append(args, v)
		}
	}
	if filter.BatchID != nil {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, filter.BatchID.String())
	}
	if filter.Assigned != nil {
		if *filter.Assigned {
			clauses = append(clauses, "batch_id IS NOT NULL")
		} else {
			clauses = append(clauses, "batch_id IS NULL")
		}
	}

	query := `SELECT ` + crateColumns + ` FROM crates`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query, args = appendPaging(query+" ORDER BY code", args, filter.Limit, filter.Offset)
	return r.listCrates(ctx, "ledger.list_crates", query, args...)
}

func (r reader) listCrates(ctx context.Context, op, query string, args ...any) ([]*Crate, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var crates []*Crate
	for rows.Next() {
		crate, err := scanCrate(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		crates = append(crates, crate)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return crates, nil
}

// CountBatchCrates counts crates currently bound to a batch.
func (r reader) CountBatchCrates(ctx context.Context, batchID uuid.UUID) (int, error) {
	var count int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM crates WHERE batch_id = ?`, batchID.String()).Scan(&count); err != nil {
		return 0, storageError("ledger.count_batch_crates", err)
	}
	return count, nil
}

func (r reader) crateWeights(ctx context.Context, batchID uuid.UUID) ([]decimal.Decimal, error) {
	rows, err := r.query(ctx, `SELECT weight FROM crates WHERE batch_id = ?`, batchID.String())
	if err != nil {
		return nil, storageError("ledger.crate_weights", err)
	}
	defer rows.Close()

	var weights []decimal.Decimal
	for rows.Next() {
		var w decimal.Decimal
		if err := rows.Scan(&w); err != nil {
			return nil, storageError("ledger.crate_weights", err)
		}
		weights = append(weights, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("ledger.crate_weights", err)
	}
	return weights, nil
}

// InsertCrate registers a new unassigned crate. A taken code yields a
// KindConflict error wrapping the driver's unique violation.
func (t *Tx) InsertCrate(ctx context.Context, input NewCrate) (*Crate, error) {
	const op = "ledger.insert_crate"
	code := NormalizeCode(input.Code)
	if code == "" {
		return nil, Validation(op, "crate code is required")
	}
	if !input.Weight.IsPositive() {
		return nil, Validation(op, "crate weight must be positive, got %s", input.Weight)
	}

	id := uuid.New()
	stamp := formatTime(t.now)
	_, err := t.exec(ctx,
		`INSERT INTO crates (
            id, code, weight, farm_id, variety_id, quality_grade, supervisor_id,
            harvested_at, notes, photo_ref, batch_id, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		id.String(),
		code,
		input.Weight.String(),
		nullableString(strings.TrimSpace(input.FarmID)),
		nullableString(strings.TrimSpace(input.VarietyID)),
		nullableString(strings.TrimSpace(input.QualityGrade)),
		nullableString(strings.TrimSpace(input.SupervisorID)),
		nullableTime(input.HarvestedAt),
		nullableString(input.Notes),
		nullableString(input.PhotoRef),
		stamp,
		stamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &Error{Kind: KindConflict, Op: op, Message: "crate code " + code + " already registered", Cause: err}
		}
		if IsRetryable(err) {
			return nil, err
		}
		return nil, storageError(op, err)
	}
	return t.GetCrate(ctx, id)
}

// UpdateCrate applies a partial edit and returns the stored crate. Callers
// lock the owning batch first when the crate is assigned.
func (t *Tx) UpdateCrate(ctx context.Context, id uuid.UUID, details CrateDetails) (*Crate, error) {
	const op = "ledger.update_crate"
	crate, err := t.GetCrate(ctx, id)
	if err != nil {
		return nil, err
	}
	if details.Weight != nil {
		if !details.Weight.IsPositive() {
			return nil, Validation(op, "crate weight must be positive, got %s", details.Weight)
		}
		crate.Weight = *details.Weight
	}
	if details.FarmID != nil {
		crate.FarmID = strings.TrimSpace(*details.FarmID)
	}
	if details.VarietyID != nil {
		crate.VarietyID = strings.TrimSpace(*details.VarietyID)
	}
	if details.QualityGrade != nil {
		crate.QualityGrade = strings.TrimSpace(*details.QualityGrade)
	}
	if details.HarvestedAt != nil {
		harvested := details.HarvestedAt.UTC()
		crate.HarvestedAt = &harvested
	}
	if details.Notes != nil {
		crate.Notes = *details.Notes
	}
	if details.PhotoRef != nil {
		crate.PhotoRef = strings.TrimSpace(*details.PhotoRef)
	}

	res, err := t.exec(ctx,
		`UPDATE crates
         SET weight = ?, farm_id = ?, variety_id = ?, quality_grade = ?, harvested_at = ?,
             notes = ?, photo_ref = ?, updated_at = ?
         WHERE id = ?`,
		crate.Weight.String(),
		nullableString(crate.FarmID),
		nullableString(crate.VarietyID),
		nullableString(crate.QualityGrade),
		nullableTime(crate.HarvestedAt),
		nullableString(crate.Notes),
		nullableString(crate.PhotoRef),
		formatTime(t.now),
		id.String(),
	)
	changed, err := rowsChanged(res, err, op)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, NotFound(op, "crate %s not found", id)
	}
	return t.GetCrate(ctx, id)
}

// BindCrate sets the crate's batch only if it is currently unassigned and
// fills a missing farm with fallbackFarm. It reports whether the row changed.
func (t *Tx) BindCrate(ctx context.Context, crateID, batchID uuid.UUID, fallbackFarm string) (bool, error) {
	res, err := t.exec(ctx,
		`UPDATE crates
         SET batch_id = ?, farm_id = COALESCE(farm_id, ?), updated_at = ?
         WHERE id = ? AND batch_id IS NULL`,
		batchID.String(),
		nullableString(fallbackFarm),
		formatTime(t.now),
		crateID.String(),
	)
	return rowsChanged(res, err, "ledger.bind_crate")
}

// UnbindCrate clears the crate's batch only if it is bound to batchID.
func (t *Tx) UnbindCrate(ctx context.Context, crateID, batchID uuid.UUID) (bool, error) {
	res, err := t.exec(ctx,
		`UPDATE crates SET batch_id = NULL, updated_at = ? WHERE id = ? AND batch_id = ?`,
		formatTime(t.now),
		crateID.String(),
		batchID.String(),
	)
	return rowsChanged(res, err, "ledger.unbind_crate")
}

func rowsChanged(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		if IsRetryable(err) {
			return false, err
		}
		return false, storageError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageError(op, err)
	}
	return affected > 0, nil
}
