package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// timeLayout is fixed width so stored timestamps sort lexically in both dialects.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const batchColumns = "id, code, status, origin_id, destination_id, transport_mode, vehicle_number, driver_name, eta, departed_at, arrived_at, delivered_at, reconciled_at, closed_at, closed_by, total_crates, total_weight, version, notes, created_by, created_at, updated_at"

const crateColumns = "id, code, weight, farm_id, variety_id, quality_grade, supervisor_id, harvested_at, notes, photo_ref, batch_id, created_at, updated_at"

const observationColumns = "id, batch_id, code, crate_id, outcome, actual_batch_id, declared_weight, observed_weight, weight_differential, photo_ref, location_json, observed_by_id, observed_by_name, observed_at, updated_at"

const scanEventColumns = "id, batch_id, code, outcome, actor_id, actor_name, location_json, device_json, notes, scanned_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(scanner rowScanner) (*Batch, error) {
	var (
		b             Batch
		status        string
		destination   sql.NullString
		mode          sql.NullString
		vehicle       sql.NullString
		driver        sql.NullString
		etaRaw        sql.NullString
		departedRaw   sql.NullString
		arrivedRaw    sql.NullString
		deliveredRaw  sql.NullString
		reconciledRaw sql.NullString
		closedRaw     sql.NullString
		closedBy      sql.NullString
		notes         sql.NullString
		createdBy     sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(
		&b.ID,
		&b.Code,
		&status,
		&b.OriginID,
		&destination,
		&mode,
		&vehicle,
		&driver,
		&etaRaw,
		&departedRaw,
		&arrivedRaw,
		&deliveredRaw,
		&reconciledRaw,
		&closedRaw,
		&closedBy,
		&b.TotalCrates,
		&b.TotalWeight,
		&b.Version,
		&notes,
		&createdBy,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	b.Status = Status(status)
	b.DestinationID = destination.String
	b.Transport = Transport{Mode: mode.String, VehicleNumber: vehicle.String, DriverName: driver.String}
	b.ETA = parseNullTime(etaRaw)
	b.DepartedAt = parseNullTime(departedRaw)
	b.ArrivedAt = parseNullTime(arrivedRaw)
	b.DeliveredAt = parseNullTime(deliveredRaw)
	b.ReconciledAt = parseNullTime(reconciledRaw)
	b.ClosedAt = parseNullTime(closedRaw)
	b.ClosedBy = closedBy.String
	b.Notes = notes.String
	b.CreatedBy = createdBy.String
	b.CreatedAt, _ = parseTimeString(createdRaw)
	b.UpdatedAt, _ = parseTimeString(updatedRaw)
	return &b, nil
}

func scanCrate(scanner rowScanner) (*Crate, error) {
	var (
		c            Crate
		farm         sql.NullString
		variety      sql.NullString
		grade        sql.NullString
		supervisor   sql.NullString
		harvestedRaw sql.NullString
		notes        sql.NullString
		photo        sql.NullString
		batchID      uuid.NullUUID
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&c.ID,
		&c.Code,
		&c.Weight,
		&farm,
		&variety,
		&grade,
		&supervisor,
		&harvestedRaw,
		&notes,
		&photo,
		&batchID,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	c.FarmID = farm.String
	c.VarietyID = variety.String
	c.QualityGrade = grade.String
	c.SupervisorID = supervisor.String
	c.HarvestedAt = parseNullTime(harvestedRaw)
	c.Notes = notes.String
	c.PhotoRef = photo.String
	c.BatchID = uuidPtr(batchID)
	c.CreatedAt, _ = parseTimeString(createdRaw)
	c.UpdatedAt, _ = parseTimeString(updatedRaw)
	return &c, nil
}

func scanObservation(scanner rowScanner) (*Observation, error) {
	var (
		o            Observation
		outcome      string
		crateID      uuid.NullUUID
		actualBatch  uuid.NullUUID
		photo        sql.NullString
		location     sql.NullString
		observerID   sql.NullString
		observerName sql.NullString
		observedRaw  string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&o.ID,
		&o.BatchID,
		&o.Code,
		&crateID,
		&outcome,
		&actualBatch,
		&o.DeclaredWeight,
		&o.ObservedWeight,
		&o.Differential,
		&photo,
		&location,
		&observerID,
		&observerName,
		&observedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	o.Outcome = Outcome(outcome)
	o.CrateID = uuidPtr(crateID)
	o.ActualBatchID = uuidPtr(actualBatch)
	o.PhotoRef = photo.String
	o.Location = decodeJSONMap(location)
	o.ObservedByID = observerID.String
	o.ObservedByName = observerName.String
	o.ObservedAt, _ = parseTimeString(observedRaw)
	o.UpdatedAt, _ = parseTimeString(updatedRaw)
	return &o, nil
}

func scanScanEvent(scanner rowScanner) (*ScanEvent, error) {
	var (
		e          ScanEvent
		outcome    string
		actorID    sql.NullString
		actorName  sql.NullString
		location   sql.NullString
		device     sql.NullString
		notes      sql.NullString
		scannedRaw string
	)
	if err := scanner.Scan(
		&e.ID,
		&e.BatchID,
		&e.Code,
		&outcome,
		&actorID,
		&actorName,
		&location,
		&device,
		&notes,
		&scannedRaw,
	); err != nil {
		return nil, err
	}
	e.Outcome = Outcome(outcome)
	e.ActorID = actorID.String
	e.ActorName = actorName.String
	e.Location = decodeJSONMap(location)
	e.DeviceInfo = decodeJSONMap(device)
	e.Notes = notes.String
	e.ScannedAt, _ = parseTimeString(scannedRaw)
	return &e, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return formatTime(*value)
}

func nullableUUID(value *uuid.UUID) any {
	if value == nil {
		return nil
	}
	return value.String()
}

func nullableDecimal(value decimal.NullDecimal) any {
	if !value.Valid {
		return nil
	}
	return value.Decimal.String()
}

func nullableJSON(value map[string]any) (any, error) {
	if len(value) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func decodeJSONMap(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

func uuidPtr(value uuid.NullUUID) *uuid.UUID {
	if !value.Valid {
		return nil
	}
	id := value.UUID
	return &id
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseNullTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
