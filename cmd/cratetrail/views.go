package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cratetrail/internal/ledger"
)

const timeLayout = "2006-01-02 15:04"

type batchView struct {
	ID            uuid.UUID       `json:"id"`
	Code          string          `json:"code"`
	Status        ledger.Status   `json:"status"`
	OriginID      string          `json:"origin_id"`
	DestinationID string          `json:"destination_id,omitempty"`
	TransportMode string          `json:"transport_mode,omitempty"`
	VehicleNumber string          `json:"vehicle_number,omitempty"`
	DriverName    string          `json:"driver_name,omitempty"`
	ETA           *time.Time      `json:"eta,omitempty"`
	DepartedAt    *time.Time      `json:"departed_at,omitempty"`
	ArrivedAt     *time.Time      `json:"arrived_at,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	ReconciledAt  *time.Time      `json:"reconciled_at,omitempty"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	ClosedBy      string          `json:"closed_by,omitempty"`
	TotalCrates   int             `json:"total_crates"`
	TotalWeight   decimal.Decimal `json:"total_weight"`
	Version       int64           `json:"version"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newBatchView(b *ledger.Batch) batchView {
	return batchView{
		ID:            b.ID,
		Code:          b.Code,
		Status:        b.Status,
		OriginID:      b.OriginID,
		DestinationID: b.DestinationID,
		TransportMode: b.Transport.Mode,
		VehicleNumber: b.Transport.VehicleNumber,
		DriverName:    b.Transport.DriverName,
		ETA:           b.ETA,
		DepartedAt:    b.DepartedAt,
		ArrivedAt:     b.ArrivedAt,
		DeliveredAt:   b.DeliveredAt,
		ReconciledAt:  b.ReconciledAt,
		ClosedAt:      b.ClosedAt,
		ClosedBy:      b.ClosedBy,
		TotalCrates:   b.TotalCrates,
		TotalWeight:   b.TotalWeight,
		Version:       b.Version,
		Notes:         b.Notes,
		CreatedBy:     b.CreatedBy,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func (v batchView) fields() []field {
	return []field{
		{"Code", v.Code},
		{"ID", v.ID.String()},
		{"Status", statusLabel(string(v.Status))},
		{"Origin", v.OriginID},
		{"Destination", v.DestinationID},
		{"Transport", v.TransportMode},
		{"Vehicle", v.VehicleNumber},
		{"Driver", v.DriverName},
		{"ETA", formatTime(v.ETA)},
		{"Departed", formatTime(v.DepartedAt)},
		{"Arrived", formatTime(v.ArrivedAt)},
		{"Delivered", formatTime(v.DeliveredAt)},
		{"Reconciled", formatTime(v.ReconciledAt)},
		{"Closed", formatTime(v.ClosedAt)},
		{"Closed by", v.ClosedBy},
		{"Crates", itoa(v.TotalCrates)},
		{"Weight", v.TotalWeight.StringFixed(2)},
		{"Notes", v.Notes},
	}
}

type crateView struct {
	ID           uuid.UUID       `json:"id"`
	Code         string          `json:"code"`
	Weight       decimal.Decimal `json:"weight"`
	FarmID       string          `json:"farm_id,omitempty"`
	VarietyID    string          `json:"variety_id,omitempty"`
	QualityGrade string          `json:"quality_grade,omitempty"`
	SupervisorID string          `json:"supervisor_id,omitempty"`
	HarvestedAt  *time.Time      `json:"harvested_at,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	PhotoRef     string          `json:"photo_ref,omitempty"`
	BatchID      *uuid.UUID      `json:"batch_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newCrateView(c *ledger.Crate) crateView {
	return crateView{
		ID:           c.ID,
		Code:         c.Code,
		Weight:       c.Weight,
		FarmID:       c.FarmID,
		VarietyID:    c.VarietyID,
		QualityGrade: c.QualityGrade,
		SupervisorID: c.SupervisorID,
		HarvestedAt:  c.HarvestedAt,
		Notes:        c.Notes,
		PhotoRef:     c.PhotoRef,
		BatchID:      c.BatchID,
		CreatedAt:    c.CreatedAt,
	}
}

func crateViews(crates []*ledger.Crate) []crateView {
	out := make([]crateView, 0, len(crates))
	for _, c := range crates {
		out = append(out, newCrateView(c))
	}
	return out
}

func crateRows(crates []*ledger.Crate) [][]string {
	rows := make([][]string, 0, len(crates))
	for _, c := range crates {
		rows = append(rows, []string{c.Code, c.Weight.StringFixed(2), c.FarmID, c.VarietyID, c.QualityGrade})
	}
	return rows
}

type scanEventView struct {
	Code      string         `json:"code"`
	Outcome   ledger.Outcome `json:"outcome"`
	ActorID   string         `json:"actor_id,omitempty"`
	ActorName string         `json:"actor_name,omitempty"`
	Notes     string         `json:"notes,omitempty"`
	ScannedAt time.Time      `json:"scanned_at"`
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}
