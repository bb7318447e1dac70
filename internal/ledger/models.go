package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Actor identifies the operator behind an action. Role is only consulted by
// authorizers; the ledger stores ID and Name.
type Actor struct {
	ID   string
	Name string
	Role string
}

// Label returns the display name, falling back to the ID.
func (a Actor) Label() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	if id := strings.TrimSpace(a.ID); id != "" {
		return id
	}
	return "unknown"
}

// Transport describes how a batch moves between sites.
type Transport struct {
	Mode          string
	VehicleNumber string
	DriverName    string
}

// Batch is a transport grouping of crates with its own lifecycle.
type Batch struct {
	ID            uuid.UUID
	Code          string
	Status        Status
	OriginID      string
	DestinationID string
	Transport     Transport
	ETA           *time.Time
	DepartedAt    *time.Time
	ArrivedAt     *time.Time
	DeliveredAt   *time.Time
	ReconciledAt  *time.Time
	ClosedAt      *time.Time
	ClosedBy      string
	TotalCrates   int
	TotalWeight   decimal.Decimal
	Version       int64
	Notes         string
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewBatch carries the caller-supplied fields for CreateBatch.
type NewBatch struct {
	OriginID      string
	DestinationID string
	Transport     Transport
	ETA           *time.Time
	Notes         string
	CreatedBy     Actor
}

// BatchDetails is a partial update of a non-terminal batch. Nil fields are left untouched.
type BatchDetails struct {
	DestinationID *string
	Transport     *Transport
	ETA           *time.Time
	Notes         *string
}

// BatchFilter narrows ListBatches.
type BatchFilter struct {
	Statuses      []Status
	OriginID      string
	DestinationID string
	Limit         int
	Offset        int
}

// CrateFilter narrows ListCrates. A nil Assigned matches bound and unbound
// crates alike.
type CrateFilter struct {
	VarietyID    string
	FarmID       string
	QualityGrade string
	BatchID      *uuid.UUID
	Assigned     *bool
	Limit        int
	Offset       int
}

// Crate is a unit of harvested produce identified by a scannable code.
type Crate struct {
	ID           uuid.UUID
	Code         string
	Weight       decimal.Decimal
	FarmID       string
	VarietyID    string
	QualityGrade string
	SupervisorID string
	HarvestedAt  *time.Time
	Notes        string
	PhotoRef     string
	BatchID      *uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InBatch reports whether the crate is currently bound to batchID.
func (c *Crate) InBatch(batchID uuid.UUID) bool {
	return c != nil && c.BatchID != nil && *c.BatchID == batchID
}

// NewCrate carries the caller-supplied fields for crate registration.
type NewCrate struct {
	Code         string
	Weight       decimal.Decimal
	FarmID       string
	VarietyID    string
	QualityGrade string
	SupervisorID string
	HarvestedAt  *time.Time
	Notes        string
	PhotoRef     string
}

// CrateDetails is a partial crate edit; nil fields are left unchanged.
type CrateDetails struct {
	Weight       *decimal.Decimal
	FarmID       *string
	VarietyID    *string
	QualityGrade *string
	HarvestedAt  *time.Time
	Notes        *string
	PhotoRef     *string
}

// Empty reports whether the edit changes nothing.
func (d CrateDetails) Empty() bool {
	return d.Weight == nil && d.FarmID == nil && d.VarietyID == nil && d.QualityGrade == nil &&
		d.HarvestedAt == nil && d.Notes == nil && d.PhotoRef == nil
}

// NormalizeCode trims surrounding whitespace from a scanned code.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

// Observation is the single active reconciliation record for a (batch, code) pair.
type Observation struct {
	ID             uuid.UUID
	BatchID        uuid.UUID
	Code           string
	CrateID        *uuid.UUID
	Outcome        Outcome
	ActualBatchID  *uuid.UUID
	DeclaredWeight decimal.NullDecimal
	ObservedWeight decimal.NullDecimal
	Differential   decimal.NullDecimal
	PhotoRef       string
	Location       map[string]any
	ObservedByID   string
	ObservedByName string
	ObservedAt     time.Time
	UpdatedAt      time.Time
}

// Weighed reports whether the observation carries a re-measured weight.
func (o *Observation) Weighed() bool {
	return o != nil && o.ObservedWeight.Valid
}

// ScanEvent is one raw scan attempt, duplicates included.
type ScanEvent struct {
	ID         uuid.UUID
	BatchID    uuid.UUID
	Code       string
	Outcome    Outcome
	ActorID    string
	ActorName  string
	Location   map[string]any
	DeviceInfo map[string]any
	Notes      string
	ScannedAt  time.Time
}

// ScanFilter narrows ListScanEvents.
type ScanFilter struct {
	BatchID  *uuid.UUID
	Outcomes []Outcome
	Code     string
	ActorID  string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// DailyCount is the number of scans recorded on one UTC day (YYYY-MM-DD).
type DailyCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}
