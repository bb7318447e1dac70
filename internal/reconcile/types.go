package reconcile

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cratetrail/internal/ledger"
)

// ScanRequest is one presence scan.
type ScanRequest struct {
	BatchID    uuid.UUID
	Code       string
	Actor      ledger.Actor
	Location   map[string]any
	DeviceInfo map[string]any
	Notes      string
}

// ScanResult reports how a scan was classified.
type ScanResult struct {
	Outcome ledger.Outcome
	// Prior is the stored outcome when Outcome is OutcomeDuplicate.
	Prior       ledger.Outcome
	Observation *ledger.Observation
	// Crate is nil for OutcomeNotFound.
	Crate *ledger.Crate
	// ActualBatchID and ActualBatchCode name the batch a wrong-batch crate
	// is bound to. Both are empty for unassigned crates.
	ActualBatchID   *uuid.UUID
	ActualBatchCode string
	Completeness    CompletenessReport
	// Advanced is set when this scan moved the batch to reconciled.
	Advanced bool
	Batch    *ledger.Batch
}

// WeighRequest is one weight-based reconciliation.
type WeighRequest struct {
	BatchID  uuid.UUID
	Code     string
	Weight   decimal.Decimal
	Actor    ledger.Actor
	PhotoRef string
	Location map[string]any
}

// CompletenessSource names where a CompletenessReport was read from.
type CompletenessSource string

const (
	SourceLedger CompletenessSource = "ledger"
	SourceCache  CompletenessSource = "cache"
)

// CompletenessReport is the reconciliation progress of a batch.
type CompletenessReport struct {
	BatchID         uuid.UUID          `json:"batch_id"`
	TotalCrates     int                `json:"total_crates"`
	ReconciledCount int                `json:"reconciled_count"`
	MissingCount    int                `json:"missing_count"`
	IsComplete      bool               `json:"is_complete"`
	Source          CompletenessSource `json:"source"`
}

func newCompleteness(batchID uuid.UUID, total, reconciled int, source CompletenessSource) CompletenessReport {
	missing := total - reconciled
	if missing < 0 {
		missing = 0
	}
	return CompletenessReport{
		BatchID:         batchID,
		TotalCrates:     total,
		ReconciledCount: reconciled,
		MissingCount:    missing,
		IsComplete:      total > 0 && reconciled == total,
		Source:          source,
	}
}

// CrateWeight is one weighed crate.
type CrateWeight struct {
	Code         string          `json:"code"`
	CrateID      *uuid.UUID      `json:"crate_id,omitempty"`
	Declared     decimal.Decimal `json:"declared"`
	Observed     decimal.Decimal `json:"observed"`
	Differential decimal.Decimal `json:"differential"`
	ObservedBy   string          `json:"observed_by,omitempty"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// ReconciliationStats aggregates every weigh-in of a batch. It is computed
// from the observation set on each call.
type ReconciliationStats struct {
	BatchID           uuid.UUID       `json:"batch_id"`
	BatchCode         string          `json:"batch_code"`
	WeighedCount      int             `json:"weighed_count"`
	TotalDeclared     decimal.Decimal `json:"total_declared"`
	TotalObserved     decimal.Decimal `json:"total_observed"`
	TotalDifferential decimal.Decimal `json:"total_differential"`
	LossPercentage    decimal.Decimal `json:"loss_percentage"`
	Crates            []CrateWeight   `json:"crates"`
	// Observation is the record written by Weigh; nil from WeightStats.
	Observation *ledger.Observation `json:"-"`
}

// WrongBatchScan is a code scanned against a batch it does not belong to.
type WrongBatchScan struct {
	Code            string     `json:"code"`
	ActualBatchID   *uuid.UUID `json:"actual_batch_id,omitempty"`
	ActualBatchCode string     `json:"actual_batch_code,omitempty"`
	ObservedAt      time.Time  `json:"observed_at"`
}

// BatchSummary is the operator-facing reconciliation overview.
type BatchSummary struct {
	Batch         *ledger.Batch          `json:"-"`
	BatchCode     string                 `json:"batch_code"`
	Status        ledger.Status          `json:"status"`
	TotalCrates   int                    `json:"total_crates"`
	TotalWeight   decimal.Decimal        `json:"total_weight"`
	Matched       []string               `json:"matched"`
	Missing       []string               `json:"missing"`
	WrongBatch    []WrongBatchScan       `json:"wrong_batch"`
	NotFound      []string               `json:"not_found"`
	OutcomeCounts map[ledger.Outcome]int `json:"outcome_counts"`
	Progress      float64                `json:"progress"`
	StatusLine    string                 `json:"status_line"`
	Complete      bool                   `json:"complete"`
}

// ScanLogPage is one page of raw scan events.
type ScanLogPage struct {
	Events []*ledger.ScanEvent `json:"events"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// GlobalStats summarizes reconciliation activity across batches.
type GlobalStats struct {
	Since              time.Time              `json:"since"`
	BatchesByStatus    map[ledger.Status]int  `json:"batches_by_status"`
	TotalCrates        int                    `json:"total_crates"`
	ReconciledCrates   int                    `json:"reconciled_crates"`
	ReconciliationRate float64                `json:"reconciliation_rate"`
	AverageScanSeconds float64                `json:"average_scan_seconds"`
	ScansByOutcome     map[ledger.Outcome]int `json:"scans_by_outcome"`
	DailyScans         []ledger.DailyCount    `json:"daily_scans"`
}
