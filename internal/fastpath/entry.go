package fastpath

import (
	"time"

	"github.com/google/uuid"
)

// Marker records that one crate code was reconciled.
type Marker struct {
	CrateID string    `json:"crate_id,omitempty"`
	At      time.Time `json:"at"`
	By      string    `json:"by,omitempty"`
}

// Entry is the cached progress of one batch. ReconciledCount always equals
// len(Markers).
type Entry struct {
	BatchID         uuid.UUID         `json:"batch_id"`
	Closed          bool              `json:"closed"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
	ClosedBy        string            `json:"closed_by,omitempty"`
	TotalCrates     int               `json:"total_crates"`
	ReconciledCount int               `json:"reconciled_count"`
	Markers         map[string]Marker `json:"markers,omitempty"`
}

// Complete mirrors the ledger's completeness rule.
func (e *Entry) Complete() bool {
	return e != nil && e.TotalCrates > 0 && e.ReconciledCount == e.TotalCrates
}

// statusBlob is what the scalar key stores.
type statusBlob struct {
	Closed          bool       `json:"closed"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	ClosedBy        string     `json:"closed_by,omitempty"`
	TotalCrates     int        `json:"total_crates"`
	ReconciledCount int        `json:"reconciled_count"`
}

func (e *Entry) blob() statusBlob {
	return statusBlob{
		Closed:          e.Closed,
		ClosedAt:        e.ClosedAt,
		ClosedBy:        e.ClosedBy,
		TotalCrates:     e.TotalCrates,
		ReconciledCount: len(e.Markers),
	}
}

func entryFrom(id uuid.UUID, blob statusBlob, markers map[string]Marker) *Entry {
	if markers == nil {
		markers = map[string]Marker{}
	}
	return &Entry{
		BatchID:         id,
		Closed:          blob.Closed,
		ClosedAt:        blob.ClosedAt,
		ClosedBy:        blob.ClosedBy,
		TotalCrates:     blob.TotalCrates,
		ReconciledCount: len(markers),
		Markers:         markers,
	}
}
