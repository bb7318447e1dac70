package fastpath

import (
	"context"

	"github.com/google/uuid"

	"cratetrail/internal/ledger"
)

// LedgerSource derives entries by replaying the ledger's matched observations.
type LedgerSource struct {
	Store *ledger.Store
}

// Snapshot implements Source.
func (s LedgerSource) Snapshot(ctx context.Context, batchID uuid.UUID) (*Entry, error) {
	batch, err := s.Store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	crates, err := s.Store.ListBatchCrates(ctx, batchID)
	if err != nil {
		return nil, err
	}
	observations, err := s.Store.ListObservations(ctx, batchID, ledger.OutcomeMatched)
	if err != nil {
		return nil, err
	}

	inBatch := make(map[uuid.UUID]struct{}, len(crates))
	for _, crate := range crates {
		inBatch[crate.ID] = struct{}{}
	}
	markers := make(map[string]Marker, len(observations))
	for _, obs := range observations {
		if obs.CrateID == nil {
			continue
		}
		if _, ok := inBatch[*obs.CrateID]; !ok {
			continue
		}
		markers[obs.Code] = Marker{CrateID: obs.CrateID.String(), At: obs.ObservedAt, By: obs.ObservedByName}
	}

	return &Entry{
		BatchID:         batchID,
		Closed:          batch.Status == ledger.StatusClosed,
		ClosedAt:        batch.ClosedAt,
		ClosedBy:        batch.ClosedBy,
		TotalCrates:     len(crates),
		ReconciledCount: len(markers),
		Markers:         markers,
	}, nil
}
