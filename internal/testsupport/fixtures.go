package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cratetrail/internal/ledger"
)

// Admin is the actor used by fixtures.
var Admin = ledger.Actor{ID: "user-admin", Name: "Test Admin", Role: "admin"}

// CreateBatch creates an open batch with transport details filled in so it
// can be dispatched under the default policy.
func CreateBatch(t testing.TB, store *ledger.Store, origin string) *ledger.Batch {
	t.Helper()

	var batch *ledger.Batch
	err := store.WithTx(context.Background(), func(tx *ledger.Tx) error {
		var err error
		batch, err = tx.CreateBatch(context.Background(), ledger.NewBatch{
			OriginID:      origin,
			DestinationID: "packhouse-1",
			Transport:     ledger.Transport{Mode: "truck", VehicleNumber: "KA-01-1234"},
			CreatedBy:     Admin,
		})
		return err
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return batch
}

// RegisterCrate inserts an unassigned crate with the given code and weight.
func RegisterCrate(t testing.TB, store *ledger.Store, code, weight string) *ledger.Crate {
	t.Helper()

	var crate *ledger.Crate
	err := store.WithTx(context.Background(), func(tx *ledger.Tx) error {
		var err error
		crate, err = tx.InsertCrate(context.Background(), ledger.NewCrate{
			Code:      code,
			Weight:    decimal.RequireFromString(weight),
			VarietyID: "variety-1",
		})
		return err
	})
	if err != nil {
		t.Fatalf("RegisterCrate(%s): %v", code, err)
	}
	return crate
}

// MustBatch reloads a batch from the ledger.
func MustBatch(t testing.TB, store *ledger.Store, id uuid.UUID) *ledger.Batch {
	t.Helper()

	batch, err := store.GetBatch(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	return batch
}
