package authz_test

import (
	"context"
	"testing"

	"cratetrail/internal/authz"
	"cratetrail/internal/config"
	"cratetrail/internal/ledger"
)

func TestFromConfigDisabledAllowsEverything(t *testing.T) {
	cfg := config.Default()
	policy := authz.FromConfig(&cfg)
	if err := policy.Authorize(context.Background(), ledger.Actor{}, authz.TransitionOp(ledger.StatusClosed)); err != nil {
		t.Fatalf("expected AllowAll, got %v", err)
	}
}

func TestRolePolicyDefaults(t *testing.T) {
	cfg := config.Default()
	policy := authz.NewRolePolicy(cfg.Access)
	ctx := context.Background()

	cases := []struct {
		role    string
		op      authz.Operation
		allowed bool
	}{
		{"harvester", authz.OpRegisterCrate, true},
		{"harvester", authz.OpAssign, false},
		{"packhouse", authz.OpScan, true},
		{"Packhouse", authz.TransitionOp(ledger.StatusDelivered), true},
		{"packhouse", authz.TransitionOp(ledger.StatusInTransit), false},
		{"supervisor", authz.TransitionOp(ledger.StatusReconciled), true},
		{"", authz.OpScan, false},
		{"admin", authz.Operation("unknown.op"), false},
	}
	for _, tc := range cases {
		err := policy.Authorize(ctx, ledger.Actor{ID: "u", Role: tc.role}, tc.op)
		if tc.allowed && err != nil {
			t.Fatalf("%s/%s: expected allowed, got %v", tc.role, tc.op, err)
		}
		if !tc.allowed && !ledger.IsKind(err, ledger.KindForbidden) {
			t.Fatalf("%s/%s: expected forbidden, got %v", tc.role, tc.op, err)
		}
	}
}
