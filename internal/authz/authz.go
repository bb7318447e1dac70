// Package authz decides whether an actor may invoke a ledger operation.
//
// Authentication happens outside cratetrail; callers pass an already
// identified ledger.Actor whose Role is matched against configured role
// lists. Refusals are *ledger.Error values of KindForbidden.
package authz

import (
	"context"
	"slices"
	"strings"

	"cratetrail/internal/config"
	"cratetrail/internal/ledger"
)

// Operation names a gated action.
type Operation string

const (
	OpManageBatch   Operation = "batch.manage"
	OpRegisterCrate Operation = "crate.register"
	OpAssign        Operation = "crate.assign"
	OpUnassign      Operation = "crate.unassign"
	OpScan          Operation = "reconcile.scan"
	OpWeigh         Operation = "reconcile.weigh"
)

// TransitionOp is the operation for moving a batch to target.
func TransitionOp(target ledger.Status) Operation {
	return Operation("batch.transition." + string(target))
}

// Authorizer returns nil when actor may perform op.
type Authorizer interface {
	Authorize(ctx context.Context, actor ledger.Actor, op Operation) error
}

// AllowAll permits every operation.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, ledger.Actor, Operation) error { return nil }

// RolePolicy permits an operation when the actor's role is listed for it.
// Operations without a list are refused.
type RolePolicy struct {
	roles map[Operation][]string
}

// NewRolePolicy builds a policy from the access section.
func NewRolePolicy(access config.Access) *RolePolicy {
	roles := map[Operation][]string{
		OpManageBatch:   access.BatchRoles,
		OpRegisterCrate: access.RegisterRoles,
		OpAssign:        access.AssignRoles,
		OpUnassign:      access.AssignRoles,
		OpScan:          access.ScanRoles,
		OpWeigh:         access.WeighRoles,
	}
	for status, list := range access.Transitions {
		roles[TransitionOp(ledger.Status(status))] = list
	}
	return &RolePolicy{roles: roles}
}

// Authorize implements Authorizer.
func (p *RolePolicy) Authorize(_ context.Context, actor ledger.Actor, op Operation) error {
	role := strings.ToLower(strings.TrimSpace(actor.Role))
	if role != "" && slices.Contains(p.roles[op], role) {
		return nil
	}
	if role == "" {
		role = "none"
	}
	return ledger.Forbidden(string(op), "role %q may not perform %s", role, op)
}

// Roles returns the roles allowed for op.
func (p *RolePolicy) Roles(op Operation) []string {
	return slices.Clone(p.roles[op])
}

// FromConfig returns a RolePolicy when access gating is enabled and AllowAll otherwise.
func FromConfig(cfg *config.Config) Authorizer {
	if cfg == nil || !cfg.Access.Enabled {
		return AllowAll{}
	}
	return NewRolePolicy(cfg.Access)
}
