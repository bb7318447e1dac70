package ledger

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle of a batch.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInTransit  Status = "in_transit"
	StatusArrived    Status = "arrived"
	StatusDelivered  Status = "delivered"
	StatusClosed     Status = "closed"
	StatusReconciled Status = "reconciled"
)

var allStatuses = []Status{
	StatusOpen,
	StatusInTransit,
	StatusArrived,
	StatusDelivered,
	StatusClosed,
	StatusReconciled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// transitions lists legal targets per source in display order.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusInTransit, StatusArrived},
	StatusInTransit:  {StatusArrived, StatusReconciled},
	StatusArrived:    {StatusDelivered},
	StatusDelivered:  {StatusClosed, StatusReconciled},
	StatusClosed:     {},
	StatusReconciled: {},
}

var scanEligible = map[Status]struct{}{
	StatusInTransit: {},
	StatusArrived:   {},
	StatusDelivered: {},
}

var weighEligible = map[Status]struct{}{
	StatusArrived:   {},
	StatusDelivered: {},
}

// autoReconcileSources are the statuses a batch may leave automatically once
// every assigned crate is matched.
var autoReconcileSources = map[Status]struct{}{
	StatusInTransit: {},
	StatusDelivered: {},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus normalizes and validates a status name.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := statusSet[status]; !ok {
		return "", fmt.Errorf("unknown batch status %q", value)
	}
	return status, nil
}

// AllowedTargets returns the statuses reachable from s in one step.
func AllowedTargets(s Status) []Status {
	targets := transitions[s]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no further mutation.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusReconciled
}

// ScanEligible reports whether presence scans are accepted in s.
func (s Status) ScanEligible() bool {
	_, ok := scanEligible[s]
	return ok
}

// WeighEligible reports whether weight-based reconciliation is accepted in s.
func (s Status) WeighEligible() bool {
	_, ok := weighEligible[s]
	return ok
}

// AutoReconcileSource reports whether a complete batch in s may advance to reconciled on its own.
func (s Status) AutoReconcileSource() bool {
	_, ok := autoReconcileSources[s]
	return ok
}

// Outcome classifies a single observation.
type Outcome string

const (
	OutcomeMatched    Outcome = "matched"
	OutcomeWrongBatch Outcome = "wrong_batch"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeDuplicate  Outcome = "duplicate"
)

// AllOutcomes lists every classification in display order.
func AllOutcomes() []Outcome {
	return []Outcome{OutcomeMatched, OutcomeWrongBatch, OutcomeNotFound, OutcomeDuplicate}
}

// ParseOutcome normalizes and validates an outcome name.
func ParseOutcome(value string) (Outcome, error) {
	outcome := Outcome(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range AllOutcomes() {
		if outcome == known {
			return outcome, nil
		}
	}
	return "", fmt.Errorf("unknown scan outcome %q", value)
}
