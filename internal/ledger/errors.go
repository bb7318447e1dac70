package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies ledger and engine failures for callers that map them to
// responses or exit codes.
type Kind string

const (
	KindInvalidTransition    Kind = "invalid_transition"
	KindAlreadyAssigned      Kind = "already_assigned"
	KindConflict             Kind = "conflict"
	KindNotFound             Kind = "not_found"
	KindValidation           Kind = "validation"
	KindInvalidState         Kind = "invalid_state"
	KindCompletenessRequired Kind = "completeness_required"
	KindForbidden            Kind = "forbidden"
	KindStorage              Kind = "storage"
)

// ErrorClassifier allows errors to declare their classification.
type ErrorClassifier interface {
	ErrorKind() Kind
}

// Error is the typed failure returned by the ledger and the services built on it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error

	// Current and Allowed are set for invalid transitions.
	Current Status
	Allowed []Status
	// ConflictBatchID and ConflictBatchCode name the batch a crate is already bound to.
	ConflictBatchID   *uuid.UUID
	ConflictBatchCode string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorKind implements ErrorClassifier.
func (e *Error) ErrorKind() Kind { return e.Kind }

// Is matches another *Error with the same Kind, so errors.Is(err, ErrNotFound)
// works for any not-found failure.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Op == "" && other.Message == "" && other.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrAlreadyAssigned      = &Error{Kind: KindAlreadyAssigned}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrCompletenessRequired = &Error{Kind: KindCompletenessRequired}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrStorage              = &Error{Kind: KindStorage}
)

// KindOf returns the classification of err, or "" when err carries none.
func KindOf(err error) Kind {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// NotFound builds a KindNotFound error.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error.
func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidState builds a KindInvalidState error.
func InvalidState(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Op: op, Message: fmt.Sprintf(format, args...)}
}

// CompletenessRequired reports a transition attempted before every assigned
// crate was matched.
func CompletenessRequired(op string, target Status, reconciled, total int) error {
	return &Error{
		Kind:    KindCompletenessRequired,
		Op:      op,
		Message: fmt.Sprintf("batch cannot move to %s: %d of %d crates reconciled", target, reconciled, total),
	}
}

// Forbidden builds a KindForbidden error.
func Forbidden(op, format string, args ...any) error {
	return &Error{Kind: KindForbidden, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports a target outside the allowed set for current.
func InvalidTransition(op string, current, target Status) error {
	allowed := AllowedTargets(current)
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	list := strings.Join(names, ", ")
	if list == "" {
		list = "none"
	}
	return &Error{
		Kind:    KindInvalidTransition,
		Op:      op,
		Message: fmt.Sprintf("cannot transition batch from %q to %q; allowed transitions: %s", current, target, list),
		Current: current,
		Allowed: allowed,
	}
}

// AlreadyAssigned reports a crate bound to another batch.
func AlreadyAssigned(op, code string, batchID uuid.UUID, batchCode string) error {
	id := batchID
	return &Error{
		Kind:              KindAlreadyAssigned,
		Op:                op,
		Message:           fmt.Sprintf("crate %s is already assigned to batch %s", code, batchCode),
		ConflictBatchID:   &id,
		ConflictBatchCode: batchCode,
	}
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindStorage, Op: op, Cause: err}
}

type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }

func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as safe to retry at the transaction boundary.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether WithTx should rerun the unit of work.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var marked retryableError
	if errors.As(err, &marked) {
		return true
	}
	return isSQLiteBusy(err) || isSerializationFailure(err)
}
