package logging

import (
	"log/slog"
	"slices"
)

// Structured field keys shared by every component.
const (
	FieldComponent     = "component"
	FieldBatchID       = "batch_id"
	FieldBatchCode     = "batch_code"
	FieldCrateCode     = "crate_code"
	FieldActorID       = "actor_id"
	FieldActorRole     = "actor_role"
	FieldOutcome       = "outcome"
	FieldStatus        = "status"
	FieldCorrelationID = "correlation_id"

	// FieldEventType is a stable machine-readable name for warnings.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to try next.
	FieldErrorHint = "error_hint"
	// FieldImpact says what the warning means for the batch or crate.
	FieldImpact = "impact"
)

type Attr = slog.Attr

func String(key, value string) Attr { return slog.String(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

// Error keys err under "error". A nil error is logged as "<nil>".
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args adapts attributes to the variadic ...any form of slog.Logger.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

// NewNop returns a logger that drops everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags logger with the component name. A nil logger
// yields a no-op one.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

var warnDefaults = []Attr{
	slog.String(FieldErrorHint, "check logs for details"),
	slog.String(FieldImpact, "operation completed with warnings"),
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact. Values supplied in attrs win over the defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	out := slices.Clone(attrs)
	for _, def := range append([]Attr{slog.String(FieldEventType, eventType)}, warnDefaults...) {
		if !slices.ContainsFunc(attrs, func(a Attr) bool { return a.Key == def.Key }) {
			out = append(out, def)
		}
	}
	logger.Warn(msg, Args(out...)...)
}
