package logging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

type contextKey int

const (
	correlationKey contextKey = iota
	actorKey
	batchKey
)

type actorValue struct {
	id   string
	role string
}

type batchValue struct {
	id   string
	code string
}

// WithCorrelationID stores a correlation identifier on the context. An empty
// id generates a fresh one.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext returns the correlation identifier if present.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok && id != ""
}

// WithActor records the operator responsible for the work carried by ctx.
func WithActor(ctx context.Context, id, role string) context.Context {
	return context.WithValue(ctx, actorKey, actorValue{id: id, role: role})
}

// WithBatch records the batch the work carried by ctx applies to.
func WithBatch(ctx context.Context, id, code string) context.Context {
	return context.WithValue(ctx, batchKey, batchValue{id: id, code: code})
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	if actor, ok := ctx.Value(actorKey).(actorValue); ok {
		if actor.id != "" {
			fields = append(fields, slog.String(FieldActorID, actor.id))
		}
		if actor.role != "" {
			fields = append(fields, slog.String(FieldActorRole, actor.role))
		}
	}
	if batch, ok := ctx.Value(batchKey).(batchValue); ok {
		if batch.id != "" {
			fields = append(fields, slog.String(FieldBatchID, batch.id))
		}
		if batch.code != "" {
			fields = append(fields, slog.String(FieldBatchCode, batch.code))
		}
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
