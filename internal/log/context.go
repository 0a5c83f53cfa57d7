package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	eventIDKey ctxKey = "event_id"
	jobKey     ctxKey = "job"
)

// ContextWithEventID stores the id of the inbound interaction being handled.
func ContextWithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey, id)
}

// ContextWithJob stores the name of the recurring job running a sweep.
func ContextWithJob(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, jobKey, name)
}

// EventIDFromContext extracts the event id if present.
func EventIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(eventIDKey).(string)
	return v
}

// JobFromContext extracts the job name if present.
func JobFromContext(ctx context.Context) string {
	v, _ := ctx.Value(jobKey).(string)
	return v
}

// WithContext enriches logger with the correlation fields found in ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	eid := EventIDFromContext(ctx)
	job := JobFromContext(ctx)
	if eid == "" && job == "" {
		return logger
	}
	builder := logger.With()
	if eid != "" {
		builder = builder.Str(FieldEventID, eid)
	}
	if job != "" {
		builder = builder.Str(FieldJob, job)
	}
	return builder.Logger()
}
