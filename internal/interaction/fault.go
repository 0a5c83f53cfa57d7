package interaction

import (
	"context"

	"github.com/rs/zerolog"

	"marketbot/internal/log"
)

// FaultReporter receives the full detail of failures that users only see as the
// fallback message.
type FaultReporter interface {
	Report(ctx context.Context, err error, attrs map[string]string)
}

// LogFaultReporter writes faults to the structured log.
type LogFaultReporter struct {
	Logger zerolog.Logger
}

func (r LogFaultReporter) Report(ctx context.Context, err error, attrs map[string]string) {
	l := log.WithContext(ctx, r.Logger)
	ev := l.Error().Err(err).Str(log.FieldEvent, "interaction.fault")
	for k, v := range attrs {
		ev = ev.Str(k, v)
	}
	ev.Msg("interaction failed")
}
