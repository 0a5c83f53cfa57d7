package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule accepts a five-field cron expression or a descriptor such as
// "@hourly" or "@every 30s".
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Every returns a fixed-interval schedule. Unlike cron.Every it does not round the
// interval to whole seconds.
func Every(d time.Duration) cron.Schedule {
	return interval(d)
}

type interval time.Duration

func (i interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}
