package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// State is the lifecycle state of a RecurringJob. Only the Scheduler changes it.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sweeper is the body of a recurring job.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) []Result
}

// SweepFunc adapts a function to the Sweeper interface.
type SweepFunc func(ctx context.Context, now time.Time) []Result

func (f SweepFunc) Sweep(ctx context.Context, now time.Time) []Result {
	return f(ctx, now)
}

// RecurringJob pairs a sweeper with its schedule. A job belongs to at most one Scheduler.
type RecurringJob struct {
	name     string
	schedule cron.Schedule
	sweeper  Sweeper

	state   atomic.Int32
	busy    atomic.Bool
	skipped atomic.Int64
	runs    atomic.Int64

	mu           sync.Mutex
	nextRun      time.Time
	lastRun      time.Time
	lastDuration time.Duration
	lastCounts   map[Outcome]int
}

func NewJob(name string, schedule cron.Schedule, sweeper Sweeper) *RecurringJob {
	return &RecurringJob{name: name, schedule: schedule, sweeper: sweeper}
}

func (j *RecurringJob) Name() string { return j.name }

func (j *RecurringJob) State() State { return State(j.state.Load()) }

// acquire claims the single-flight slot.
func (j *RecurringJob) acquire() bool {
	return j.busy.CompareAndSwap(false, true)
}

func (j *RecurringJob) release() {
	j.busy.Store(false)
}

func (j *RecurringJob) setNext(t time.Time) {
	j.mu.Lock()
	j.nextRun = t
	j.mu.Unlock()
}

func (j *RecurringJob) record(started time.Time, took time.Duration, counts map[Outcome]int) {
	j.runs.Add(1)
	j.mu.Lock()
	j.lastRun = started
	j.lastDuration = took
	j.lastCounts = counts
	j.mu.Unlock()
}

// JobStatus is a point-in-time snapshot of one job.
type JobStatus struct {
	Name         string          `json:"name"`
	State        State           `json:"state"`
	Sweeping     bool            `json:"sweeping"`
	NextRun      time.Time       `json:"next_run"`
	LastRun      time.Time       `json:"last_run"`
	LastDuration time.Duration   `json:"last_duration_ns"`
	LastOutcomes map[Outcome]int `json:"last_outcomes,omitempty"`
	Runs         int64           `json:"runs"`
	SkippedTicks int64           `json:"skipped_ticks"`
}

func (j *RecurringJob) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	counts := make(map[Outcome]int, len(j.lastCounts))
	for k, v := range j.lastCounts {
		counts[k] = v
	}
	return JobStatus{
		Name:         j.name,
		State:        j.State(),
		Sweeping:     j.busy.Load(),
		NextRun:      j.nextRun,
		LastRun:      j.lastRun,
		LastDuration: j.lastDuration,
		LastOutcomes: counts,
		Runs:         j.runs.Load(),
		SkippedTicks: j.skipped.Load(),
	}
}
