// Package scheduler runs lifecycle sweeps on independent timers with a single-flight
// guard per job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketbot/internal/log"
	"marketbot/internal/metrics"
)

var (
	ErrStopped    = errors.New("scheduler stopped")
	ErrUnknownJob = errors.New("unknown job")
	// ErrBusy is returned by RunNow while the job is already sweeping.
	ErrBusy = errors.New("job is already sweeping")
)

type Config struct {
	// Ready is closed by the host once it can serve commands. Nil means ready now.
	Ready  <-chan struct{}
	Logger zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Scheduler struct {
	ready  <-chan struct{}
	logger zerolog.Logger
	now    func() time.Time

	// base is cancelled on Stop; sweeps use it to stop picking up further listings.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    []*RecurringJob
	byName  map[string]*RecurringJob
	stopped bool
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func New(cfg Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ready:  cfg.Ready,
		logger: cfg.Logger,
		now:    now,
		base:   base,
		cancel: cancel,
		byName: make(map[string]*RecurringJob),
		done:   make(chan struct{}),
	}
}

// Start waits for the host to report ready and then enqueues jobs in the order given.
func (s *Scheduler) Start(ctx context.Context, jobs ...*RecurringJob) error {
	if s.ready != nil {
		select {
		case <-s.ready:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrStopped
		}
	}
	for _, j := range jobs {
		if err := s.Enqueue(j); err != nil {
			return err
		}
	}
	s.logger.Info().Int("jobs", len(jobs)).Msg("scheduler started")
	return nil
}

// Enqueue moves j from idle to running and starts its timer loop. The first sweep
// runs immediately.
func (s *Scheduler) Enqueue(j *RecurringJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, dup := s.byName[j.name]; dup {
		return fmt.Errorf("job %q already enqueued", j.name)
	}
	if !j.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("job %q is %s", j.name, j.State())
	}
	s.jobs = append(s.jobs, j)
	s.byName[j.name] = j
	s.wg.Add(1)
	go s.loop(j)
	s.logger.Info().Str(log.FieldJob, j.name).Msg("job enqueued")
	return nil
}

func (s *Scheduler) loop(j *RecurringJob) {
	defer s.wg.Done()
	s.tick(j)
	for {
		now := s.now()
		next := j.schedule.Next(now)
		j.setNext(next)
		s.logger.Debug().Str(log.FieldJob, j.name).Time(log.FieldNextRun, next).Msg("job re-enqueued")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
		}
		s.tick(j)
	}
}

// tick starts a sweep in the background unless the previous one is still running,
// in which case the tick is dropped.
func (s *Scheduler) tick(j *RecurringJob) {
	if !j.acquire() {
		j.skipped.Add(1)
		metrics.SweepSkippedTotal.WithLabelValues(j.name).Inc()
		s.logger.Warn().Str(log.FieldJob, j.name).Msg("previous sweep still running, tick skipped")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.release()
		s.sweep(j)
	}()
}

func (s *Scheduler) sweep(j *RecurringJob) []Result {
	ctx := log.ContextWithJob(s.base, j.name)
	l := log.WithContext(ctx, s.logger)
	started := s.now()
	// Durations use the wall clock even when Now is injected.
	wall := time.Now()

	var results []Result
	func() {
		defer func() {
			if p := recover(); p != nil {
				l.Error().Interface("panic", p).Msg("sweep panicked")
			}
		}()
		results = j.sweeper.Sweep(ctx, started)
	}()

	took := time.Since(wall)
	counts := Tally(results)
	j.record(started, took, counts)
	metrics.SweepDuration.WithLabelValues(j.name).Observe(took.Seconds())
	for _, r := range results {
		metrics.ObserveSweepOutcome(j.name, string(r.Outcome))
	}
	ev := l.Debug()
	if counts[OutcomeFailed] > 0 {
		ev = l.Warn()
	}
	ev.Int(string(OutcomeTransitioned), counts[OutcomeTransitioned]).
		Int(string(OutcomeSkipped), counts[OutcomeSkipped]).
		Int(string(OutcomeFailed), counts[OutcomeFailed]).
		Dur(log.FieldDuration, took).
		Msg("sweep finished")
	return results
}

// RunNow sweeps the named job on the calling goroutine, under the same single-flight
// guard as its timer.
func (s *Scheduler) RunNow(name string) ([]Result, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	j, ok := s.byName[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !j.acquire() {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer j.release()
	return s.sweep(j), nil
}

// Status returns a snapshot of every enqueued job in enqueue order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	jobs := append([]*RecurringJob(nil), s.jobs...)
	s.mu.Unlock()
	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.status())
	}
	return out
}

// Stop halts every timer and waits for running sweeps to return. Calling it again is a
// no-op.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		for _, j := range s.jobs {
			j.state.Store(int32(StateStopped))
		}
		s.mu.Unlock()
		close(s.done)
		s.cancel()
		s.logger.Info().Msg("scheduler stopping")
	})
	s.wg.Wait()
}
