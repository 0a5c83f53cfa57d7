// Package jobs implements the lifecycle sweeps that move listings through their
// statuses as time passes.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketbot/internal/command"
	"marketbot/internal/domain"
	"marketbot/internal/log"
	"marketbot/internal/scheduler"
)

// Job names, also used as config keys and metric labels.
const (
	NameActivation         = "activation"
	NameExpiration         = "expiration"
	NamePendingClosure     = "pending_closure"
	NameDiscountExpiration = "discount_expiration"
)

// Names lists the jobs in registration order.
var Names = []string{NameActivation, NameExpiration, NamePendingClosure, NameDiscountExpiration}

// ListingSource finds the listings each sweep is responsible for.
type ListingSource interface {
	ScheduledDue(ctx context.Context, now time.Time) ([]domain.ListingReference, error)
	ActiveExpired(ctx context.Context, now time.Time) ([]domain.ListingReference, error)
	ClosureDue(ctx context.Context, now time.Time) ([]domain.ListingReference, error)
	DiscountsExpired(ctx context.Context, now time.Time) ([]domain.ListingReference, error)
}

type query func(ctx context.Context, now time.Time) ([]domain.ListingReference, error)

type build func(h command.Header) command.Command

// sweep is the query-then-transition pass shared by every lifecycle job.
type sweep struct {
	name   string
	find   query
	issue  build
	exec   command.Executor
	logger zerolog.Logger
}

func (s *sweep) Name() string { return s.name }

// Sweep dispatches one command per due listing. A failing listing is recorded and the
// pass continues with the next one. Once ctx is cancelled no further listings are
// picked up, but a command already dispatched runs to completion.
func (s *sweep) Sweep(ctx context.Context, now time.Time) []scheduler.Result {
	l := log.WithContext(ctx, s.logger)
	refs, err := s.find(ctx, now)
	if err != nil {
		l.Error().Err(err).Msg("query due listings")
		return nil
	}
	execCtx := context.WithoutCancel(ctx)
	seen := make(map[domain.ListingReference]struct{}, len(refs))
	results := make([]scheduler.Result, 0, len(refs))
	for _, ref := range refs {
		if ctx.Err() != nil {
			l.Info().Int("remaining", len(refs)-len(seen)).Msg("sweep interrupted by shutdown")
			break
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		res := s.transition(execCtx, ref)
		if res.Outcome == scheduler.OutcomeFailed {
			l.Warn().Str(log.FieldListing, ref.String()).Str("reason", res.Reason).Msg("lifecycle transition failed")
		}
		results = append(results, res)
	}
	return results
}

func (s *sweep) transition(ctx context.Context, ref domain.ListingReference) (res scheduler.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = scheduler.Failed(ref, fmt.Sprintf("panic: %v", p))
		}
	}()
	cmd := s.issue(command.Header{Ref: ref, Actor: command.System()})
	_, err := s.exec.Execute(ctx, cmd)
	if err == nil {
		return scheduler.Transitioned(ref)
	}
	var conflict *command.ConflictError
	if errors.As(err, &conflict) {
		return scheduler.Skipped(ref, conflict.Message)
	}
	return scheduler.Failed(ref, err.Error())
}

// ActivationJob opens scheduled listings whose start time has passed.
type ActivationJob struct{ sweep }

func NewActivationJob(src ListingSource, exec command.Executor, logger zerolog.Logger) *ActivationJob {
	return &ActivationJob{sweep{
		name:   NameActivation,
		find:   src.ScheduledDue,
		issue:  func(h command.Header) command.Command { return command.ActivateListing{Header: h} },
		exec:   exec,
		logger: logger,
	}}
}

// ExpirationJob ends active listings whose end time has passed.
type ExpirationJob struct{ sweep }

func NewExpirationJob(src ListingSource, exec command.Executor, logger zerolog.Logger) *ExpirationJob {
	return &ExpirationJob{sweep{
		name:   NameExpiration,
		find:   src.ActiveExpired,
		issue:  func(h command.Header) command.Command { return command.ExpireListing{Header: h} },
		exec:   exec,
		logger: logger,
	}}
}

// PendingClosureJob closes listings whose confirmation grace period has elapsed.
type PendingClosureJob struct{ sweep }

func NewPendingClosureJob(src ListingSource, exec command.Executor, logger zerolog.Logger) *PendingClosureJob {
	return &PendingClosureJob{sweep{
		name:   NamePendingClosure,
		find:   src.ClosureDue,
		issue:  func(h command.Header) command.Command { return command.CloseListing{Header: h} },
		exec:   exec,
		logger: logger,
	}}
}

// DiscountExpirationJob removes time-boxed discounts once their window ends.
type DiscountExpirationJob struct{ sweep }

func NewDiscountExpirationJob(src ListingSource, exec command.Executor, logger zerolog.Logger) *DiscountExpirationJob {
	return &DiscountExpirationJob{sweep{
		name:   NameDiscountExpiration,
		find:   src.DiscountsExpired,
		issue:  func(h command.Header) command.Command { return command.RemoveDiscount{Header: h} },
		exec:   exec,
		logger: logger,
	}}
}

// Sweeper is what the scheduler needs from a lifecycle job.
type Sweeper interface {
	scheduler.Sweeper
	Name() string
}

// All returns the four jobs in the order they should be registered: a listing is
// activated before it can expire, and it expires before its closure comes due.
func All(src ListingSource, exec command.Executor, logger zerolog.Logger) []Sweeper {
	return []Sweeper{
		NewActivationJob(src, exec, logger),
		NewExpirationJob(src, exec, logger),
		NewPendingClosureJob(src, exec, logger),
		NewDiscountExpirationJob(src, exec, logger),
	}
}
