package engine

import (
	"context"
	"database/sql"
	"errors"

	"marketbot/internal/command"
	"marketbot/internal/domain"
	"marketbot/internal/events"
	"marketbot/internal/repo"
)

// Lifecycle transitions, issued by the scheduler's system actor.

func (e Engine) activate(ctx context.Context, tx *sql.Tx, c command.ActivateListing) (command.Result, error) {
	if err := e.Auth.RequireSystem(c.Actor); err != nil {
		return command.Result{}, err
	}
	l, err := e.load(ctx, tx, c.Ref, "")
	if err != nil {
		return command.Result{}, err
	}
	if err := requireStatus(l, domain.StatusScheduled, "listing is no longer scheduled"); err != nil {
		return command.Result{}, err
	}
	if !due(l.StartsAt, e.now()) {
		return command.Result{}, conflict(l.ListingReference, "listing is not due to start yet")
	}
	l.Status = domain.StatusActive
	if err := e.save(ctx, tx, l, domain.StatusScheduled); err != nil {
		return command.Result{}, err
	}
	return command.Result{}, e.record(ctx, tx, "listing.activated", l.ListingReference, c.Actor.ID, events.EventPayload{
		"kind": l.Kind,
	})
}

// expire ends an active listing. Auctions with bids and giveaways with entrants move to
// pending_closure with a winner and a grace period for the seller to confirm; everything
// else closes straight away.
func (e Engine) expire(ctx context.Context, tx *sql.Tx, c command.ExpireListing) (command.Result, error) {
	if err := e.Auth.RequireSystem(c.Actor); err != nil {
		return command.Result{}, err
	}
	l, err := e.load(ctx, tx, c.Ref, "")
	if err != nil {
		return command.Result{}, err
	}
	if err := requireStatus(l, domain.StatusActive, "listing is no longer active"); err != nil {
		return command.Result{}, err
	}
	now := e.now()
	if !due(l.EndsAt, now) {
		return command.Result{}, conflict(l.ListingReference, "listing has not ended yet")
	}

	winner, err := e.pickWinner(ctx, tx, l)
	if err != nil {
		return command.Result{}, err
	}
	if winner == "" {
		l.Status = domain.StatusClosed
	} else {
		l.Status = domain.StatusPendingClosure
		l.WinnerID = &winner
		closes := domain.FormatTime(now.Add(e.rules().ClosureGrace))
		l.ClosesAt = &closes
	}
	if err := e.save(ctx, tx, l, domain.StatusActive); err != nil {
		return command.Result{}, err
	}
	return command.Result{}, e.record(ctx, tx, "listing.expired", l.ListingReference, c.Actor.ID, events.EventPayload{
		"to_status": l.Status,
		"winner_id": winner,
	})
}

func (e Engine) pickWinner(ctx context.Context, tx *sql.Tx, l domain.Listing) (string, error) {
	switch l.Kind {
	case domain.KindAuction:
		top, err := e.Repo.TopBid(ctx, tx, l.ListingReference)
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return top.BidderID, nil
	case domain.KindGiveaway:
		id, err := e.Repo.DrawEntrant(ctx, tx, l.ListingReference)
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil
		}
		return id, err
	default:
		return "", nil
	}
}

func (e Engine) close(ctx context.Context, tx *sql.Tx, c command.CloseListing) (command.Result, error) {
	if err := e.Auth.RequireSystem(c.Actor); err != nil {
		return command.Result{}, err
	}
	l, err := e.load(ctx, tx, c.Ref, "")
	if err != nil {
		return command.Result{}, err
	}
	if err := requireStatus(l, domain.StatusPendingClosure, "listing is no longer pending closure"); err != nil {
		return command.Result{}, err
	}
	if l.ClosesAt == nil || !due(*l.ClosesAt, e.now()) {
		return command.Result{}, conflict(l.ListingReference, "closure grace period has not elapsed")
	}
	l.Status = domain.StatusClosed
	if err := e.save(ctx, tx, l, domain.StatusPendingClosure); err != nil {
		return command.Result{}, err
	}
	return command.Result{}, e.record(ctx, tx, "listing.closed", l.ListingReference, c.Actor.ID, events.EventPayload{
		"confirmed": false,
	})
}

func (e Engine) removeDiscount(ctx context.Context, tx *sql.Tx, c command.RemoveDiscount) (command.Result, error) {
	if err := e.Auth.RequireSystem(c.Actor); err != nil {
		return command.Result{}, err
	}
	l, err := e.load(ctx, tx, c.Ref, "")
	if err != nil {
		return command.Result{}, err
	}
	if l.DiscountEndsAt == nil {
		return command.Result{}, conflict(l.ListingReference, "listing has no discount")
	}
	if !due(*l.DiscountEndsAt, e.now()) {
		return command.Result{}, conflict(l.ListingReference, "discount has not ended yet")
	}
	percent := l.DiscountPercent
	l.DiscountPercent = nil
	l.DiscountEndsAt = nil
	if err := e.save(ctx, tx, l, l.Status); err != nil {
		return command.Result{}, err
	}
	return command.Result{}, e.record(ctx, tx, "market.discount.removed", l.ListingReference, c.Actor.ID, events.EventPayload{
		"percent": percent,
	})
}
