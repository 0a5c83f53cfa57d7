// Package command defines the commands accepted by the execution boundary that both
// the interaction router and the lifecycle jobs submit to.
package command

import (
	"context"
	"time"

	"marketbot/internal/domain"
)

// SystemActorID is the actor recorded for commands issued by scheduled sweeps.
const SystemActorID = "system"

// Actor is the user (or the scheduler) on whose behalf a command runs.
type Actor struct {
	ID      string
	RoleIDs []string
}

// System returns the actor used by lifecycle jobs.
func System() Actor {
	return Actor{ID: SystemActorID}
}

// Command is one unit of work for an Executor.
type Command interface {
	Name() string
	Reference() domain.ListingReference
	Issuer() Actor
	// Authorizing reports whether only the entitlement check should run.
	Authorizing() bool
}

// Header carries the fields shared by every command.
type Header struct {
	Ref           domain.ListingReference
	Actor         Actor
	AuthorizeOnly bool
}

func (h Header) Reference() domain.ListingReference { return h.Ref }
func (h Header) Issuer() Actor                      { return h.Actor }
func (h Header) Authorizing() bool                  { return h.AuthorizeOnly }

// Result is what a successful execution hands back to the caller.
type Result struct {
	// Message, when set, replaces the canned acknowledgement for the verb.
	Message string
	// Replied is set when the executor already answered the user itself.
	Replied bool
}

// Executor is the single command-execution boundary.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, cmd Command) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// Lifecycle commands, issued by the scheduler.

type ActivateListing struct{ Header }

func (ActivateListing) Name() string { return "listing.activate" }

type ExpireListing struct{ Header }

func (ExpireListing) Name() string { return "listing.expire" }

type CloseListing struct{ Header }

func (CloseListing) Name() string { return "listing.close" }

type RemoveDiscount struct{ Header }

func (RemoveDiscount) Name() string { return "listing.discount.remove" }

// User commands, issued by the interaction router.

type WithdrawListing struct {
	Header
	Kind domain.ListingKind
}

func (WithdrawListing) Name() string { return "listing.withdraw" }

type ConfirmClosure struct{ Header }

func (ConfirmClosure) Name() string { return "listing.confirm" }

type PlaceBid struct {
	Header
	AmountCents int64
}

func (PlaceBid) Name() string { return "auction.bid" }

type BuyListing struct {
	Header
	// Quantity is nil when the buyer did not ask for more than one.
	Quantity *int
}

func (BuyListing) Name() string { return "market.buy" }

// UpdateMarket changes only the fields that are non-nil.
type UpdateMarket struct {
	Header
	ItemName    *string
	Description *string
	PriceCents  *int64
	Quantity    *int
	ImageURL    *string
}

func (UpdateMarket) Name() string { return "market.update" }

// Empty reports whether no field would change.
func (c UpdateMarket) Empty() bool {
	return c.ItemName == nil && c.Description == nil && c.PriceCents == nil && c.Quantity == nil && c.ImageURL == nil
}

type ApplyDiscount struct {
	Header
	Percent  int
	Duration time.Duration
}

func (ApplyDiscount) Name() string { return "market.discount.apply" }

type ExtendListing struct {
	Header
	Kind     domain.ListingKind
	Duration time.Duration
}

func (ExtendListing) Name() string { return "listing.extend" }

type OfferTrade struct {
	Header
	Offer string
}

func (OfferTrade) Name() string { return "trade.offer" }

type AcceptTrade struct {
	Header
	OfferID string
}

func (AcceptTrade) Name() string { return "trade.accept" }

type EnterGiveaway struct{ Header }

func (EnterGiveaway) Name() string { return "giveaway.enter" }
