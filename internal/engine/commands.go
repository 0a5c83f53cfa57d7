package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"marketbot/internal/command"
	"marketbot/internal/domain"
	"marketbot/internal/events"
	"marketbot/internal/repo"
)

const maxNameLength = 100

// withdrawable holds the statuses a seller can still pull a listing from.
var withdrawable = map[domain.ListingStatus]bool{
	domain.StatusScheduled: true,
	domain.StatusActive:    true,
}

func (e Engine) withdraw(ctx context.Context, tx *sql.Tx, c command.WithdrawListing) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, c.Kind)
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireSellerOrManager(ctx, tx, l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if !withdrawable[l.Status] {
		return command.Result{}, conflict(l.ListingReference, "This listing can no longer be withdrawn.")
	}
	if l.Kind == domain.KindAuction && c.Actor.ID == l.SellerID {
		_, err := e.Repo.TopBid(ctx, tx, l.ListingReference)
		if err == nil {
			return command.Result{}, command.Forbidden("Bids have been placed. Only a marketplace manager can withdraw this auction now.")
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return command.Result{}, err
		}
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}
	from := l.Status
	l.Status = domain.StatusWithdrawn
	if err := e.save(ctx, tx, l, from); err != nil {
		return command.Result{}, err
	}
	return command.Result{}, e.record(ctx, tx, "listing.withdrawn", l.ListingReference, c.Actor.ID, events.EventPayload{
		"from_status": from,
	})
}

func (e Engine) confirmClosure(ctx context.Context, tx *sql.Tx, c command.ConfirmClosure) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, "")
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireSellerOrManager(ctx, tx, l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if err := requireStatus(l, domain.StatusPendingClosure, "This listing is not waiting for confirmation."); err != nil {
		return command.Result{}, err
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}
	l.Status = domain.StatusClosed
	if err := e.save(ctx, tx, l, domain.StatusPendingClosure); err != nil {
		return command.Result{}, err
	}
	return command.Result{}, e.record(ctx, tx, "listing.closed", l.ListingReference, c.Actor.ID, events.EventPayload{
		"confirmed": true,
	})
}

// requireLive checks the listing is active and its end time has not passed. A listing
// past its end is treated as over even before the expiration sweep gets to it.
func (e Engine) requireLive(l domain.Listing, ended string) error {
	if l.Status != domain.StatusActive || due(l.EndsAt, e.now()) {
		return conflict(l.ListingReference, ended)
	}
	return nil
}

func (e Engine) placeBid(ctx context.Context, tx *sql.Tx, c command.PlaceBid) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, domain.KindAuction)
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireParticipant(l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if err := e.requireLive(l, "This auction is not open for bids."); err != nil {
		return command.Result{}, err
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}

	minimum := l.PriceCents
	top, err := e.Repo.TopBid(ctx, tx, l.ListingReference)
	switch {
	case err == nil:
		inc := l.MinIncrement
		if inc < 1 {
			inc = 1
		}
		minimum = top.AmountCents + inc
	case !errors.Is(err, repo.ErrNotFound):
		return command.Result{}, err
	}
	verr := &command.ValidationError{}
	if err == nil && top.BidderID == c.Actor.ID {
		verr.Add("amount", "You already hold the highest bid.")
	}
	if c.AmountCents < minimum {
		verr.Add("amount", fmt.Sprintf("Your bid must be at least %s.", domain.FormatCents(minimum)))
	}
	if err := verr.Err(); err != nil {
		return command.Result{}, err
	}

	b := domain.Bid{
		ID:               uuid.NewString(),
		ListingReference: l.ListingReference,
		BidderID:         c.Actor.ID,
		AmountCents:      c.AmountCents,
		CreatedAt:        domain.FormatTime(e.now()),
	}
	if err := e.Repo.InsertBid(ctx, tx, b); err != nil {
		return command.Result{}, fmt.Errorf("insert bid: %w", err)
	}
	if err := e.record(ctx, tx, "auction.bid", l.ListingReference, c.Actor.ID, events.EventPayload{
		"bid_id":       b.ID,
		"amount_cents": b.AmountCents,
	}); err != nil {
		return command.Result{}, err
	}
	return command.Result{Message: fmt.Sprintf("Your bid of %s is now the highest.", domain.FormatCents(b.AmountCents))}, nil
}

func (e Engine) buy(ctx context.Context, tx *sql.Tx, c command.BuyListing) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, domain.KindMarket)
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireParticipant(l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if err := e.requireLive(l, "This item is no longer for sale."); err != nil {
		return command.Result{}, err
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}
	qty := 1
	if c.Quantity != nil {
		qty = *c.Quantity
	}
	verr := &command.ValidationError{}
	if qty < 1 {
		verr.Add("quantity", "Buy at least one.")
	}
	if qty > l.Quantity {
		verr.Add("quantity", fmt.Sprintf("Only %d left.", l.Quantity))
	}
	if err := verr.Err(); err != nil {
		return command.Result{}, err
	}
	p := domain.Purchase{
		ID:               uuid.NewString(),
		ListingReference: l.ListingReference,
		BuyerID:          c.Actor.ID,
		Quantity:         qty,
		UnitPriceCents:   l.EffectivePriceCents(),
		CreatedAt:        domain.FormatTime(e.now()),
	}
	l.Quantity -= qty
	if l.Quantity == 0 {
		l.Status = domain.StatusClosed
	}
	if err := e.save(ctx, tx, l, domain.StatusActive); err != nil {
		return command.Result{}, err
	}
	if err := e.Repo.InsertPurchase(ctx, tx, p); err != nil {
		return command.Result{}, fmt.Errorf("insert purchase: %w", err)
	}
	if err := e.record(ctx, tx, "market.purchase", l.ListingReference, c.Actor.ID, events.EventPayload{
		"purchase_id":      p.ID,
		"quantity":         qty,
		"unit_price_cents": p.UnitPriceCents,
		"remaining":        l.Quantity,
	}); err != nil {
		return command.Result{}, err
	}
	total := p.UnitPriceCents * int64(qty)
	return command.Result{Message: fmt.Sprintf("You bought %d × %s for %s.", qty, l.Name, domain.FormatCents(total))}, nil
}

func (e Engine) updateMarket(ctx context.Context, tx *sql.Tx, c command.UpdateMarket) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, domain.KindMarket)
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireSellerOrManager(ctx, tx, l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if !withdrawable[l.Status] {
		return command.Result{}, conflict(l.ListingReference, "This listing can no longer be edited.")
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}

	verr := &command.ValidationError{}
	if c.Empty() {
		verr.Add("", "Nothing to change. Fill in at least one field.")
	}
	var changed []string
	if c.ItemName != nil {
		if utf8.RuneCountInString(*c.ItemName) > maxNameLength {
			verr.Add("name", fmt.Sprintf("The name can be at most %d characters.", maxNameLength))
		}
		l.Name = *c.ItemName
		changed = append(changed, "name")
	}
	if c.Description != nil {
		l.Description = *c.Description
		changed = append(changed, "description")
	}
	if c.PriceCents != nil {
		if *c.PriceCents <= 0 {
			verr.Add("price", "The price must be more than zero.")
		}
		l.PriceCents = *c.PriceCents
		changed = append(changed, "price")
	}
	if c.Quantity != nil {
		if *c.Quantity < 1 {
			verr.Add("quantity", "The quantity must be at least one.")
		}
		l.Quantity = *c.Quantity
		changed = append(changed, "quantity")
	}
	if c.ImageURL != nil {
		if !strings.HasPrefix(*c.ImageURL, "https://") && !strings.HasPrefix(*c.ImageURL, "http://") {
			verr.Add("image", "The image must be a link starting with https://.")
		}
		l.ImageURL = *c.ImageURL
		changed = append(changed, "image")
	}
	if err := verr.Err(); err != nil {
		return command.Result{}, err
	}
	if err := e.save(ctx, tx, l, l.Status); err != nil {
		return command.Result{}, err
	}
	return command.Result{}, e.record(ctx, tx, "market.updated", l.ListingReference, c.Actor.ID, events.EventPayload{
		"fields": changed,
	})
}

func (e Engine) applyDiscount(ctx context.Context, tx *sql.Tx, c command.ApplyDiscount) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, domain.KindMarket)
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireSellerOrManager(ctx, tx, l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if err := e.requireLive(l, "Only listings that are on sale can be discounted."); err != nil {
		return command.Result{}, err
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}
	rules := e.rules()
	verr := &command.ValidationError{}
	if c.Percent < 1 || c.Percent > rules.MaxDiscountPercent {
		verr.Add("percent", fmt.Sprintf("The discount must be between 1 and %d percent.", rules.MaxDiscountPercent))
	}
	if c.Duration <= 0 || c.Duration > rules.MaxExtension {
		verr.Add("hours", fmt.Sprintf("The discount can last at most %d hours.", int(rules.MaxExtension.Hours())))
	}
	if err := verr.Err(); err != nil {
		return command.Result{}, err
	}
	ends := e.now().Add(c.Duration)
	endsAt := domain.FormatTime(ends)
	percent := c.Percent
	l.DiscountPercent = &percent
	l.DiscountEndsAt = &endsAt
	if err := e.save(ctx, tx, l, domain.StatusActive); err != nil {
		return command.Result{}, err
	}
	if err := e.record(ctx, tx, "market.discount.applied", l.ListingReference, c.Actor.ID, events.EventPayload{
		"percent": percent,
		"ends_at": endsAt,
	}); err != nil {
		return command.Result{}, err
	}
	return command.Result{Message: fmt.Sprintf("%d%% off until %s.", percent, discordTime(ends, "f"))}, nil
}

func (e Engine) extend(ctx context.Context, tx *sql.Tx, c command.ExtendListing) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, c.Kind)
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireSellerOrManager(ctx, tx, l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if err := e.requireLive(l, "Only running listings can be extended."); err != nil {
		return command.Result{}, err
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}
	max := e.rules().MaxExtension
	if c.Duration <= 0 || c.Duration > max {
		verr := &command.ValidationError{}
		verr.Add("hours", fmt.Sprintf("A listing can be extended by at most %d hours at a time.", int(max.Hours())))
		return command.Result{}, verr
	}
	ends, err := domain.ParseTime(l.EndsAt)
	if err != nil {
		return command.Result{}, fmt.Errorf("listing %s ends_at: %w", l.ListingReference, err)
	}
	previous := l.EndsAt
	ends = ends.Add(c.Duration)
	l.EndsAt = domain.FormatTime(ends)
	if err := e.save(ctx, tx, l, domain.StatusActive); err != nil {
		return command.Result{}, err
	}
	if err := e.record(ctx, tx, "listing.extended", l.ListingReference, c.Actor.ID, events.EventPayload{
		"from_ends_at": previous,
		"to_ends_at":   l.EndsAt,
	}); err != nil {
		return command.Result{}, err
	}
	return command.Result{Message: fmt.Sprintf("Extended. It now ends %s.", discordTime(ends, "R"))}, nil
}

func (e Engine) offerTrade(ctx context.Context, tx *sql.Tx, c command.OfferTrade) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, domain.KindTrade)
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireParticipant(l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if err := e.requireLive(l, "This trade is no longer taking offers."); err != nil {
		return command.Result{}, err
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}
	offer := strings.TrimSpace(c.Offer)
	verr := &command.ValidationError{}
	if offer == "" {
		verr.Add("offer", "Describe what you are offering.")
	}
	if n := e.rules().MaxOfferLength; utf8.RuneCountInString(offer) > n {
		verr.Add("offer", fmt.Sprintf("Offers can be at most %d characters.", n))
	}
	if err := verr.Err(); err != nil {
		return command.Result{}, err
	}
	o := domain.TradeOffer{
		ID:               newRef(),
		ListingReference: l.ListingReference,
		OffererID:        c.Actor.ID,
		Offer:            offer,
		Status:           domain.OfferOpen,
		CreatedAt:        domain.FormatTime(e.now()),
	}
	if err := e.Repo.InsertOffer(ctx, tx, o); err != nil {
		return command.Result{}, fmt.Errorf("insert offer: %w", err)
	}
	return command.Result{}, e.record(ctx, tx, "trade.offered", l.ListingReference, c.Actor.ID, events.EventPayload{
		"offer_id": o.ID,
	})
}

func (e Engine) acceptTrade(ctx context.Context, tx *sql.Tx, c command.AcceptTrade) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, domain.KindTrade)
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireSellerOrManager(ctx, tx, l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if err := requireStatus(l, domain.StatusActive, "This trade has already ended."); err != nil {
		return command.Result{}, err
	}
	o, err := e.Repo.GetOffer(ctx, tx, l.ListingReference, c.OfferID)
	if errors.Is(err, repo.ErrNotFound) {
		return command.Result{}, conflict(l.ListingReference, "That offer no longer exists.")
	}
	if err != nil {
		return command.Result{}, err
	}
	if o.Status != domain.OfferOpen {
		return command.Result{}, conflict(l.ListingReference, "That offer has already been answered.")
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}
	if err := e.Repo.SettleOffers(ctx, tx, l.ListingReference, o.ID); err != nil {
		return command.Result{}, fmt.Errorf("settle offers: %w", err)
	}
	l.Status = domain.StatusClosed
	l.WinnerID = optionalString(o.OffererID)
	if err := e.save(ctx, tx, l, domain.StatusActive); err != nil {
		return command.Result{}, err
	}
	return command.Result{}, e.record(ctx, tx, "trade.accepted", l.ListingReference, c.Actor.ID, events.EventPayload{
		"offer_id":   o.ID,
		"offerer_id": o.OffererID,
	})
}

func (e Engine) enterGiveaway(ctx context.Context, tx *sql.Tx, c command.EnterGiveaway) (command.Result, error) {
	l, err := e.load(ctx, tx, c.Ref, domain.KindGiveaway)
	if err != nil {
		return command.Result{}, err
	}
	if err := e.Auth.RequireParticipant(l, c.Actor); err != nil {
		return command.Result{}, err
	}
	if err := e.requireLive(l, "This giveaway is closed."); err != nil {
		return command.Result{}, err
	}
	if c.Authorizing() {
		return command.Result{}, nil
	}
	err = e.Repo.InsertEntry(ctx, tx, l.ListingReference, c.Actor.ID, domain.FormatTime(e.now()))
	if errors.Is(err, repo.ErrDuplicate) {
		return command.Result{}, conflict(l.ListingReference, "You have already entered this giveaway.")
	}
	if err != nil {
		return command.Result{}, fmt.Errorf("insert entry: %w", err)
	}
	return command.Result{}, e.record(ctx, tx, "giveaway.entered", l.ListingReference, c.Actor.ID, nil)
}
