package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketbot/internal/action"
	"marketbot/internal/command"
	"marketbot/internal/config"
	"marketbot/internal/db"
	"marketbot/internal/domain"
	"marketbot/internal/engine"
	"marketbot/internal/jobs"
	"marketbot/internal/migrate"
	"marketbot/internal/scheduler"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *clock
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clk := &clock{t: t0}
	eng := engine.New(conn, config.Default())
	eng.Now = clk.Now
	eng.Logger = zerolog.Nop()
	return testEnv{Engine: eng, Ctx: context.Background(), clock: clk}
}

func (env testEnv) listing(t *testing.T, kind domain.ListingKind, mutate func(*engine.ListingCreateOptions)) domain.Listing {
	t.Helper()
	opts := engine.ListingCreateOptions{
		TenantID:     "guild-1",
		RoomID:       "room-1",
		Kind:         kind,
		SellerID:     "seller",
		Name:         "Blue lamp",
		PriceCents:   1000,
		MinIncrement: 100,
		EndsAt:       t0.Add(time.Hour),
	}
	if mutate != nil {
		mutate(&opts)
	}
	l, err := env.Engine.CreateListing(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return l
}

func (env testEnv) get(t *testing.T, ref domain.ListingReference) domain.Listing {
	t.Helper()
	l, err := env.Engine.GetListing(env.Ctx, ref)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	return l
}

func user(id string, roles ...string) command.Actor {
	return command.Actor{ID: id, RoleIDs: roles}
}

func hdr(ref domain.ListingReference, actor command.Actor) command.Header {
	return command.Header{Ref: ref, Actor: actor}
}

func isConflict(err error) bool {
	var c *command.ConflictError
	return errors.As(err, &c)
}

func isForbidden(err error) bool {
	var a *command.AuthorizationError
	return errors.As(err, &a)
}

func TestCreateListingStartsScheduledOrActive(t *testing.T) {
	env := newTestEnv(t)
	now := env.listing(t, domain.KindAuction, nil)
	if now.Status != domain.StatusActive {
		t.Fatalf("expected active, got %s", now.Status)
	}
	later := env.listing(t, domain.KindAuction, func(o *engine.ListingCreateOptions) {
		o.StartsAt = t0.Add(10 * time.Minute)
	})
	if later.Status != domain.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", later.Status)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "guild-1", "listing.created", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 creation events, got %d", len(evts))
	}
}

func TestCreateListingGeneratesDistinctItemRefs(t *testing.T) {
	env := newTestEnv(t)
	a := env.listing(t, domain.KindMarket, nil)
	b := env.listing(t, domain.KindMarket, nil)
	if a.ItemRef == b.ItemRef {
		t.Fatalf("same name in the same second reused item ref %s", a.ItemRef)
	}
	if len(a.ItemRef) > engine.MaxItemRefLength || strings.Contains(a.ItemRef, action.Delimiter) {
		t.Fatalf("generated item ref %q is not identifier safe", a.ItemRef)
	}
}

func TestAcceptTradeIdentifierFitsWithPlatformIDs(t *testing.T) {
	env := newTestEnv(t)
	room := "12345678901234567890"
	l := env.listing(t, domain.KindTrade, func(o *engine.ListingCreateOptions) { o.RoomID = room })
	if _, err := env.Engine.Execute(env.Ctx, command.OfferTrade{Header: hdr(l.ListingReference, user("a")), Offer: "a bike"}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	offers, err := env.Engine.Repo.ListOffers(env.Ctx, l.ListingReference)
	if err != nil || len(offers) != 1 {
		t.Fatalf("list offers: %v (%d)", err, len(offers))
	}
	raw, err := action.Encode(action.VerbAcceptTrade, room, l.ItemRef, offers[0].ID)
	if err != nil {
		t.Fatalf("encode accept button: %v", err)
	}
	id, err := action.Decode(raw)
	if err != nil || id.Segment(2) != offers[0].ID {
		t.Fatalf("decode %q: %v", raw, err)
	}

	longest := strings.Repeat("x", engine.MaxItemRefLength)
	if _, err := action.Encode(action.VerbAcceptTrade, room, longest, offers[0].ID); err != nil {
		t.Fatalf("longest allowed item ref does not fit: %v", err)
	}
	_, err = env.Engine.CreateListing(env.Ctx, engine.ListingCreateOptions{
		TenantID: "guild-1", RoomID: room, ItemRef: longest + "x", Kind: domain.KindTrade,
		SellerID: "seller", Name: "Bike", EndsAt: t0.Add(time.Hour),
	})
	if err == nil {
		t.Fatal("expected over-long item ref to be rejected")
	}
}

func TestCreateListingRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]engine.ListingCreateOptions{
		"kind":   {TenantID: "g", RoomID: "r", Kind: "raffle", SellerID: "s", Name: "x", EndsAt: t0.Add(time.Hour)},
		"ends":   {TenantID: "g", RoomID: "r", Kind: domain.KindTrade, SellerID: "s", Name: "x", EndsAt: t0},
		"price":  {TenantID: "g", RoomID: "r", Kind: domain.KindMarket, SellerID: "s", Name: "x", EndsAt: t0.Add(time.Hour)},
		"seller": {TenantID: "g", RoomID: "r", Kind: domain.KindTrade, Name: "x", EndsAt: t0.Add(time.Hour)},
	}
	for name, opts := range cases {
		if _, err := env.Engine.CreateListing(env.Ctx, opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLifecycleAuctionWithBids(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindAuction, func(o *engine.ListingCreateOptions) {
		o.StartsAt = t0.Add(time.Minute)
		o.EndsAt = t0.Add(time.Hour)
	})
	sys := command.System()

	if _, err := env.Engine.Execute(env.Ctx, command.ActivateListing{Header: hdr(l.ListingReference, sys)}); !isConflict(err) {
		t.Fatalf("activation before start should conflict, got %v", err)
	}
	env.clock.Advance(time.Minute)
	if _, err := env.Engine.Execute(env.Ctx, command.ActivateListing{Header: hdr(l.ListingReference, sys)}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := env.get(t, l.ListingReference).Status; got != domain.StatusActive {
		t.Fatalf("expected active, got %s", got)
	}

	res, err := env.Engine.Execute(env.Ctx, command.PlaceBid{Header: hdr(l.ListingReference, user("alice")), AmountCents: 1000})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if !strings.Contains(res.Message, "10.00") {
		t.Fatalf("unexpected bid message %q", res.Message)
	}
	if _, err := env.Engine.Execute(env.Ctx, command.PlaceBid{Header: hdr(l.ListingReference, user("bob")), AmountCents: 1050}); err == nil {
		t.Fatalf("expected bid below increment to fail")
	}
	if _, err := env.Engine.Execute(env.Ctx, command.PlaceBid{Header: hdr(l.ListingReference, user("bob")), AmountCents: 1100}); err != nil {
		t.Fatalf("second bid: %v", err)
	}

	env.clock.Advance(time.Hour)
	if _, err := env.Engine.Execute(env.Ctx, command.ExpireListing{Header: hdr(l.ListingReference, sys)}); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got := env.get(t, l.ListingReference)
	if got.Status != domain.StatusPendingClosure {
		t.Fatalf("expected pending_closure, got %s", got.Status)
	}
	if got.WinnerID == nil || *got.WinnerID != "bob" {
		t.Fatalf("expected bob to win, got %v", got.WinnerID)
	}
	if got.ClosesAt == nil {
		t.Fatalf("expected closes_at to be set")
	}

	if _, err := env.Engine.Execute(env.Ctx, command.CloseListing{Header: hdr(l.ListingReference, sys)}); !isConflict(err) {
		t.Fatalf("close inside grace period should conflict, got %v", err)
	}
	env.clock.Advance(config.Default().Listings.ClosureGrace)
	if _, err := env.Engine.Execute(env.Ctx, command.CloseListing{Header: hdr(l.ListingReference, sys)}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := env.get(t, l.ListingReference).Status; got != domain.StatusClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestExpireWithoutBidsCloses(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindAuction, nil)
	env.clock.Advance(2 * time.Hour)
	if _, err := env.Engine.Execute(env.Ctx, command.ExpireListing{Header: hdr(l.ListingReference, command.System())}); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got := env.get(t, l.ListingReference)
	if got.Status != domain.StatusClosed || got.WinnerID != nil {
		t.Fatalf("expected closed without winner, got %s %v", got.Status, got.WinnerID)
	}
}

func TestTransitionHappensOnce(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindTrade, nil)
	env.clock.Advance(2 * time.Hour)
	cmd := command.ExpireListing{Header: hdr(l.ListingReference, command.System())}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Execute(env.Ctx, cmd)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case isConflict(err):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one transition, got %d", ok)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "guild-1", "listing.expired", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one expiry event, got %d", len(evts))
	}
}

func TestLifecycleCommandsNeedSystemActor(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindTrade, nil)
	env.clock.Advance(2 * time.Hour)
	_, err := env.Engine.Execute(env.Ctx, command.ExpireListing{Header: hdr(l.ListingReference, user("seller"))})
	if !isForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSellerCannotBidOnOwnAuction(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindAuction, nil)
	_, err := env.Engine.Execute(env.Ctx, command.PlaceBid{Header: hdr(l.ListingReference, user("seller")), AmountCents: 5000})
	if !isForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuthorizeOnlyChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindMarket, nil)
	h := hdr(l.ListingReference, user("buyer"))
	h.AuthorizeOnly = true
	if _, err := env.Engine.Execute(env.Ctx, command.BuyListing{Header: h}); err != nil {
		t.Fatalf("authorize buy: %v", err)
	}
	if got := env.get(t, l.ListingReference); got.Quantity != 1 || got.Status != domain.StatusActive {
		t.Fatalf("authorize-only mutated listing: %+v", got)
	}

	h.Actor = user("seller")
	if _, err := env.Engine.Execute(env.Ctx, command.BuyListing{Header: h}); !isForbidden(err) {
		t.Fatalf("expected seller to be refused, got %v", err)
	}
}

func TestManagerRolesGrantSellerRights(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindMarket, nil)
	if _, err := env.Engine.SetTenantManagers(env.Ctx, "guild-1", []string{"mods"}, "owner"); err != nil {
		t.Fatalf("set managers: %v", err)
	}
	_, err := env.Engine.Execute(env.Ctx, command.ApplyDiscount{Header: hdr(l.ListingReference, user("random", "members")), Percent: 10, Duration: time.Hour})
	if !isForbidden(err) {
		t.Fatalf("expected forbidden for non-manager, got %v", err)
	}
	if _, err := env.Engine.Execute(env.Ctx, command.ApplyDiscount{Header: hdr(l.ListingReference, user("mod", "mods")), Percent: 10, Duration: time.Hour}); err != nil {
		t.Fatalf("manager discount: %v", err)
	}
	got := env.get(t, l.ListingReference)
	if got.EffectivePriceCents() != 900 {
		t.Fatalf("expected discounted price 900, got %d", got.EffectivePriceCents())
	}
}

func TestBuyDecrementsAndClosesWhenSoldOut(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindMarket, func(o *engine.ListingCreateOptions) { o.Quantity = 3 })
	two := 2
	if _, err := env.Engine.Execute(env.Ctx, command.BuyListing{Header: hdr(l.ListingReference, user("a")), Quantity: &two}); err != nil {
		t.Fatalf("buy two: %v", err)
	}
	if got := env.get(t, l.ListingReference); got.Quantity != 1 || got.Status != domain.StatusActive {
		t.Fatalf("unexpected listing after first purchase: qty=%d status=%s", got.Quantity, got.Status)
	}
	if _, err := env.Engine.Execute(env.Ctx, command.BuyListing{Header: hdr(l.ListingReference, user("b")), Quantity: &two}); err == nil {
		t.Fatalf("expected buying more than available to fail")
	}
	if _, err := env.Engine.Execute(env.Ctx, command.BuyListing{Header: hdr(l.ListingReference, user("b"))}); err != nil {
		t.Fatalf("buy last: %v", err)
	}
	if got := env.get(t, l.ListingReference).Status; got != domain.StatusClosed {
		t.Fatalf("expected closed when sold out, got %s", got)
	}
	if _, err := env.Engine.Execute(env.Ctx, command.BuyListing{Header: hdr(l.ListingReference, user("c"))}); !isConflict(err) {
		t.Fatalf("expected conflict on closed listing, got %v", err)
	}
}

func TestUpdateMarketValidation(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindMarket, nil)
	seller := user("seller")
	_, err := env.Engine.Execute(env.Ctx, command.UpdateMarket{Header: hdr(l.ListingReference, seller)})
	var verr *command.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for empty update, got %v", err)
	}
	bad := "ftp://example.com/x.png"
	zero := int64(0)
	_, err = env.Engine.Execute(env.Ctx, command.UpdateMarket{Header: hdr(l.ListingReference, seller), ImageURL: &bad, PriceCents: &zero})
	if !errors.As(err, &verr) || len(verr.Problems) != 2 {
		t.Fatalf("expected two problems, got %v", err)
	}
	name := "Red lamp"
	if _, err := env.Engine.Execute(env.Ctx, command.UpdateMarket{Header: hdr(l.ListingReference, seller), ItemName: &name}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := env.get(t, l.ListingReference).Name; got != name {
		t.Fatalf("expected name %q, got %q", name, got)
	}
}

func TestExtendRespectsMaximum(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindGiveaway, nil)
	max := config.Default().Listings.MaxExtension
	if _, err := env.Engine.Execute(env.Ctx, command.ExtendListing{Header: hdr(l.ListingReference, user("seller")), Kind: domain.KindGiveaway, Duration: max + time.Hour}); err == nil {
		t.Fatalf("expected extension beyond maximum to fail")
	}
	if _, err := env.Engine.Execute(env.Ctx, command.ExtendListing{Header: hdr(l.ListingReference, user("seller")), Kind: domain.KindGiveaway, Duration: 2 * time.Hour}); err != nil {
		t.Fatalf("extend: %v", err)
	}
	want := domain.FormatTime(t0.Add(3 * time.Hour))
	if got := env.get(t, l.ListingReference).EndsAt; got != want {
		t.Fatalf("expected ends_at %s, got %s", want, got)
	}
	if _, err := env.Engine.Execute(env.Ctx, command.ExtendListing{Header: hdr(l.ListingReference, user("seller")), Kind: domain.KindAuction, Duration: time.Hour}); !isConflict(err) {
		t.Fatalf("expected kind mismatch conflict, got %v", err)
	}
}

func TestTradeOfferAccepted(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindTrade, nil)
	for _, who := range []string{"a", "b"} {
		if _, err := env.Engine.Execute(env.Ctx, command.OfferTrade{Header: hdr(l.ListingReference, user(who)), Offer: "two apples from " + who}); err != nil {
			t.Fatalf("offer: %v", err)
		}
	}
	offers, err := env.Engine.Repo.ListOffers(env.Ctx, l.ListingReference)
	if err != nil || len(offers) != 2 {
		t.Fatalf("list offers: %v (%d)", err, len(offers))
	}
	var pick domain.TradeOffer
	for _, o := range offers {
		if o.OffererID == "b" {
			pick = o
		}
	}
	if _, err := env.Engine.Execute(env.Ctx, command.AcceptTrade{Header: hdr(l.ListingReference, user("seller")), OfferID: pick.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got := env.get(t, l.ListingReference)
	if got.Status != domain.StatusClosed || got.WinnerID == nil || *got.WinnerID != "b" {
		t.Fatalf("unexpected listing after accept: %s %v", got.Status, got.WinnerID)
	}
	offers, _ = env.Engine.Repo.ListOffers(env.Ctx, l.ListingReference)
	for _, o := range offers {
		want := domain.OfferDeclined
		if o.ID == pick.ID {
			want = domain.OfferAccepted
		}
		if o.Status != want {
			t.Fatalf("offer %s: expected %s, got %s", o.OffererID, want, o.Status)
		}
	}
}

func TestGiveawayEntryOncePerUser(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindGiveaway, nil)
	if _, err := env.Engine.Execute(env.Ctx, command.EnterGiveaway{Header: hdr(l.ListingReference, user("a"))}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := env.Engine.Execute(env.Ctx, command.EnterGiveaway{Header: hdr(l.ListingReference, user("a"))}); !isConflict(err) {
		t.Fatalf("expected duplicate entry conflict, got %v", err)
	}
	env.clock.Advance(2 * time.Hour)
	if _, err := env.Engine.Execute(env.Ctx, command.ExpireListing{Header: hdr(l.ListingReference, command.System())}); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got := env.get(t, l.ListingReference)
	if got.WinnerID == nil || *got.WinnerID != "a" {
		t.Fatalf("expected the only entrant to win, got %v", got.WinnerID)
	}
}

func TestWithdrawAuctionWithBidsNeedsManager(t *testing.T) {
	env := newTestEnv(t)
	l := env.listing(t, domain.KindAuction, nil)
	if _, err := env.Engine.SetTenantManagers(env.Ctx, "guild-1", []string{"mods"}, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Execute(env.Ctx, command.PlaceBid{Header: hdr(l.ListingReference, user("alice")), AmountCents: 1000}); err != nil {
		t.Fatalf("bid: %v", err)
	}
	w := command.WithdrawListing{Header: hdr(l.ListingReference, user("seller")), Kind: domain.KindAuction}
	if _, err := env.Engine.Execute(env.Ctx, w); !isForbidden(err) {
		t.Fatalf("expected seller withdraw to be refused, got %v", err)
	}
	w.Actor = user("mod", "mods")
	if _, err := env.Engine.Execute(env.Ctx, w); err != nil {
		t.Fatalf("manager withdraw: %v", err)
	}
	if got := env.get(t, l.ListingReference).Status; got != domain.StatusWithdrawn {
		t.Fatalf("expected withdrawn, got %s", got)
	}
}

func TestJobsSweepRealStore(t *testing.T) {
	env := newTestEnv(t)
	scheduled := env.listing(t, domain.KindMarket, func(o *engine.ListingCreateOptions) {
		o.ItemRef = "scheduled"
		o.StartsAt = t0.Add(time.Minute)
	})
	ending := env.listing(t, domain.KindTrade, func(o *engine.ListingCreateOptions) {
		o.ItemRef = "ending"
		o.EndsAt = t0.Add(2 * time.Minute)
	})
	env.clock.Advance(5 * time.Minute)
	now := env.clock.Now()

	all := jobs.All(env.Engine.Repo, env.Engine, zerolog.Nop())
	var results []scheduler.Result
	for _, j := range all {
		results = append(results, j.Sweep(env.Ctx, now)...)
	}
	tally := scheduler.Tally(results)
	if tally[scheduler.OutcomeTransitioned] != 2 || tally[scheduler.OutcomeFailed] != 0 {
		t.Fatalf("unexpected tally %v (%+v)", tally, results)
	}
	if got := env.get(t, scheduled.ListingReference).Status; got != domain.StatusActive {
		t.Fatalf("expected scheduled listing active, got %s", got)
	}
	if got := env.get(t, ending.ListingReference).Status; got != domain.StatusClosed {
		t.Fatalf("expected ended trade closed, got %s", got)
	}

	for _, j := range all {
		if res := j.Sweep(env.Ctx, now); len(res) != 0 {
			t.Fatalf("%s: expected nothing left to do, got %+v", j.Name(), res)
		}
	}
}
