package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"marketbot/internal/command"
	"marketbot/internal/config"
	"marketbot/internal/domain"
	"marketbot/internal/engine/auth"
	"marketbot/internal/events"
	"marketbot/internal/log"
	"marketbot/internal/repo"
)

// Engine executes commands against the sqlite store. Every command runs in one
// transaction that also appends its event row. State transitions are guarded by the
// status that was read, so a listing moves at most once however many callers race for it.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
	Logger zerolog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{},
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Now:    time.Now,
		Logger: log.WithComponent("engine"),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) rules() config.ListingRules {
	if e.Config == nil {
		return config.Default().Listings
	}
	return e.Config.Listings
}

// Execute implements command.Executor.
func (e Engine) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	started := time.Now()
	var res command.Result
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = e.dispatch(ctx, tx, cmd)
		return err
	})
	l := log.WithContext(ctx, e.Logger)
	ev := l.Debug()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str(log.FieldCommand, cmd.Name()).
		Str(log.FieldListing, cmd.Reference().String()).
		Str(log.FieldActorID, cmd.Issuer().ID).
		Bool("authorize_only", cmd.Authorizing()).
		Dur(log.FieldDuration, time.Since(started)).
		Msg("command executed")
	if err != nil {
		return command.Result{}, err
	}
	return res, nil
}

func (e Engine) dispatch(ctx context.Context, tx *sql.Tx, cmd command.Command) (command.Result, error) {
	switch c := cmd.(type) {
	case command.ActivateListing:
		return e.activate(ctx, tx, c)
	case command.ExpireListing:
		return e.expire(ctx, tx, c)
	case command.CloseListing:
		return e.close(ctx, tx, c)
	case command.RemoveDiscount:
		return e.removeDiscount(ctx, tx, c)
	case command.WithdrawListing:
		return e.withdraw(ctx, tx, c)
	case command.ConfirmClosure:
		return e.confirmClosure(ctx, tx, c)
	case command.PlaceBid:
		return e.placeBid(ctx, tx, c)
	case command.BuyListing:
		return e.buy(ctx, tx, c)
	case command.UpdateMarket:
		return e.updateMarket(ctx, tx, c)
	case command.ApplyDiscount:
		return e.applyDiscount(ctx, tx, c)
	case command.ExtendListing:
		return e.extend(ctx, tx, c)
	case command.OfferTrade:
		return e.offerTrade(ctx, tx, c)
	case command.AcceptTrade:
		return e.acceptTrade(ctx, tx, c)
	case command.EnterGiveaway:
		return e.enterGiveaway(ctx, tx, c)
	default:
		return command.Result{}, fmt.Errorf("unsupported command %T", cmd)
	}
}

const txMaxElapsed = 2 * time.Second

func newTxBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = txMaxElapsed
	return bo
}

// isBusy reports sqlite lock contention that outlived the driver's busy timeout.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

// inTx runs fn in a transaction, retrying the whole transaction on lock contention.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return backoff.Retry(func() error {
		err := e.runTx(ctx, fn)
		if err != nil && isBusy(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newTxBackoff(), ctx))
}

func (e Engine) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// record appends an event stamped with the engine clock.
func (e Engine) record(ctx context.Context, tx *sql.Tx, evtType string, ref domain.ListingReference, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, ref, actorID, payload)
}

func conflict(ref domain.ListingReference, msg string) error {
	return &command.ConflictError{Ref: ref, Message: msg}
}

// load reads the listing and checks it is of the expected kind. An empty kind accepts any.
func (e Engine) load(ctx context.Context, tx *sql.Tx, ref domain.ListingReference, kind domain.ListingKind) (domain.Listing, error) {
	l, err := e.Repo.GetListing(ctx, tx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return l, conflict(ref, "That listing no longer exists.")
	}
	if err != nil {
		return l, fmt.Errorf("load listing %s: %w", ref, err)
	}
	if kind != "" && l.Kind != kind {
		return l, conflict(ref, "That button no longer matches this listing.")
	}
	return l, nil
}

// save writes l if its status is still expect.
func (e Engine) save(ctx context.Context, tx *sql.Tx, l domain.Listing, expect domain.ListingStatus) error {
	l.UpdatedAt = domain.FormatTime(e.now())
	err := e.Repo.UpdateListing(ctx, tx, l, expect)
	if errors.Is(err, repo.ErrStale) {
		return conflict(l.ListingReference, "This listing was just changed by someone else. Please try again.")
	}
	return err
}

func requireStatus(l domain.Listing, want domain.ListingStatus, msg string) error {
	if l.Status != want {
		return conflict(l.ListingReference, msg)
	}
	return nil
}

// due reports whether the stored timestamp is at or before now.
func due(ts string, now time.Time) bool {
	t, err := domain.ParseTime(ts)
	if err != nil {
		return false
	}
	return !t.After(now)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// discordTime renders t with the platform's localized timestamp markup.
func discordTime(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}
