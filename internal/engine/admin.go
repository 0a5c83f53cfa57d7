package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketbot/internal/action"
	"marketbot/internal/domain"
	"marketbot/internal/repo"
)

// ListingCreateOptions describes a listing posted by the operator tooling. Listings are
// otherwise created by the chat-side posting flow, which is out of this process.
type ListingCreateOptions struct {
	TenantID     string
	RoomID       string
	ItemRef      string
	Kind         domain.ListingKind
	SellerID     string
	Name         string
	Description  string
	ImageURL     string
	PriceCents   int64
	MinIncrement int64
	Quantity     int
	StartsAt     time.Time
	EndsAt       time.Time
	ActorID      string
}

func (e Engine) CreateListing(ctx context.Context, opts ListingCreateOptions) (domain.Listing, error) {
	if opts.TenantID == "" || opts.RoomID == "" {
		return domain.Listing{}, errors.New("tenant and room are required")
	}
	if !opts.Kind.Valid() {
		return domain.Listing{}, fmt.Errorf("unknown listing kind %q", opts.Kind)
	}
	if opts.SellerID == "" {
		return domain.Listing{}, errors.New("seller is required")
	}
	if opts.Name == "" {
		return domain.Listing{}, errors.New("name is required")
	}
	if opts.Kind == domain.KindMarket && opts.PriceCents <= 0 {
		return domain.Listing{}, errors.New("market listings need a price")
	}
	if opts.PriceCents < 0 || opts.MinIncrement < 0 {
		return domain.Listing{}, errors.New("amounts cannot be negative")
	}
	now := e.now()
	if opts.StartsAt.IsZero() {
		opts.StartsAt = now
	}
	if !opts.EndsAt.After(opts.StartsAt) {
		return domain.Listing{}, errors.New("ends_at must be after starts_at")
	}
	if opts.Quantity == 0 {
		opts.Quantity = 1
	}
	if opts.Quantity < 0 {
		return domain.Listing{}, errors.New("quantity cannot be negative")
	}
	if opts.ItemRef == "" {
		opts.ItemRef = newRef()
	}
	if len(opts.ItemRef) > MaxItemRefLength || strings.Contains(opts.ItemRef, action.Delimiter) {
		return domain.Listing{}, fmt.Errorf("item ref must be at most %d characters without %q", MaxItemRefLength, action.Delimiter)
	}
	if opts.ActorID == "" {
		opts.ActorID = opts.SellerID
	}

	status := domain.StatusActive
	if opts.StartsAt.After(now) {
		status = domain.StatusScheduled
	}
	stamp := domain.FormatTime(now)
	l := domain.Listing{
		ListingReference: domain.ListingReference{TenantID: opts.TenantID, RoomID: opts.RoomID, ItemRef: opts.ItemRef},
		Kind:             opts.Kind,
		SellerID:         opts.SellerID,
		Name:             opts.Name,
		Description:      opts.Description,
		ImageURL:         opts.ImageURL,
		PriceCents:       opts.PriceCents,
		MinIncrement:     opts.MinIncrement,
		Quantity:         opts.Quantity,
		Status:           status,
		StartsAt:         domain.FormatTime(opts.StartsAt),
		EndsAt:           domain.FormatTime(opts.EndsAt),
		CreatedAt:        stamp,
		UpdatedAt:        stamp,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.EnsureTenant(ctx, tx, l.TenantID, stamp); err != nil {
			return err
		}
		if err := e.Repo.InsertListing(ctx, tx, l); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return fmt.Errorf("listing %s already exists", l.ListingReference)
			}
			return err
		}
		return e.record(ctx, tx, "listing.created", l.ListingReference, opts.ActorID, map[string]any{
			"kind":   l.Kind,
			"status": l.Status,
		})
	})
	if err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

// GetListing reads one listing outside any command.
func (e Engine) GetListing(ctx context.Context, ref domain.ListingReference) (domain.Listing, error) {
	return e.Repo.GetListing(ctx, nil, ref)
}

// SetTenantManagers replaces the roles whose members count as marketplace managers.
func (e Engine) SetTenantManagers(ctx context.Context, tenantID string, roleIDs []string, actorID string) (domain.Tenant, error) {
	if tenantID == "" {
		return domain.Tenant{}, errors.New("tenant is required")
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.EnsureTenant(ctx, tx, tenantID, domain.FormatTime(e.now())); err != nil {
			return err
		}
		if err := e.Repo.SetManagerRoles(ctx, tx, tenantID, roleIDs); err != nil {
			return err
		}
		return e.record(ctx, tx, "tenant.managers.set", domain.ListingReference{TenantID: tenantID}, actorID, map[string]any{
			"role_ids": roleIDs,
		})
	})
	if err != nil {
		return domain.Tenant{}, err
	}
	return e.Repo.GetTenant(ctx, tenantID)
}
