package domain

import (
	"fmt"
	"time"
)

// ListingKind identifies the marketplace format of a listing.
type ListingKind string

const (
	KindAuction  ListingKind = "auction"
	KindMarket   ListingKind = "market"
	KindTrade    ListingKind = "trade"
	KindGiveaway ListingKind = "giveaway"
)

// Valid reports whether k is one of the known listing kinds.
func (k ListingKind) Valid() bool {
	switch k {
	case KindAuction, KindMarket, KindTrade, KindGiveaway:
		return true
	}
	return false
}

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	StatusScheduled      ListingStatus = "scheduled"
	StatusActive         ListingStatus = "active"
	StatusPendingClosure ListingStatus = "pending_closure"
	StatusClosed         ListingStatus = "closed"
	StatusWithdrawn      ListingStatus = "withdrawn"
)

// Open reports whether the listing can still be transitioned by a sweep or a user.
func (s ListingStatus) Open() bool {
	return s == StatusScheduled || s == StatusActive || s == StatusPendingClosure
}

// ListingReference is the composite key of one listing instance.
type ListingReference struct {
	TenantID string `json:"tenant_id"`
	RoomID   string `json:"room_id"`
	ItemRef  string `json:"item_ref"`
}

func (r ListingReference) String() string {
	return fmt.Sprintf("%s/%s/%s", r.TenantID, r.RoomID, r.ItemRef)
}

// IsZero reports whether no part of the reference is set.
func (r ListingReference) IsZero() bool {
	return r.TenantID == "" && r.RoomID == "" && r.ItemRef == ""
}

type Tenant struct {
	ID             string   `json:"id"`
	ManagerRoleIDs []string `json:"manager_role_ids"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

type Listing struct {
	ListingReference
	Kind            ListingKind   `json:"kind" enum:"auction,market,trade,giveaway"`
	SellerID        string        `json:"seller_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	ImageURL        string        `json:"image_url,omitempty"`
	PriceCents      int64         `json:"price_cents"`
	MinIncrement    int64         `json:"min_increment_cents,omitempty"`
	Quantity        int           `json:"quantity"`
	Status          ListingStatus `json:"status" enum:"scheduled,active,pending_closure,closed,withdrawn"`
	StartsAt        string        `json:"starts_at" format:"date-time"`
	EndsAt          string        `json:"ends_at" format:"date-time"`
	ClosesAt        *string       `json:"closes_at,omitempty" format:"date-time"`
	DiscountPercent *int          `json:"discount_percent,omitempty"`
	DiscountEndsAt  *string       `json:"discount_ends_at,omitempty" format:"date-time"`
	WinnerID        *string       `json:"winner_id,omitempty"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
	UpdatedAt       string        `json:"updated_at" format:"date-time"`
}

// EffectivePriceCents applies the running discount, if any.
func (l Listing) EffectivePriceCents() int64 {
	if l.DiscountPercent == nil || *l.DiscountPercent <= 0 {
		return l.PriceCents
	}
	return l.PriceCents * int64(100-*l.DiscountPercent) / 100
}

type Bid struct {
	ID string `json:"id"`
	ListingReference
	BidderID    string `json:"bidder_id"`
	AmountCents int64  `json:"amount_cents"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Purchase struct {
	ID string `json:"id"`
	ListingReference
	BuyerID        string `json:"buyer_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

const (
	OfferOpen     = "open"
	OfferAccepted = "accepted"
	OfferDeclined = "declined"
)

type TradeOffer struct {
	ID string `json:"id"`
	ListingReference
	OffererID string `json:"offerer_id"`
	Offer     string `json:"offer"`
	Status    string `json:"status" enum:"open,accepted,declined"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
	EntityID string `json:"entity_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}

// FormatTime renders t the way timestamps are stored and compared.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
