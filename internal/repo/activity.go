package repo

import (
	"context"
	"database/sql"

	"marketbot/internal/domain"
)

func (r Repo) InsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bids(id,tenant_id,room_id,item_ref,bidder_id,amount_cents,created_at) VALUES (?,?,?,?,?,?,?)`,
		b.ID, b.TenantID, b.RoomID, b.ItemRef, b.BidderID, b.AmountCents, b.CreatedAt)
	return err
}

// TopBid returns the highest bid on the listing, earliest first on ties, or ErrNotFound.
func (r Repo) TopBid(ctx context.Context, tx *sql.Tx, ref domain.ListingReference) (domain.Bid, error) {
	var b domain.Bid
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,tenant_id,room_id,item_ref,bidder_id,amount_cents,created_at FROM bids
WHERE `+refWhere+` ORDER BY amount_cents DESC, created_at ASC LIMIT 1`, refArgs(ref)...).
		Scan(&b.ID, &b.TenantID, &b.RoomID, &b.ItemRef, &b.BidderID, &b.AmountCents, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) ListBids(ctx context.Context, ref domain.ListingReference) ([]domain.Bid, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,room_id,item_ref,bidder_id,amount_cents,created_at FROM bids
WHERE `+refWhere+` ORDER BY amount_cents DESC, created_at ASC`, refArgs(ref)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.TenantID, &b.RoomID, &b.ItemRef, &b.BidderID, &b.AmountCents, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) InsertPurchase(ctx context.Context, tx *sql.Tx, p domain.Purchase) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO purchases(id,tenant_id,room_id,item_ref,buyer_id,quantity,unit_price_cents,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.TenantID, p.RoomID, p.ItemRef, p.BuyerID, p.Quantity, p.UnitPriceCents, p.CreatedAt)
	return err
}

func (r Repo) InsertOffer(ctx context.Context, tx *sql.Tx, o domain.TradeOffer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO trade_offers(id,tenant_id,room_id,item_ref,offerer_id,offer,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		o.ID, o.TenantID, o.RoomID, o.ItemRef, o.OffererID, o.Offer, o.Status, o.CreatedAt)
	return err
}

func (r Repo) GetOffer(ctx context.Context, tx *sql.Tx, ref domain.ListingReference, id string) (domain.TradeOffer, error) {
	var o domain.TradeOffer
	args := append([]any{id}, refArgs(ref)...)
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,tenant_id,room_id,item_ref,offerer_id,offer,status,created_at FROM trade_offers
WHERE id=? AND `+refWhere, args...).
		Scan(&o.ID, &o.TenantID, &o.RoomID, &o.ItemRef, &o.OffererID, &o.Offer, &o.Status, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

// SettleOffers marks accepted as accepted and every other open offer on the listing
// as declined.
func (r Repo) SettleOffers(ctx context.Context, tx *sql.Tx, ref domain.ListingReference, accepted string) error {
	args := append([]any{accepted, domain.OfferAccepted, domain.OfferDeclined}, refArgs(ref)...)
	args = append(args, domain.OfferOpen)
	_, err := tx.ExecContext(ctx, `UPDATE trade_offers SET status=CASE WHEN id=? THEN ? ELSE ? END WHERE `+refWhere+` AND status=?`, args...)
	return err
}

func (r Repo) ListOffers(ctx context.Context, ref domain.ListingReference) ([]domain.TradeOffer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,room_id,item_ref,offerer_id,offer,status,created_at FROM trade_offers
WHERE `+refWhere+` ORDER BY created_at ASC, id`, refArgs(ref)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TradeOffer
	for rows.Next() {
		var o domain.TradeOffer
		if err := rows.Scan(&o.ID, &o.TenantID, &o.RoomID, &o.ItemRef, &o.OffererID, &o.Offer, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// InsertEntry records a giveaway entrant. A second entry by the same user is ErrDuplicate.
func (r Repo) InsertEntry(ctx context.Context, tx *sql.Tx, ref domain.ListingReference, entrantID, now string) error {
	args := append(refArgs(ref), entrantID, now)
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO giveaway_entries(tenant_id,room_id,item_ref,entrant_id,created_at) VALUES (?,?,?,?,?)`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r Repo) CountEntries(ctx context.Context, tx *sql.Tx, ref domain.ListingReference) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM giveaway_entries WHERE `+refWhere, refArgs(ref)...).Scan(&n)
	return n, err
}

// DrawEntrant picks one entrant uniformly at random, or ErrNotFound when nobody entered.
func (r Repo) DrawEntrant(ctx context.Context, tx *sql.Tx, ref domain.ListingReference) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT entrant_id FROM giveaway_entries WHERE `+refWhere+` ORDER BY RANDOM() LIMIT 1`, refArgs(ref)...).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}
