package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"marketbot/internal/domain"
)

const listingColumns = `tenant_id,room_id,item_ref,kind,seller_id,name,COALESCE(description,''),COALESCE(image_url,''),
price_cents,min_increment_cents,quantity,status,starts_at,ends_at,closes_at,discount_percent,discount_ends_at,winner_id,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanListing(row scanner) (domain.Listing, error) {
	var l domain.Listing
	var closesAt, discountEndsAt, winnerID sql.NullString
	var discount sql.NullInt64
	err := row.Scan(&l.TenantID, &l.RoomID, &l.ItemRef, &l.Kind, &l.SellerID, &l.Name, &l.Description, &l.ImageURL,
		&l.PriceCents, &l.MinIncrement, &l.Quantity, &l.Status, &l.StartsAt, &l.EndsAt, &closesAt, &discount, &discountEndsAt, &winnerID,
		&l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if closesAt.Valid {
		l.ClosesAt = &closesAt.String
	}
	if discount.Valid {
		d := int(discount.Int64)
		l.DiscountPercent = &d
	}
	if discountEndsAt.Valid {
		l.DiscountEndsAt = &discountEndsAt.String
	}
	if winnerID.Valid {
		l.WinnerID = &winnerID.String
	}
	return l, nil
}

func (r Repo) InsertListing(ctx context.Context, tx *sql.Tx, l domain.Listing) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO listings(tenant_id,room_id,item_ref,kind,seller_id,name,description,image_url,
price_cents,min_increment_cents,quantity,status,starts_at,ends_at,closes_at,discount_percent,discount_ends_at,winner_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.TenantID, l.RoomID, l.ItemRef, l.Kind, l.SellerID, l.Name, nullable(l.Description), nullable(l.ImageURL),
		l.PriceCents, l.MinIncrement, l.Quantity, l.Status, l.StartsAt, l.EndsAt, nullableStringPtr(l.ClosesAt),
		nullableIntPtr(l.DiscountPercent), nullableStringPtr(l.DiscountEndsAt), nullableStringPtr(l.WinnerID), l.CreatedAt, l.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("listing %s: %w", l.ListingReference, ErrDuplicate)
	}
	return err
}

func (r Repo) GetListing(ctx context.Context, tx *sql.Tx, ref domain.ListingReference) (domain.Listing, error) {
	return scanListing(r.q(tx).QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE `+refWhere, refArgs(ref)...))
}

// UpdateListing writes every mutable column of l, provided the stored status is still
// expect. It returns ErrStale otherwise.
func (r Repo) UpdateListing(ctx context.Context, tx *sql.Tx, l domain.Listing, expect domain.ListingStatus) error {
	args := []any{
		l.Name, nullable(l.Description), nullable(l.ImageURL), l.PriceCents, l.MinIncrement, l.Quantity, l.Status,
		l.StartsAt, l.EndsAt, nullableStringPtr(l.ClosesAt), nullableIntPtr(l.DiscountPercent), nullableStringPtr(l.DiscountEndsAt),
		nullableStringPtr(l.WinnerID), l.UpdatedAt,
	}
	args = append(args, refArgs(l.ListingReference)...)
	args = append(args, expect)
	res, err := tx.ExecContext(ctx, `UPDATE listings SET name=?, description=?, image_url=?, price_cents=?, min_increment_cents=?, quantity=?,
status=?, starts_at=?, ends_at=?, closes_at=?, discount_percent=?, discount_ends_at=?, winner_id=?, updated_at=?
WHERE `+refWhere+` AND status=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// ListingFilters narrows ListListings. Zero fields match everything.
type ListingFilters struct {
	TenantID string
	RoomID   string
	Status   domain.ListingStatus
	Kind     domain.ListingKind
	Limit    int
}

func (r Repo) ListListings(ctx context.Context, f ListingFilters) ([]domain.Listing, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, f.TenantID)
	}
	if f.RoomID != "" {
		clauses = append(clauses, "room_id=?")
		args = append(args, f.RoomID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	query := `SELECT ` + listingColumns + ` FROM listings WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY ends_at ASC, room_id, item_ref`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// Due-listing queries backing the lifecycle sweeps.

func (r Repo) ScheduledDue(ctx context.Context, now time.Time) ([]domain.ListingReference, error) {
	return r.dueRefs(ctx, `status='scheduled' AND starts_at<=?`, `starts_at`, now)
}

func (r Repo) ActiveExpired(ctx context.Context, now time.Time) ([]domain.ListingReference, error) {
	return r.dueRefs(ctx, `status='active' AND ends_at<=?`, `ends_at`, now)
}

func (r Repo) ClosureDue(ctx context.Context, now time.Time) ([]domain.ListingReference, error) {
	return r.dueRefs(ctx, `status='pending_closure' AND closes_at IS NOT NULL AND closes_at<=?`, `closes_at`, now)
}

func (r Repo) DiscountsExpired(ctx context.Context, now time.Time) ([]domain.ListingReference, error) {
	return r.dueRefs(ctx, `discount_ends_at IS NOT NULL AND discount_ends_at<=?`, `discount_ends_at`, now)
}

func (r Repo) dueRefs(ctx context.Context, where, order string, now time.Time) ([]domain.ListingReference, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tenant_id,room_id,item_ref FROM listings WHERE `+where+` ORDER BY `+order+`, tenant_id, room_id, item_ref`,
		domain.FormatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []domain.ListingReference
	for rows.Next() {
		var ref domain.ListingReference
		if err := rows.Scan(&ref.TenantID, &ref.RoomID, &ref.ItemRef); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
