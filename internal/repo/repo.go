package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"marketbot/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStale is returned when a status-guarded write matched no row because the
	// listing moved on since it was read.
	ErrStale = errors.New("listing changed concurrently")
	// ErrDuplicate is returned when an insert-if-absent found the row already there.
	ErrDuplicate = errors.New("already exists")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func refArgs(ref domain.ListingReference) []any {
	return []any{ref.TenantID, ref.RoomID, ref.ItemRef}
}

const refWhere = `tenant_id=? AND room_id=? AND item_ref=?`

// LatestEvents returns events for a tenant newest first. entityID narrows to one listing.
func (r Repo) LatestEvents(ctx context.Context, limit int, tenantID, evtType, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if tenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, tenantID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,tenant_id,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TenantID, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
