package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"marketbot/internal/domain"
)

// Writer appends rows to the event log inside the caller's transaction, so an event
// exists exactly when the state change it describes was committed.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, ref domain.ListingReference, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var entityID any
	if ref.RoomID != "" || ref.ItemRef != "" {
		entityID = EntityID(ref)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,tenant_id,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		domain.FormatTime(now()), evtType, ref.TenantID, entityID, actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

// EntityID is the entity_id a listing's events are stored under.
func EntityID(ref domain.ListingReference) string {
	return ref.RoomID + "/" + ref.ItemRef
}
