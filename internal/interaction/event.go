// Package interaction turns inbound UI events into exactly one dispatched command and
// exactly one user-visible acknowledgement.
package interaction

import (
	"context"
	"sync"

	"marketbot/internal/command"
)

// EventKind distinguishes affordance clicks from dialog submissions.
type EventKind int

const (
	EventComponent EventKind = iota
	EventDialogSubmit
)

func (k EventKind) String() string {
	if k == EventDialogSubmit {
		return "dialog_submit"
	}
	return "component"
}

// Scope is the explicit execution context of one turn.
type Scope struct {
	TenantID string
	RoomID   string
	Actor    command.Actor
}

// Event is one inbound interaction as delivered by the gateway.
type Event struct {
	ID       string
	Kind     EventKind
	CustomID string
	Scope    Scope
	// Values holds dialog field values keyed by field name (dialog submissions only).
	Values    map[string]string
	Responder Responder
}

// Ack is a user-visible acknowledgement.
type Ack struct {
	Message  string
	Failure  bool
	Category Category
}

// Responder answers the user who triggered an event.
type Responder interface {
	ShowDialog(ctx context.Context, req DialogRequest) error
	Acknowledge(ctx context.Context, ack Ack) error
}

// onceResponder forwards at most one acknowledgement to the wrapped responder.
type onceResponder struct {
	next Responder

	mu   sync.Mutex
	sent bool
}

func guard(r Responder) *onceResponder {
	if g, ok := r.(*onceResponder); ok {
		return g
	}
	return &onceResponder{next: r}
}

func (o *onceResponder) ShowDialog(ctx context.Context, req DialogRequest) error {
	if o.next == nil {
		return nil
	}
	return o.next.ShowDialog(ctx, req)
}

func (o *onceResponder) Acknowledge(ctx context.Context, ack Ack) error {
	o.mu.Lock()
	if o.sent {
		o.mu.Unlock()
		return nil
	}
	o.sent = true
	o.mu.Unlock()
	if o.next == nil {
		return nil
	}
	return o.next.Acknowledge(ctx, ack)
}

// Sent reports whether an acknowledgement already went out.
func (o *onceResponder) Sent() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}

type responderKey struct{}

// WithResponder exposes the turn's responder to the executor.
func WithResponder(ctx context.Context, r Responder) context.Context {
	return context.WithValue(ctx, responderKey{}, r)
}

// ResponderFromContext lets an executor answer the user directly; the router then
// skips its own acknowledgement.
func ResponderFromContext(ctx context.Context) (Responder, bool) {
	r, ok := ctx.Value(responderKey{}).(Responder)
	return r, ok
}
