package interaction

import (
	"context"
	"sync"
	"time"

	"marketbot/internal/action"
	"marketbot/internal/metrics"
)

// FieldStyle selects a single-line or multi-line text input.
type FieldStyle int

const (
	StyleShort FieldStyle = iota
	StyleParagraph
)

// Field declares one dialog input.
type Field struct {
	Name        string
	Label       string
	Required    bool
	MaxLength   int
	Style       FieldStyle
	Placeholder string
}

// Schema is the declarative form shown for a verb.
type Schema struct {
	Title  string
	Fields []Field
}

// DialogRequest is a short-lived data-collection form. CorrelationID is the serialized
// identifier of the click that opened it.
type DialogRequest struct {
	CorrelationID string
	Title         string
	Fields        []Field
}

// DialogReply carries the values a user submitted for a DialogRequest.
type DialogReply struct {
	CorrelationID string
	ActorID       string
	Values        map[string]string
	// Responder answers the submission event itself.
	Responder Responder
}

// Dialog field names.
const (
	FieldAmount      = "amount"
	FieldName        = "name"
	FieldDescription = "description"
	FieldPrice       = "price"
	FieldQuantity    = "quantity"
	FieldImage       = "image"
	FieldPercent     = "percent"
	FieldHours       = "hours"
	FieldOffer       = "offer"
)

// dialogSchemas is keyed by verb family. It is never mutated after init.
var dialogSchemas = map[action.Verb]Schema{
	action.VerbBidAuction: {Title: "Place a bid", Fields: []Field{
		{Name: FieldAmount, Label: "Bid amount", Required: true, MaxLength: 12, Placeholder: "25.00"},
	}},
	action.VerbEditMarket: {Title: "Edit listing", Fields: []Field{
		{Name: FieldName, Label: "Name", MaxLength: 80},
		{Name: FieldDescription, Label: "Description", MaxLength: 1000, Style: StyleParagraph},
		{Name: FieldPrice, Label: "Price", MaxLength: 12, Placeholder: "19.99"},
		{Name: FieldQuantity, Label: "Quantity", MaxLength: 6},
		{Name: FieldImage, Label: "Image URL", MaxLength: 500},
	}},
	action.VerbDiscountMarket: {Title: "Run a discount", Fields: []Field{
		{Name: FieldPercent, Label: "Discount percent", Required: true, MaxLength: 2, Placeholder: "15"},
		{Name: FieldHours, Label: "Duration in hours", Required: true, MaxLength: 4, Placeholder: "24"},
	}},
	action.VerbBuyMarket: {Title: "Buy", Fields: []Field{
		{Name: FieldQuantity, Label: "Quantity", MaxLength: 6, Placeholder: "1"},
	}},
	action.VerbOfferTrade: {Title: "Make an offer", Fields: []Field{
		{Name: FieldOffer, Label: "What are you offering?", Required: true, MaxLength: 500, Style: StyleParagraph},
	}},
	action.VerbExtend: {Title: "Extend listing", Fields: []Field{
		{Name: FieldHours, Label: "Extra hours", Required: true, MaxLength: 4, Placeholder: "12"},
	}},
}

// SchemaFor returns the dialog schema registered for the identifier's verb family.
func SchemaFor(id action.Identifier) (Schema, bool) {
	s, ok := dialogSchemas[id.Family()]
	return s, ok
}

type pendingKey struct {
	actorID       string
	correlationID string
}

// PendingDialog is a registered wait for one reply.
type PendingDialog struct {
	key        pendingKey
	replies    chan DialogReply
	superseded chan struct{}
	closeOnce  sync.Once
}

// Redirector decides which verbs need a dialog and correlates replies with the turn
// that is waiting for them.
type Redirector struct {
	mu      sync.Mutex
	pending map[pendingKey]*PendingDialog
}

func NewRedirector() *Redirector {
	return &Redirector{pending: make(map[pendingKey]*PendingDialog)}
}

// RedirectIfNeeded returns the dialog to show for id, or nil to proceed directly.
func (r *Redirector) RedirectIfNeeded(id action.Identifier) *DialogRequest {
	s, ok := SchemaFor(id)
	if !ok {
		return nil
	}
	return &DialogRequest{
		CorrelationID: id.String(),
		Title:         s.Title,
		Fields:        append([]Field(nil), s.Fields...),
	}
}

// Open registers interest in the reply to req from actorID. It must be called before the
// dialog is shown so a fast reply is never lost. A second Open for the same actor and
// correlation id supersedes the first.
func (r *Redirector) Open(req DialogRequest, actorID string) *PendingDialog {
	p := &PendingDialog{
		key:        pendingKey{actorID: actorID, correlationID: req.CorrelationID},
		replies:    make(chan DialogReply, 1),
		superseded: make(chan struct{}),
	}
	r.mu.Lock()
	prev := r.pending[p.key]
	r.pending[p.key] = p
	r.mu.Unlock()
	metrics.DialogsPending.Inc()
	if prev != nil {
		close(prev.superseded)
	}
	return p
}

// AwaitReply parks the calling goroutine until the reply arrives, the timeout elapses,
// ctx ends or the wait is superseded. It returns nil in every case but the first. The
// pending dialog is discarded on return.
func (r *Redirector) AwaitReply(ctx context.Context, p *PendingDialog, timeout time.Duration) *DialogReply {
	defer r.discard(p)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-p.replies:
		return &reply
	case <-timer.C:
	case <-ctx.Done():
	case <-p.superseded:
	}
	// A reply may have raced with the timeout.
	select {
	case reply := <-p.replies:
		return &reply
	default:
		return nil
	}
}

// Deliver hands reply to the turn waiting for it. It reports false when no turn waits,
// which happens after a timeout or a restart.
func (r *Redirector) Deliver(reply DialogReply) bool {
	key := pendingKey{actorID: reply.ActorID, correlationID: reply.CorrelationID}
	r.mu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.replies <- reply
	return true
}

// Pending returns the number of dialogs awaiting a reply.
func (r *Redirector) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Redirector) discard(p *PendingDialog) {
	p.closeOnce.Do(func() {
		r.mu.Lock()
		if r.pending[p.key] == p {
			delete(r.pending, p.key)
		}
		r.mu.Unlock()
		metrics.DialogsPending.Dec()
	})
}

// Close discards p without waiting, e.g. when the dialog could not be shown.
func (r *Redirector) Close(p *PendingDialog) {
	r.discard(p)
}
