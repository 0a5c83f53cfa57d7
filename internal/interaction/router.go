package interaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketbot/internal/action"
	"marketbot/internal/command"
	"marketbot/internal/log"
	"marketbot/internal/metrics"
)

const defaultDialogTimeout = 5 * time.Minute

// Outcome is the terminal state of one turn.
type Outcome int

const (
	// OutcomeIgnored: the event did not carry an identifier this bot issued.
	OutcomeIgnored Outcome = iota
	// OutcomeAcknowledged: the command ran and at most one success message went out.
	OutcomeAcknowledged
	// OutcomeFailed: resolution or execution failed and the normalized error went out.
	OutcomeFailed
	// OutcomeAbandoned: the dialog was never answered in time.
	OutcomeAbandoned
	// OutcomeDelivered: a dialog submission was handed to the turn waiting for it.
	OutcomeDelivered
	// OutcomeExpired: a dialog submission arrived with nobody waiting.
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcknowledged:
		return "acknowledged"
	case OutcomeFailed:
		return "failed"
	case OutcomeAbandoned:
		return "abandoned"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeExpired:
		return "expired"
	default:
		return "ignored"
	}
}

// Config wires a Router.
type Config struct {
	Executor      command.Executor
	Redirector    *Redirector
	Faults        FaultReporter
	DialogTimeout time.Duration
	Logger        zerolog.Logger
}

// Router handles one inbound event per call. It holds no lock across turns; callers run
// each HandleEvent on its own goroutine.
type Router struct {
	exec       command.Executor
	redirector *Redirector
	resolver   Resolver
	faults     FaultReporter
	timeout    time.Duration
	logger     zerolog.Logger

	inflight sync.WaitGroup
}

func NewRouter(cfg Config) *Router {
	r := &Router{
		exec:       cfg.Executor,
		redirector: cfg.Redirector,
		faults:     cfg.Faults,
		timeout:    cfg.DialogTimeout,
		logger:     cfg.Logger,
	}
	if r.redirector == nil {
		r.redirector = NewRedirector()
	}
	if r.faults == nil {
		r.faults = LogFaultReporter{Logger: cfg.Logger}
	}
	if r.timeout <= 0 {
		r.timeout = defaultDialogTimeout
	}
	return r
}

// Redirector returns the redirector correlating dialog replies for this router.
func (r *Router) Redirector() *Redirector {
	return r.redirector
}

type turn struct {
	ev   Event
	verb string
	resp *onceResponder
}

// HandleEvent runs the full turn for ev. It never panics and sends at most one
// acknowledgement for the event.
func (r *Router) HandleEvent(ctx context.Context, ev Event) (out Outcome) {
	r.inflight.Add(1)
	defer r.inflight.Done()

	// Only the dialog wait follows the host's cancellation. Once a command is dispatched
	// it runs to completion and the user still gets its acknowledgement.
	wait := log.ContextWithEventID(ctx, ev.ID)
	ctx = context.WithoutCancel(wait)
	t := &turn{ev: ev, resp: guard(ev.Responder)}
	defer func() {
		if p := recover(); p != nil {
			out = r.fail(ctx, t, fmt.Errorf("panic handling %s: %v", t.verb, p))
		}
		metrics.ObserveTurn(t.verb, out.String())
	}()

	if ev.Kind == EventDialogSubmit {
		return r.deliver(ctx, t)
	}

	id, err := action.Decode(ev.CustomID)
	if err != nil {
		r.logger.Debug().Err(err).Str(log.FieldEventID, ev.ID).Msg("ignoring foreign identifier")
		return OutcomeIgnored
	}
	t.verb = string(id.Family())

	var replyValues map[string]string
	if req := r.redirector.RedirectIfNeeded(id); req != nil {
		reply, out, ok := r.collect(ctx, wait, t, id, *req)
		if !ok {
			return out
		}
		replyValues = reply.Values
		if reply.Responder != nil {
			t.resp = guard(reply.Responder)
		}
	}

	cmd, err := Resolver{}.Resolve(t.ev.Scope, id, replyValues)
	if err != nil {
		return r.fail(ctx, t, err)
	}
	res, err := r.exec.Execute(WithResponder(ctx, t.resp), cmd)
	if err != nil {
		return r.fail(ctx, t, err)
	}
	if res.Replied || t.resp.Sent() {
		return OutcomeAcknowledged
	}
	msg := res.Message
	if msg == "" {
		msg = AcknowledgementFor(id)
	}
	if msg != "" {
		r.acknowledge(ctx, t, Ack{Message: msg})
	}
	return OutcomeAcknowledged
}

// collect pre-flights the authorize-only command, shows the dialog and waits for the reply.
// ok is false when the turn ended here with outcome out.
func (r *Router) collect(ctx, wait context.Context, t *turn, id action.Identifier, req DialogRequest) (reply *DialogReply, out Outcome, ok bool) {
	if authz, has := (Resolver{}).ResolveAuthorization(t.ev.Scope, id); has {
		if _, err := r.exec.Execute(ctx, authz); err != nil {
			return nil, r.fail(ctx, t, err), false
		}
	}
	pending := r.redirector.Open(req, t.ev.Scope.Actor.ID)
	if err := t.resp.ShowDialog(ctx, req); err != nil {
		r.redirector.Close(pending)
		return nil, r.fail(ctx, t, fmt.Errorf("show dialog: %w", err)), false
	}
	reply = r.redirector.AwaitReply(wait, pending, r.timeout)
	if reply == nil {
		l := log.WithContext(ctx, r.logger)
		l.Debug().
			Str(log.FieldVerb, t.verb).
			Str(log.FieldActorID, t.ev.Scope.Actor.ID).
			Msg("dialog abandoned")
		return nil, OutcomeAbandoned, false
	}
	return reply, 0, true
}

func (r *Router) deliver(ctx context.Context, t *turn) Outcome {
	reply := DialogReply{
		CorrelationID: t.ev.CustomID,
		ActorID:       t.ev.Scope.Actor.ID,
		Values:        t.ev.Values,
		Responder:     t.resp,
	}
	if id, err := action.Decode(t.ev.CustomID); err == nil {
		t.verb = string(id.Family())
	}
	if r.redirector.Deliver(reply) {
		return OutcomeDelivered
	}
	r.acknowledge(ctx, t, Ack{Message: FormExpiredMessage, Failure: true, Category: CategoryValidation})
	return OutcomeExpired
}

func (r *Router) fail(ctx context.Context, t *turn, err error) Outcome {
	msg, cat := Normalize(err)
	metrics.ObserveFailure(string(cat))
	l := log.WithContext(ctx, r.logger)
	if cat == CategoryUnknown {
		r.faults.Report(ctx, err, map[string]string{
			log.FieldVerb:     t.verb,
			log.FieldTenantID: t.ev.Scope.TenantID,
			log.FieldActorID:  t.ev.Scope.Actor.ID,
		})
	} else {
		l.Debug().Err(err).Str(log.FieldVerb, t.verb).Str(log.FieldCategory, string(cat)).Msg("interaction rejected")
	}
	r.acknowledge(ctx, t, Ack{Message: msg, Failure: true, Category: cat})
	return OutcomeFailed
}

func (r *Router) acknowledge(ctx context.Context, t *turn, ack Ack) {
	if err := t.resp.Acknowledge(ctx, ack); err != nil {
		l := log.WithContext(ctx, r.logger)
		l.Warn().Err(err).Str(log.FieldVerb, t.verb).Msg("acknowledgement failed")
	}
}

// Drain waits for in-flight turns to finish or ctx to end.
func (r *Router) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
