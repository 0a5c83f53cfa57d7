// Package gateway connects the chat platform's interaction stream to the router.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"marketbot/internal/interaction"
	"marketbot/internal/log"
)

const (
	defaultResponseTimeout = 3 * time.Second
	// The platform drops interactions without an initial response after three seconds.
	defaultDeferAfter = 2 * time.Second
)

// Handler runs one interaction turn.
type Handler interface {
	HandleEvent(ctx context.Context, ev interaction.Event) interaction.Outcome
}

type Config struct {
	Token           string
	ResponseTimeout time.Duration
	DeferAfter      time.Duration
	Handler         Handler
	Logger          zerolog.Logger
}

// Gateway owns the platform session. Ready is closed once the session has identified,
// which is when lifecycle jobs may start posting updates.
type Gateway struct {
	session *discordgo.Session
	handler Handler
	timeout time.Duration
	deferAt time.Duration
	logger  zerolog.Logger

	ctx       context.Context
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

func New(cfg Config) (*Gateway, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("gateway needs an interaction handler")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	g := &Gateway{
		session: session,
		handler: cfg.Handler,
		timeout: cfg.ResponseTimeout,
		deferAt: cfg.DeferAfter,
		logger:  cfg.Logger,
		ctx:     context.Background(),
		ready:   make(chan struct{}),
	}
	if g.timeout <= 0 {
		g.timeout = defaultResponseTimeout
	}
	if g.deferAt <= 0 {
		g.deferAt = defaultDeferAfter
	}
	return g, nil
}

// Ready is closed after the first successful identify.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// Open connects the session. Turns started afterwards run under ctx.
func (g *Gateway) Open(ctx context.Context) error {
	g.ctx = ctx
	g.session.AddHandler(g.onReady)
	g.session.AddHandler(g.onInteraction)
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	g.logger.Info().Msg("gateway connected")
	return nil
}

// Close disconnects the session. It is safe to call more than once.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.logger.Info().Msg("gateway closing")
		if cerr := g.session.Close(); cerr != nil {
			err = fmt.Errorf("failed to close discord session: %w", cerr)
		}
	})
	return err
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	g.readyOnce.Do(func() {
		l := g.logger.Info().Int("guilds", len(r.Guilds))
		if r.User != nil {
			l = l.Str("user_id", r.User.ID)
		}
		l.Msg("gateway ready")
		close(g.ready)
	})
}

func (g *Gateway) onInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic == nil || ic.Interaction == nil {
		return
	}
	dispatch(g.ctx, s, ic.Interaction, g.handler, g.timeout, g.deferAt, g.logger)
}

// dispatch runs one turn for i and makes sure the interaction is answered even when the
// turn itself sent nothing.
func dispatch(ctx context.Context, api interactionAPI, i *discordgo.Interaction, h Handler, timeout, deferAfter time.Duration, logger zerolog.Logger) interaction.Outcome {
	ev, ok := toEvent(i)
	if !ok {
		return interaction.OutcomeIgnored
	}
	l := logger.With().Str(log.FieldEventID, i.ID).Logger()
	resp := newResponder(api, i, timeout, deferAfter, l)
	ev.Responder = resp

	out := h.HandleEvent(ctx, ev)
	// A delivered submission is answered by the turn that was waiting for it; the
	// deferral timer covers it if that turn stays silent.
	if out != interaction.OutcomeDelivered {
		resp.finish(context.WithoutCancel(ctx))
	}
	l.Debug().Str(log.FieldOutcome, out.String()).Str("kind", ev.Kind.String()).Msg("interaction handled")
	return out
}
