package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"marketbot/internal/interaction"
)

// interactionAPI is the part of *discordgo.Session a responder talks to.
type interactionAPI interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var errAlreadyAnswered = errors.New("interaction already answered; a dialog can only be the first response")

const maxSendRetries = 3

// responder answers one platform interaction. The platform accepts exactly one initial
// response within a few seconds; anything after it must be a followup message. If the
// turn has not answered by deferAfter, the responder sends a non-visible deferral so
// later acknowledgements still land as followups.
type responder struct {
	api     interactionAPI
	i       *discordgo.Interaction
	timeout time.Duration
	logger  zerolog.Logger

	mu        sync.Mutex
	responded bool
	timer     *time.Timer
}

func newResponder(api interactionAPI, i *discordgo.Interaction, timeout, deferAfter time.Duration, logger zerolog.Logger) *responder {
	r := &responder{api: api, i: i, timeout: timeout, logger: logger}
	if deferAfter > 0 {
		r.timer = time.AfterFunc(deferAfter, r.deferIfSilent)
	}
	return r
}

func (r *responder) ShowDialog(ctx context.Context, req interaction.DialogRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responded {
		return errAlreadyAnswered
	}
	if err := r.send(ctx, func(opts ...discordgo.RequestOption) error {
		return r.api.InteractionRespond(r.i, modalResponse(req), opts...)
	}); err != nil {
		return err
	}
	r.responded = true
	return nil
}

func (r *responder) Acknowledge(ctx context.Context, ack interaction.Ack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	content := ackContent(ack)
	if !r.responded {
		err := r.send(ctx, func(opts ...discordgo.RequestOption) error {
			return r.api.InteractionRespond(r.i, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: content,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			}, opts...)
		})
		if err != nil {
			return err
		}
		r.responded = true
		return nil
	}
	return r.send(ctx, func(opts ...discordgo.RequestOption) error {
		_, err := r.api.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		}, opts...)
		return err
	})
}

// finish stops the deferral timer and, when the turn sent nothing at all, closes the
// interaction with a non-visible deferral.
func (r *responder) finish(ctx context.Context) {
	r.stopTimer()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responded {
		return
	}
	if err := r.deferUpdate(ctx); err != nil {
		r.logger.Warn().Err(err).Str("interaction_id", r.i.ID).Msg("deferral failed")
	}
}

func (r *responder) deferIfSilent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responded {
		return
	}
	if err := r.deferUpdate(context.Background()); err != nil {
		r.logger.Warn().Err(err).Str("interaction_id", r.i.ID).Msg("deadline deferral failed")
		return
	}
	r.logger.Debug().Str("interaction_id", r.i.ID).Msg("turn still running; response deferred")
}

// deferUpdate must be called with mu held.
func (r *responder) deferUpdate(ctx context.Context) error {
	err := r.send(ctx, func(opts ...discordgo.RequestOption) error {
		return r.api.InteractionRespond(r.i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		}, opts...)
	})
	if err == nil {
		r.responded = true
	}
	return err
}

func (r *responder) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
	}
}

// send runs call with a bounded time budget, retrying transient platform failures.
func (r *responder) send(ctx context.Context, call func(opts ...discordgo.RequestOption) error) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxSendRetries), sendCtx)
		done <- backoff.Retry(func() error {
			err := call(discordgo.WithContext(sendCtx))
			if err != nil && !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}, bo)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("interaction response: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("interaction response timeout: %w", sendCtx.Err())
	}
}

// retryable reports platform errors worth another attempt. A 4xx other than a rate
// limit means the request itself is wrong and will fail again.
func retryable(err error) bool {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		code := rest.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	return false
}
