package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketbot/internal/interaction"
)

type fakeAPI struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	followups []*discordgo.WebhookParams
	failures  []error
}

func (f *fakeAPI) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeAPI) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, data)
	return &discordgo.Message{}, nil
}

func (f *fakeAPI) snapshot() ([]*discordgo.InteractionResponse, []*discordgo.WebhookParams) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), f.responses...), append([]*discordgo.WebhookParams(nil), f.followups...)
}

type handlerFunc func(ctx context.Context, ev interaction.Event) interaction.Outcome

func (f handlerFunc) HandleEvent(ctx context.Context, ev interaction.Event) interaction.Outcome {
	return f(ctx, ev)
}

func componentClick(customID string) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:        "ix-1",
		Type:      discordgo.InteractionMessageComponent,
		GuildID:   "guild-1",
		ChannelID: "room-1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "user-1"}, Roles: []string{"mods"}},
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID},
	}
}

func TestToEventComponent(t *testing.T) {
	ev, ok := toEvent(componentClick("bidAuction:room-1:item-1"))
	require.True(t, ok)
	assert.Equal(t, interaction.EventComponent, ev.Kind)
	assert.Equal(t, "bidAuction:room-1:item-1", ev.CustomID)
	assert.Equal(t, "guild-1", ev.Scope.TenantID)
	assert.Equal(t, "room-1", ev.Scope.RoomID)
	assert.Equal(t, "user-1", ev.Scope.Actor.ID)
	assert.Equal(t, []string{"mods"}, ev.Scope.Actor.RoleIDs)
}

func TestToEventModalSubmit(t *testing.T) {
	i := &discordgo.Interaction{
		ID:   "ix-2",
		Type: discordgo.InteractionModalSubmit,
		User: &discordgo.User{ID: "dm-user"},
		Data: discordgo.ModalSubmitInteractionData{
			CustomID: "editMarket:room-1:item-1",
			Components: []discordgo.MessageComponent{
				&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: "name", Value: "Lamp"},
				}},
				&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: "price", Value: ""},
				}},
			},
		},
	}
	ev, ok := toEvent(i)
	require.True(t, ok)
	assert.Equal(t, interaction.EventDialogSubmit, ev.Kind)
	assert.Equal(t, "dm-user", ev.Scope.Actor.ID)
	assert.Equal(t, map[string]string{"name": "Lamp", "price": ""}, ev.Values)
}

func TestToEventIgnoresCommands(t *testing.T) {
	_, ok := toEvent(&discordgo.Interaction{Type: discordgo.InteractionApplicationCommand, Data: discordgo.ApplicationCommandInteractionData{}})
	assert.False(t, ok)
	_, ok = toEvent(nil)
	assert.False(t, ok)
}

func TestModalResponse(t *testing.T) {
	resp := modalResponse(interaction.DialogRequest{
		CorrelationID: "offerTrade:room-1:item-1",
		Title:         "Make an offer",
		Fields: []interaction.Field{
			{Name: "offer", Label: "What are you offering?", Required: true, MaxLength: 500, Style: interaction.StyleParagraph},
		},
	})
	require.Equal(t, discordgo.InteractionResponseModal, resp.Type)
	assert.Equal(t, "offerTrade:room-1:item-1", resp.Data.CustomID)
	require.Len(t, resp.Data.Components, 1)
	row := resp.Data.Components[0].(discordgo.ActionsRow)
	input := row.Components[0].(discordgo.TextInput)
	assert.Equal(t, "offer", input.CustomID)
	assert.Equal(t, discordgo.TextInputParagraph, input.Style)
	assert.True(t, input.Required)
	assert.Equal(t, 500, input.MaxLength)
}

func TestAcknowledgeIsEphemeralInitialResponse(t *testing.T) {
	api := &fakeAPI{}
	r := newResponder(api, componentClick("x"), time.Second, 0, zerolog.Nop())
	require.NoError(t, r.Acknowledge(context.Background(), interaction.Ack{Message: "Bid placed."}))

	responses, followups := api.snapshot()
	require.Len(t, responses, 1)
	assert.Empty(t, followups)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, responses[0].Type)
	assert.Equal(t, "Bid placed.", responses[0].Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, responses[0].Data.Flags)
}

func TestAcknowledgeAfterDialogIsFollowup(t *testing.T) {
	api := &fakeAPI{}
	r := newResponder(api, componentClick("x"), time.Second, 0, zerolog.Nop())
	require.NoError(t, r.ShowDialog(context.Background(), interaction.DialogRequest{CorrelationID: "x", Title: "t"}))
	require.NoError(t, r.Acknowledge(context.Background(), interaction.Ack{Message: "nope", Failure: true}))

	responses, followups := api.snapshot()
	require.Len(t, responses, 1)
	require.Len(t, followups, 1)
	assert.Contains(t, followups[0].Content, "nope")
	assert.ErrorIs(t, r.ShowDialog(context.Background(), interaction.DialogRequest{}), errAlreadyAnswered)
}

func TestDeferralAfterDeadline(t *testing.T) {
	api := &fakeAPI{}
	r := newResponder(api, componentClick("x"), time.Second, 10*time.Millisecond, zerolog.Nop())
	require.Eventually(t, func() bool {
		responses, _ := api.snapshot()
		return len(responses) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Acknowledge(context.Background(), interaction.Ack{Message: "late"}))
	responses, followups := api.snapshot()
	assert.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, responses[0].Type)
	require.Len(t, followups, 1)
	assert.Equal(t, "late", followups[0].Content)
}

func TestSendRetriesServerErrors(t *testing.T) {
	api := &fakeAPI{failures: []error{
		&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}},
	}}
	r := newResponder(api, componentClick("x"), 5*time.Second, 0, zerolog.Nop())
	require.NoError(t, r.Acknowledge(context.Background(), interaction.Ack{Message: "ok"}))
	responses, _ := api.snapshot()
	assert.Len(t, responses, 1)
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	api := &fakeAPI{failures: []error{
		&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadRequest}},
	}}
	r := newResponder(api, componentClick("x"), time.Second, 0, zerolog.Nop())
	err := r.Acknowledge(context.Background(), interaction.Ack{Message: "ok"})
	require.Error(t, err)
	var rest *discordgo.RESTError
	assert.True(t, errors.As(err, &rest))
	responses, _ := api.snapshot()
	assert.Empty(t, responses)
}

func TestDispatchDefersSilentTurns(t *testing.T) {
	api := &fakeAPI{}
	h := handlerFunc(func(context.Context, interaction.Event) interaction.Outcome { return interaction.OutcomeIgnored })
	out := dispatch(context.Background(), api, componentClick("not-ours"), h, time.Second, time.Minute, zerolog.Nop())
	assert.Equal(t, interaction.OutcomeIgnored, out)
	responses, _ := api.snapshot()
	require.Len(t, responses, 1)
	assert.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, responses[0].Type)
}

func TestDispatchLeavesAnsweredTurnsAlone(t *testing.T) {
	api := &fakeAPI{}
	h := handlerFunc(func(ctx context.Context, ev interaction.Event) interaction.Outcome {
		_ = ev.Responder.Acknowledge(ctx, interaction.Ack{Message: "done"})
		return interaction.OutcomeAcknowledged
	})
	dispatch(context.Background(), api, componentClick("x"), h, time.Second, time.Minute, zerolog.Nop())
	responses, followups := api.snapshot()
	require.Len(t, responses, 1)
	assert.Empty(t, followups)
	assert.Equal(t, "done", responses[0].Data.Content)
}
