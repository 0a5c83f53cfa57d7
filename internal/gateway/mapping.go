package gateway

import (
	"github.com/bwmarrin/discordgo"

	"marketbot/internal/command"
	"marketbot/internal/interaction"
)

// Platform limits for modals.
const (
	maxModalTitle  = 45
	maxModalLabel  = 45
	maxModalFields = 5
)

// toEvent maps a platform interaction onto a router event. ok is false for interaction
// types the router does not handle, such as slash commands.
func toEvent(i *discordgo.Interaction) (ev interaction.Event, ok bool) {
	if i == nil {
		return ev, false
	}
	ev = interaction.Event{
		ID: i.ID,
		Scope: interaction.Scope{
			TenantID: i.GuildID,
			RoomID:   i.ChannelID,
			Actor:    actorOf(i),
		},
	}
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		ev.Kind = interaction.EventComponent
		ev.CustomID = i.MessageComponentData().CustomID
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		ev.Kind = interaction.EventDialogSubmit
		ev.CustomID = data.CustomID
		ev.Values = modalValues(data.Components)
	default:
		return ev, false
	}
	return ev, true
}

func actorOf(i *discordgo.Interaction) command.Actor {
	if i.Member != nil && i.Member.User != nil {
		return command.Actor{ID: i.Member.User.ID, RoleIDs: append([]string(nil), i.Member.Roles...)}
	}
	if i.User != nil {
		return command.Actor{ID: i.User.ID}
	}
	return command.Actor{}
}

// modalValues flattens submitted text inputs into field name → value.
func modalValues(rows []discordgo.MessageComponent) map[string]string {
	values := make(map[string]string)
	for _, c := range rows {
		var inner []discordgo.MessageComponent
		switch row := c.(type) {
		case *discordgo.ActionsRow:
			inner = row.Components
		case discordgo.ActionsRow:
			inner = row.Components
		default:
			continue
		}
		for _, in := range inner {
			switch ti := in.(type) {
			case *discordgo.TextInput:
				values[ti.CustomID] = ti.Value
			case discordgo.TextInput:
				values[ti.CustomID] = ti.Value
			}
		}
	}
	return values
}

// modalResponse renders a dialog request as a platform modal. The correlation id becomes
// the modal's custom id so the submission routes back to the waiting turn.
func modalResponse(req interaction.DialogRequest) *discordgo.InteractionResponse {
	fields := req.Fields
	if len(fields) > maxModalFields {
		fields = fields[:maxModalFields]
	}
	rows := make([]discordgo.MessageComponent, 0, len(fields))
	for _, f := range fields {
		style := discordgo.TextInputShort
		if f.Style == interaction.StyleParagraph {
			style = discordgo.TextInputParagraph
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID:    f.Name,
				Label:       truncate(f.Label, maxModalLabel),
				Style:       style,
				Placeholder: f.Placeholder,
				Required:    f.Required,
				MaxLength:   f.MaxLength,
			},
		}})
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   req.CorrelationID,
			Title:      truncate(req.Title, maxModalTitle),
			Components: rows,
		},
	}
}

func ackContent(ack interaction.Ack) string {
	if ack.Failure {
		return "⚠️ " + ack.Message
	}
	return ack.Message
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
