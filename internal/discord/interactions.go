package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/history"
)

const historyPageSize = 5

// onInteractionCreate routes both button clicks and slash commands.
// Button-click controls are authorised to the CRT role only (§4.8 step 3);
// unauthorised clicks get a refusing ephemeral reply.
func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	case discordgo.InteractionApplicationCommand:
		b.commands.Handle(s, i)
	}
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID
	parts := strings.SplitN(customID, ":", 2)
	if len(parts) != 2 {
		return
	}
	action, alertID := parts[0], parts[1]

	if !b.hasCRTRole(i.Member) {
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "Only Crisis Response Team members can use this control.",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch action {
	case customIDAcknowledge:
		b.handleAcknowledge(ctx, s, i, alertID)
	case customIDTalk:
		b.handleTalk(ctx, s, i, alertID)
	case customIDHistory:
		b.handleHistory(ctx, s, i, alertID)
	}
}

func (b *Bot) hasCRTRole(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, roleID := range member.Roles {
		if roleID == b.crtRoleID {
			return true
		}
	}
	return false
}

func (b *Bot) handleAcknowledge(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, alertID string) {
	won, err := b.manager.Cancel(ctx, alertID, "acknowledged")
	if err != nil {
		b.respondEphemeral(s, i, "Failed to acknowledge this alert — please try again.")
		return
	}
	if !won {
		b.respondEphemeral(s, i, "This alert was already handled.")
		return
	}
	b.respondEphemeral(s, i, fmt.Sprintf("Acknowledged by <@%s>.", i.Member.User.ID))
}

func (b *Bot) handleTalk(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, alertID string) {
	alert, ok := b.manager.Lookup(alertID)
	if !ok {
		b.respondEphemeral(s, i, "This alert is no longer pending.")
		return
	}
	if _, err := b.manager.Cancel(ctx, alertID, "talk_click"); err != nil {
		b.logger.Warn("cancelling pending alert on talk click", "alert_id", alertID, "error", err)
	}
	if err := b.sessions.Handoff(ctx, alert.UserID, i.Member.User.ID); err != nil {
		b.logger.Warn("handoff on talk click", "alert_id", alertID, "error", err)
	}
	b.respondEphemeral(s, i, "You're now talking with this user directly; Ash will stay quiet.")
}

// handleHistory shows the CRT member the user's recent crisis-message
// history (§4.8 step 3 "History" control), drawn from the History Store —
// distinct from the free-text CRT notes surfaced by /ash notes view.
func (b *Bot) handleHistory(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, alertID string) {
	alert, ok := b.manager.Lookup(alertID)
	if !ok {
		b.respondEphemeral(s, i, "This alert is no longer pending; history is only available while it's active.")
		return
	}
	entries := b.history.GetHistory(ctx, i.GuildID, alert.UserID, historyPageSize)
	b.respondEphemeral(s, i, formatHistory(alert.UserID, entries))
}

// formatHistory renders a user's recent history entries for the CRT-only
// ephemeral "History" reply. Pure function, no discordgo session needed.
func formatHistory(userID string, entries []history.StoredMessage) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No recent history on record for <@%s>.", userID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent history for <@%s>:\n", userID)
	for _, e := range entries {
		ts := time.Unix(e.Timestamp, 0).UTC().Format("2006-01-02 15:04 MST")
		fmt.Fprintf(&b, "- [%s] %s (score %.2f): %s\n", ts, e.SeverityString, e.CrisisScore, e.Text)
	}
	return b.String()
}

func (b *Bot) respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

