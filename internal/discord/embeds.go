package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/dispatch"
)

const (
	customIDAcknowledge = "ash_alert_acknowledge"
	customIDTalk        = "ash_alert_talk"
	customIDHistory     = "ash_alert_history"
)

// alertEmbed builds the embed for a dispatched alert (§4.8 step 2).
func alertEmbed(alert dispatch.Alert) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Crisis Score", Value: fmt.Sprintf("%.2f", alert.Result.CrisisScore), Inline: true},
		{Name: "Confidence", Value: fmt.Sprintf("%.2f", alert.Result.Confidence), Inline: true},
	}
	if len(alert.Result.Categories) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Categories", Value: strings.Join(alert.Result.Categories, ", "), Inline: true,
		})
	}
	if alert.OptedOut {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Opt-Out", Value: "User has opted out of direct contact.", Inline: false,
		})
	}
	fields = append(fields, &discordgo.MessageEmbedField{
		Name: "Original Message", Value: fmt.Sprintf("https://discord.com/channels/@me/%s/%s", alert.OriginalChannelID, alert.OriginalMessageID),
		Inline: false,
	})

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s severity detected", strings.ToUpper(alert.Result.Severity.String())),
		Description: alert.OriginalText,
		Color:       dispatch.SeverityColor(alert.Result.Severity),
		Fields:      fields,
	}
}

// alertComponents builds the interactive controls, filtered to the
// config-driven control set (§4.8 step 3, §9 open question #1).
func alertComponents(alertID string, controls []string) []discordgo.MessageComponent {
	var buttons []discordgo.MessageComponent
	for _, c := range controls {
		switch strings.TrimSpace(c) {
		case "acknowledge":
			buttons = append(buttons, discordgo.Button{
				Label: "Acknowledge", Style: discordgo.SuccessButton,
				CustomID: customIDAcknowledge + ":" + alertID,
			})
		case "talk":
			buttons = append(buttons, discordgo.Button{
				Label: "Talk to Ash", Style: discordgo.PrimaryButton,
				CustomID: customIDTalk + ":" + alertID,
			})
		case "history":
			buttons = append(buttons, discordgo.Button{
				Label: "History", Style: discordgo.SecondaryButton,
				CustomID: customIDHistory + ":" + alertID,
			})
		}
	}
	if len(buttons) == 0 {
		return nil
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

// autoInitiatedEmbed re-colors and annotates an existing alert embed once it
// has auto-fired (§4.9: "purple accent + Auto-initiated field").
func autoInitiatedEmbed(original *discordgo.MessageEmbed) *discordgo.MessageEmbed {
	clone := *original
	clone.Color = dispatch.AutoInitiatedColor
	clone.Fields = append(clone.Fields, &discordgo.MessageEmbedField{
		Name: "Auto-initiated", Value: "Auto-initiated (no staff response)", Inline: false,
	})
	return &clone
}

// optedOutAnnotation returns the field appended to an alert embed once the
// user opts out via reaction (§4.11).
func optedOutAnnotation() *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: "Status", Value: "User prefers human support.", Inline: false}
}
