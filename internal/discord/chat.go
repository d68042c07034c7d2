package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/dispatch"
)

// Chat adapts the Bot's discordgo session to the narrow poster/dmSender/
// alertAnnotator interfaces the domain packages depend on (§9: "encode
// classifier/LLM/KV as interfaces with a single production implementation").
type Chat struct {
	session       *discordgo.Session
	crtRoleID     string
	crtLeadUserID string
	controls      []string
	logger        *slog.Logger

	mu         sync.Mutex
	embedCache map[string]postedEmbed // alert message id -> last known embed+channel, for annotation
}

type postedEmbed struct {
	channelID string
	embed     *discordgo.MessageEmbed
}

// NewChat builds a Chat adapter.
func NewChat(session *discordgo.Session, crtRoleID, crtLeadUserID string, controls []string, logger *slog.Logger) *Chat {
	return &Chat{
		session:       session,
		crtRoleID:     crtRoleID,
		crtLeadUserID: crtLeadUserID,
		controls:      controls,
		logger:        logger,
		embedCache:    make(map[string]postedEmbed),
	}
}

// PostAlert posts the alert embed to the routed channel, mentioning the CRT
// role for HIGH/CRITICAL (§4.8 step 4).
func (c *Chat) PostAlert(ctx context.Context, alert dispatch.Alert) (dispatch.Posted, error) {
	embed := alertEmbed(alert)

	content := ""
	if alert.Route.PingCRT && c.crtRoleID != "" {
		content = fmt.Sprintf("<@&%s>", c.crtRoleID)
	}

	msg, err := c.session.ChannelMessageSendComplex(alert.Route.ChannelID, &discordgo.MessageSend{
		Content:    content,
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: alertComponents("", c.controls),
	})
	if err != nil {
		return dispatch.Posted{}, fmt.Errorf("posting alert embed: %w", err)
	}

	// Buttons carry the real message id once we have it; re-send components
	// with the id baked into each custom id.
	if _, err := c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    alert.Route.ChannelID,
		ID:         msg.ID,
		Components: ptrComponents(alertComponents(msg.ID, c.controls)),
	}); err != nil {
		c.logger.Warn("re-keying alert buttons with message id", "error", err)
	}

	c.mu.Lock()
	c.embedCache[msg.ID] = postedEmbed{channelID: alert.Route.ChannelID, embed: embed}
	c.mu.Unlock()

	return dispatch.Posted{MessageID: msg.ID, ChannelID: alert.Route.ChannelID}, nil
}

// DMCRTLead is the fallback path when posting the alert itself fails
// (§4.8 failure handling).
func (c *Chat) DMCRTLead(ctx context.Context, alert dispatch.Alert, postErr error) error {
	if c.crtLeadUserID == "" {
		return fmt.Errorf("no crt lead configured, cannot fall back: %w", postErr)
	}
	channel, err := c.session.UserChannelCreate(c.crtLeadUserID)
	if err != nil {
		return fmt.Errorf("opening dm to crt lead: %w", err)
	}
	_, err = c.session.ChannelMessageSendEmbed(channel.ID, alertEmbed(alert))
	return err
}

// AnnotateAutoInitiated edits a previously-posted alert to show it fired
// without staff response (§4.9).
func (c *Chat) AnnotateAutoInitiated(ctx context.Context, channelID, messageID string) error {
	c.mu.Lock()
	posted, ok := c.embedCache[messageID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no cached embed for message %s", messageID)
	}
	updated := autoInitiatedEmbed(posted.embed)
	_, err := c.session.ChannelMessageEditEmbed(channelID, messageID, updated)
	return err
}

// AnnotateOptedOut edits the source alert embed to show the user opted out
// (§4.11 "annotate the source alert embed").
func (c *Chat) AnnotateOptedOut(ctx context.Context, sourceAlertMessageID string) error {
	c.mu.Lock()
	posted, ok := c.embedCache[sourceAlertMessageID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no cached embed for alert %s", sourceAlertMessageID)
	}
	clone := *posted.embed
	clone.Fields = append(clone.Fields, optedOutAnnotation())
	_, err := c.session.ChannelMessageEditEmbed(posted.channelID, sourceAlertMessageID, &clone)
	return err
}

// NotifyCRTOptedOut DMs the CRT lead that a user opted out mid-flow.
func (c *Chat) NotifyCRTOptedOut(ctx context.Context, userID, sourceAlertID string) error {
	if c.crtLeadUserID == "" {
		return nil
	}
	channel, err := c.session.UserChannelCreate(c.crtLeadUserID)
	if err != nil {
		return err
	}
	_, err = c.session.ChannelMessageSend(channel.ID, fmt.Sprintf("User <@%s> opted out after alert %s.", userID, sourceAlertID))
	return err
}

// SendDM sends a direct message to userID and returns the sent message id,
// satisfying the Session Manager and Check-In Scheduler's dmSender
// interfaces.
func (c *Chat) SendDM(ctx context.Context, userID, text string) (string, error) {
	channel, err := c.session.UserChannelCreate(userID)
	if err != nil {
		return "", fmt.Errorf("opening dm channel: %w", err)
	}
	msg, err := c.session.ChannelMessageSend(channel.ID, text)
	if err != nil {
		return "", fmt.Errorf("sending dm: %w", err)
	}
	return msg.ID, nil
}

func ptrComponents(c []discordgo.MessageComponent) *[]discordgo.MessageComponent { return &c }
