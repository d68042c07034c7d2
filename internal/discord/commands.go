package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/notes"
)

// preferences is the subset of the Preferences Store the commands need.
type preferences interface {
	IsOptedOut(ctx context.Context, userID string) (bool, error)
	SetOptOut(ctx context.Context, userID string) error
	ClearOptOut(ctx context.Context, userID string) error
}

// statsSnapshot is a minimal counters view for /ash stats.
type statsSnapshot interface {
	Snapshot() map[string]float64
}

// Commands implements the /ash slash command family (§4.13). Authorisation
// is by role id at handler entry, per command.
type Commands struct {
	prefs     preferences
	notes     *notes.Store
	stats     statsSnapshot
	crtRoleID string
	logger    *slog.Logger
}

// NewCommands builds the Commands handler.
func NewCommands(prefs preferences, notesStore *notes.Store, stats statsSnapshot, crtRoleID string, logger *slog.Logger) *Commands {
	return &Commands{prefs: prefs, notes: notesStore, stats: stats, crtRoleID: crtRoleID, logger: logger}
}

var definitions = []*discordgo.ApplicationCommand{
	{
		Name:        "ash",
		Description: "Ash crisis-response bot commands",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status", Description: "Show your opt-out status"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "optout", Description: "Opt out of Ash contact"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "optin", Description: "Opt back in to Ash contact"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "health", Description: "CRT only: show component health"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "stats", Description: "CRT only: show counters"},
			{
				Type: discordgo.ApplicationCommandOptionSubCommandGroup, Name: "notes", Description: "CRT only: per-user notes",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type: discordgo.ApplicationCommandOptionSubCommand, Name: "add", Description: "Add a note",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User the note concerns", Required: true},
							{Type: discordgo.ApplicationCommandOptionString, Name: "text", Description: "Note text", Required: true},
						},
					},
					{
						Type: discordgo.ApplicationCommandOptionSubCommand, Name: "view", Description: "View notes",
						Options: []*discordgo.ApplicationCommandOption{
							{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User whose notes to view", Required: true},
						},
					},
				},
			},
		},
	},
}

// Register installs the /ash command tree on guildID (empty guildID
// registers globally).
func (c *Commands) Register(s *discordgo.Session, guildID string) ([]*discordgo.ApplicationCommand, error) {
	registered := make([]*discordgo.ApplicationCommand, 0, len(definitions))
	for _, def := range definitions {
		cmd, err := s.ApplicationCommandCreate(s.State.User.ID, guildID, def)
		if err != nil {
			return registered, fmt.Errorf("registering command %s: %w", def.Name, err)
		}
		registered = append(registered, cmd)
	}
	return registered, nil
}

// Handle dispatches a slash command interaction to its subcommand handler.
func (c *Commands) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := data.Options[0]
	switch sub.Name {
	case "status":
		c.handleStatus(ctx, s, i)
	case "optout":
		c.handleOptOut(ctx, s, i)
	case "optin":
		c.handleOptIn(ctx, s, i)
	case "health":
		c.requireCRT(s, i, c.handleHealth)
	case "stats":
		c.requireCRT(s, i, c.handleStats)
	case "notes":
		c.requireCRT(s, i, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			c.handleNotes(ctx, s, i, sub.Options)
		})
	}
}

func (c *Commands) requireCRT(s *discordgo.Session, i *discordgo.InteractionCreate, fn func(*discordgo.Session, *discordgo.InteractionCreate)) {
	if !hasRole(i.Member, c.crtRoleID) {
		c.respond(s, i, "This command is restricted to the Crisis Response Team.")
		return
	}
	fn(s, i)
}

func hasRole(member *discordgo.Member, roleID string) bool {
	if member == nil {
		return false
	}
	for _, r := range member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func (c *Commands) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (c *Commands) handleStatus(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	optedOut, err := c.prefs.IsOptedOut(ctx, i.Member.User.ID)
	if err != nil {
		c.respond(s, i, "Could not retrieve your status right now.")
		return
	}
	if optedOut {
		c.respond(s, i, "You are currently opted out of Ash contact.")
		return
	}
	c.respond(s, i, "You are currently opted in to Ash contact.")
}

func (c *Commands) handleOptOut(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := c.prefs.SetOptOut(ctx, i.Member.User.ID); err != nil {
		c.respond(s, i, "Could not record your opt-out — please try again.")
		return
	}
	c.respond(s, i, "You have opted out. The team will still reach out by other means if needed.")
}

func (c *Commands) handleOptIn(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := c.prefs.ClearOptOut(ctx, i.Member.User.ID); err != nil {
		c.respond(s, i, "Could not record your opt-in — please try again.")
		return
	}
	c.respond(s, i, "You have opted back in.")
}

func (c *Commands) handleHealth(s *discordgo.Session, i *discordgo.InteractionCreate) {
	c.respond(s, i, "See /health/detailed on the metrics endpoint for the full component breakdown.")
}

func (c *Commands) handleStats(s *discordgo.Session, i *discordgo.InteractionCreate) {
	c.respond(s, i, formatStats(c.stats.Snapshot()))
}

func formatStats(snap map[string]float64) string {
	return fmt.Sprintf("messages_processed=%.0f alerts_sent=%.0f sessions_active=%.0f",
		snap["ash_messages_processed_total"], snap["ash_alerts_sent_total"], snap["ash_sessions_active"])
}

func (c *Commands) handleNotes(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(opts) == 0 {
		return
	}
	action := opts[0]
	optMap := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	for _, o := range action.Options {
		optMap[o.Name] = o
	}
	userOpt, ok := optMap["user"]
	if !ok {
		c.respond(s, i, "A target user is required.")
		return
	}
	targetUserID := userOpt.UserValue(s).ID

	switch action.Name {
	case "add":
		textOpt, ok := optMap["text"]
		if !ok {
			c.respond(s, i, "Note text is required.")
			return
		}
		if err := c.notes.Add(ctx, targetUserID, textOpt.StringValue()); err != nil {
			c.respond(s, i, "Failed to save note.")
			return
		}
		c.respond(s, i, "Note added.")
	case "view":
		text, err := c.notes.View(ctx, targetUserID)
		if err != nil {
			c.respond(s, i, "Failed to fetch notes.")
			return
		}
		if text == "" {
			c.respond(s, i, "No notes recorded for this user.")
			return
		}
		c.respond(s, i, text)
	}
}
