// Package discord is the chat-platform adapter: it owns the discordgo
// session, routes gateway events to the domain packages, and implements the
// narrow interfaces (poster, dmSender, alertAnnotator) those packages depend
// on so none of them import discordgo directly (§9 dynamic-dispatch note).
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/autoinitiate"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/classifier"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/dispatch"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/history"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/policy"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/session"
)

// Bot owns the Discord gateway connection and wires incoming events to the
// classifier pipeline, alert dispatcher, and session manager.
type Bot struct {
	Session *discordgo.Session
	Chat    *Chat

	policy     *policy.Policy
	classifier *classifier.Pipeline
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	manager    *autoinitiate.Manager
	commands   *Commands
	history    *history.Store

	guildID   string
	crtRoleID string
	logger    *slog.Logger

	registeredCommands []*discordgo.ApplicationCommand
}

// Config bundles the collaborators Bot needs at construction. guildID scopes
// slash-command registration to a single guild for instant availability
// (global command propagation can take up to an hour).
type Config struct {
	Session    *discordgo.Session
	Chat       *Chat
	GuildID    string
	Policy     *policy.Policy
	Classifier *classifier.Pipeline
	Dispatcher *dispatch.Dispatcher
	Sessions   *session.Manager
	Manager    *autoinitiate.Manager
	Commands   *Commands
	History    *history.Store
	CRTRoleID  string
	Logger     *slog.Logger
}

// NewSession builds the discordgo session with the gateway intents Ash
// needs, without opening the connection. Callers construct the Chat adapter
// from the returned session before calling New, since the collaborators Chat
// implements (poster, dmSender, alertAnnotator) must exist before the
// Dispatcher, Session Manager, and Check-In Scheduler can be built.
func NewSession(token string) (*discordgo.Session, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMessageReactions | discordgo.IntentsDirectMessageReactions | discordgo.IntentsMessageContent
	return sess, nil
}

// New wires a Bot around an already-constructed session and its Chat
// adapter, and does not open the connection — call Open.
func New(cfg Config) (*Bot, error) {
	b := &Bot{
		Session:    cfg.Session,
		Chat:       cfg.Chat,
		policy:     cfg.Policy,
		classifier: cfg.Classifier,
		dispatcher: cfg.Dispatcher,
		sessions:   cfg.Sessions,
		manager:    cfg.Manager,
		commands:   cfg.Commands,
		history:    cfg.History,
		guildID:    cfg.GuildID,
		crtRoleID:  cfg.CRTRoleID,
		logger:     cfg.Logger,
	}

	cfg.Session.AddHandler(b.onMessageCreate)
	cfg.Session.AddHandler(b.onMessageReactionAdd)
	cfg.Session.AddHandler(b.onInteractionCreate)

	return b, nil
}

// Open connects to the Discord gateway and registers slash commands.
func (b *Bot) Open(ctx context.Context) error {
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway connection: %w", err)
	}

	registered, err := b.commands.Register(b.Session, b.guildID)
	if err != nil {
		b.logger.Error("registering slash commands", "error", err)
	}
	b.registeredCommands = registered
	return nil
}

// Close tears down the slash commands and gateway connection.
func (b *Bot) Close() error {
	for _, cmd := range b.registeredCommands {
		if err := b.Session.ApplicationCommandDelete(b.Session.State.User.ID, b.guildID, cmd.ID); err != nil {
			b.logger.Warn("deleting slash command", "command", cmd.Name, "error", err)
		}
	}
	return b.Session.Close()
}

// Connected reports whether the gateway session is live, for the readiness
// probe (§4.14).
func (b *Bot) Connected() bool {
	return b.Session != nil && b.Session.DataReady
}

// onMessageCreate is the message-ingress boundary (§5): it is nonblocking —
// classification and dispatch run in a goroutine so the gateway event loop
// is never held up.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	// DMs (no guild id) are routed to an active Ash session reply, not the
	// classifier pipeline.
	if m.GuildID == "" {
		go b.handleDM(m)
		return
	}

	if !b.policy.IsMonitored(m.ChannelID) {
		return
	}

	text := m.Content
	if strings.TrimSpace(text) == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()

		timestamp, err := m.Timestamp.Parse()
		if err != nil {
			timestamp = time.Now()
		}
		decision := b.classifier.Classify(ctx, m.GuildID, m.ChannelID, m.Author.ID, text, timestamp)
		if !decision.Route.Alert {
			return
		}

		b.dispatcher.Dispatch(ctx, dispatch.Alert{
			UserID:            m.Author.ID,
			OriginalText:      text,
			OriginalMessageID: m.ID,
			OriginalChannelID: m.ChannelID,
			Result:            decision.Result,
			Route:             decision.Route,
		})
	}()
}

func (b *Bot) handleDM(m *discordgo.MessageCreate) {
	if !b.sessions.Active(m.Author.ID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	reply, err := b.sessions.Reply(ctx, m.Author.ID, m.Content)
	if err != nil {
		b.logger.Warn("session reply failed", "user_id", m.Author.ID, "error", err)
		return
	}
	if reply == "" {
		return // handed off; Ash stays silent
	}
	if _, err := b.Session.ChannelMessageSend(m.ChannelID, reply); err != nil {
		b.logger.Warn("sending session reply", "user_id", m.Author.ID, "error", err)
	}
}

// onMessageReactionAdd attributes a ❌ on a tracked welcome DM to an opt-out
// (§4.11, §9 welcome-reaction coupling).
func (b *Bot) onMessageReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.UserID == s.State.User.ID {
		return
	}
	if r.Emoji.Name != "❌" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.sessions.HandleOptOutReaction(ctx, r.MessageID); err != nil {
		b.logger.Warn("handling opt-out reaction", "error", err)
	}
}
