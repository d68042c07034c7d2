// Package app wires every component into one running bot process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/autoinitiate"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/checkin"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/classifier"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/config"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/cooldown"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/discord"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/dispatch"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/health"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/history"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/kv"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/llm"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/nlp"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/notes"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/policy"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/preferences"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/session"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/telemetry"
)

const (
	idleSweepInterval = time.Minute
	llmModel          = "claude-3-5-sonnet-20241022"
)

// Run wires every collaborator from the already-loaded cfg and blocks
// serving the bot until ctx is cancelled or the health server fails.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting ash", "health_addr", cfg.HealthAddr())

	thresholds := severity.Thresholds{
		Critical: cfg.ThresholdCritical,
		High:     cfg.ThresholdHigh,
		Medium:   cfg.ThresholdMedium,
		Low:      cfg.ThresholdLow,
	}
	if err := thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid severity thresholds: %w", err)
	}

	store, err := kv.New(ctx, cfg.RedisAddr(), cfg.RedisToken, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("connecting to kv store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing kv store", "error", err)
		}
	}()

	registry := telemetry.NewRegistry()

	pol := policy.New(cfg.MonitoredChannels, cfg.AlertChannelCrisis, cfg.AlertChannelMonitor, cfg.DefaultChannelSensitivity, logger)
	historyStore := history.New(store, logger, cfg.HistoryTTLDays, cfg.HistoryMaxMessages, severity.Parse(cfg.HistoryMinSeverity))
	prefs := preferences.New(store, cfg.UserOptOutTTLDays)
	notesStore := notes.New(store)

	nlpClient := nlp.New(cfg.NLPBaseURL, logger)
	llmClient := llm.New(cfg.LLMBaseURL, llmModel, cfg.ClaudeAPIKey, logger)

	pipeline := classifier.New(nlpClient, historyStore, pol, thresholds, logger)

	guard := cooldown.New(cooldown.Windows{
		Medium:   time.Duration(cfg.CooldownMediumMinutes) * time.Minute,
		High:     time.Duration(cfg.CooldownHighMinutes) * time.Minute,
		Critical: time.Duration(cfg.CooldownCriticalMinutes) * time.Minute,
	})

	manager := autoinitiate.New(store, time.Duration(cfg.AutoInitiateDelayMinutes)*time.Minute, autoInitiateThreshold(cfg), logger)

	// Chat must be built before the Dispatcher, Session Manager, and
	// Check-In Scheduler, since each depends on the narrow poster/dmSender/
	// alertAnnotator interfaces Chat implements (§9 dynamic-dispatch note).
	// It only needs the discordgo session, not the fully-wired Bot.
	gatewaySession, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("constructing discord session: %w", err)
	}
	chat := discord.NewChat(gatewaySession, cfg.CRTRoleID, cfg.CRTLeadUserID, cfg.AlertControls, logger)

	sessions := session.New(prefs, llmClient, chat, logger)
	checkins := checkin.New(store, prefs, chat, logger)
	dispatcher := dispatch.New(guard, prefs, chat, manager, time.Duration(cfg.AutoInitiateDelayMinutes)*time.Minute, logger)

	manager.SetSessionStarter(sessionStarterAdapter{sessions: sessions})
	manager.SetAnnotator(chat)
	sessions.SetCheckinScheduler(checkins)

	commands := discord.NewCommands(prefs, notesStore, telemetry.NewSnapshotter(registry), cfg.CRTRoleID, logger)

	bot, err := discord.New(discord.Config{
		Session:    gatewaySession,
		Chat:       chat,
		Policy:     pol,
		Classifier: pipeline,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Manager:    manager,
		Commands:   commands,
		History:    historyStore,
		CRTRoleID:  cfg.CRTRoleID,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("constructing discord bot: %w", err)
	}

	healthSrv := health.New(
		cfg.HealthAddr(),
		bot,
		[]health.Checker{kvChecker{store: store}, nlpChecker{client: nlpClient}},
		registry,
		cfg.CORSAllowedOrigins,
		logger,
	)

	errCh := make(chan error, 2)

	if err := bot.Open(ctx); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}

	go manager.Run(ctx)
	go checkins.Run(ctx)
	go sweepIdleSessions(ctx, sessions)

	go func() {
		if err := healthSrv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down ash")
	case err := <-errCh:
		logger.Error("fatal error, shutting down", "error", err)
	}

	manager.Stop()
	checkins.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down health server", "error", err)
	}
	if err := bot.Close(); err != nil {
		logger.Error("closing discord bot", "error", err)
	}
	return nil
}

// autoInitiateThreshold resolves the configured minimum severity, or a
// threshold above Critical (never reached) when auto-initiate is disabled.
func autoInitiateThreshold(cfg *config.Config) severity.Severity {
	if !cfg.AutoInitiateEnabled {
		return severity.Critical + 1
	}
	return severity.Parse(cfg.AutoInitiateMinSeverity)
}

func sweepIdleSessions(ctx context.Context, sessions *session.Manager) {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.SweepIdle(ctx)
		}
	}
}

// sessionStarterAdapter adapts *session.Manager to the narrow sessionStarter
// interface the Auto-Initiate Manager depends on.
type sessionStarterAdapter struct {
	sessions *session.Manager
}

func (a sessionStarterAdapter) Start(ctx context.Context, userID string, sev severity.Severity, sourceAlertID string, bypassOptOut bool) error {
	return a.sessions.Start(ctx, userID, sev, sourceAlertID, bypassOptOut)
}

type kvChecker struct {
	store *kv.Store
}

func (k kvChecker) Name() string { return "kv" }

func (k kvChecker) Healthy(ctx context.Context) bool {
	return k.store.Ping(ctx) == nil
}

type nlpChecker struct {
	client *nlp.Client
}

func (n nlpChecker) Name() string { return "nlp" }

func (n nlpChecker) Healthy(ctx context.Context) bool {
	return n.client.Healthy(ctx)
}
