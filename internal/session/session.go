// Package session implements the Session Manager (§4.11): one active Ash
// DM conversation per user, backed by the LLM client.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/llm"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/telemetry"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/userlock"
)

// ErrUserOptedOut is raised by Start when the user has opted out and the
// caller did not request a bypass.
var ErrUserOptedOut = errors.New("user has opted out of ash contact")

const (
	defaultIdleTimeout  = 10 * time.Minute
	defaultContextTurns = 10
	welcomeMapTTL       = 10 * time.Minute
)

// Turn is one exchange in a session transcript.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Session is one active Ash conversation (§3).
type Session struct {
	UserID          string
	ChannelID       string
	StartedAt       time.Time
	LastActivityAt  time.Time
	SeverityAtStart severity.Severity
	SourceAlertID   string
	TurnCount       int
	HandedOffTo     string
	EndedAt         *time.Time

	transcript []Turn
}

// preferences is the subset of the Preferences Store the manager needs.
type preferences interface {
	IsOptedOut(ctx context.Context, userID string) (bool, error)
	SetOptOut(ctx context.Context, userID string) error
}

// llmClient is the subset of the LLM Client the manager needs.
type llmClient interface {
	Chat(ctx context.Context, systemPrompt string, messages []llm.Message) string
}

// dmSender abstracts the chat-platform DM surface so this package has no
// discordgo dependency.
type dmSender interface {
	SendDM(ctx context.Context, userID, text string) (messageID string, err error)
	AnnotateOptedOut(ctx context.Context, sourceAlertID string) error
	NotifyCRTOptedOut(ctx context.Context, userID, sourceAlertID string) error
}

// checkinScheduler is the subset of the Check-In Scheduler the manager
// needs, mirroring the sessionStarter/alertAnnotator injection pattern used
// for the Auto-Initiate cycle so this package has no checkin dependency.
type checkinScheduler interface {
	Schedule(ctx context.Context, userID, sourceAlertID string) error
}

// Manager is the Session Manager.
type Manager struct {
	prefs    preferences
	llm      llmClient
	chat     dmSender
	checkins checkinScheduler
	logger   *slog.Logger

	idleTimeout  time.Duration
	contextTurns int

	locks *userlock.Keyed

	mu       sync.Mutex
	sessions map[string]*Session

	welcomeMu  sync.Mutex
	welcomeMap map[string]welcomeEntry // welcome message id -> (user id, expiry)

	now func() time.Time
}

type welcomeEntry struct {
	userID        string
	sourceAlertID string
	expiresAt     time.Time
}

// New builds a Session Manager.
func New(prefs preferences, llmClient llmClient, chat dmSender, logger *slog.Logger) *Manager {
	return &Manager{
		prefs:        prefs,
		llm:          llmClient,
		chat:         chat,
		logger:       logger,
		idleTimeout:  defaultIdleTimeout,
		contextTurns: defaultContextTurns,
		locks:        userlock.New(),
		sessions:     make(map[string]*Session),
		welcomeMap:   make(map[string]welcomeEntry),
		now:          time.Now,
	}
}

// SetCheckinScheduler wires the Check-In Scheduler after construction, since
// it is built from the same Chat adapter this manager depends on (app.go
// wiring order).
func (m *Manager) SetCheckinScheduler(checkins checkinScheduler) {
	m.checkins = checkins
}

// Start begins a session for userID, shaped by sev, unless one already
// exists (in which case it is returned as-is) or the user has opted out
// and bypassOptOut is false (§4.11 step 1-3).
func (m *Manager) Start(ctx context.Context, userID string, sev severity.Severity, sourceAlertID string, bypassOptOut bool) error {
	var outerErr error
	m.locks.With(userID, func() {
		if !bypassOptOut {
			optedOut, err := m.prefs.IsOptedOut(ctx, userID)
			if err != nil {
				m.logger.Warn("checking opt-out before session start", "user_id", userID, "error", err)
			}
			if optedOut {
				outerErr = ErrUserOptedOut
				return
			}
		}

		m.mu.Lock()
		_, exists := m.sessions[userID]
		m.mu.Unlock()
		if exists {
			return
		}

		welcome := welcomeMessage(sev)
		msgID, err := m.chat.SendDM(ctx, userID, welcome)
		if err != nil {
			outerErr = fmt.Errorf("sending welcome dm: %w", err)
			return
		}

		now := m.now()
		sessionObj := &Session{
			UserID:          userID,
			StartedAt:       now,
			LastActivityAt:  now,
			SeverityAtStart: sev,
			SourceAlertID:   sourceAlertID,
		}

		m.mu.Lock()
		m.sessions[userID] = sessionObj
		m.mu.Unlock()

		m.welcomeMu.Lock()
		m.welcomeMap[msgID] = welcomeEntry{userID: userID, sourceAlertID: sourceAlertID, expiresAt: now.Add(welcomeMapTTL)}
		m.welcomeMu.Unlock()

		telemetry.SessionsTotal.Inc()
		telemetry.SessionsActive.Inc()
	})
	return outerErr
}

// welcomeMessage shapes the greeting by severity (§4.11 step 3).
func welcomeMessage(sev severity.Severity) string {
	switch sev {
	case severity.Critical, severity.High:
		return "I'm here with you right now. You don't have to go through this alone — talk to me, or react with ❌ if you'd rather the team reach out instead."
	case severity.Medium:
		return "Hey, I noticed things might be tough right now. I'm here if you want to talk. React with ❌ anytime if you'd rather not."
	default:
		return "Hi, just checking in. I'm here if you'd like to talk. React with ❌ if you'd rather not."
	}
}

// Reply handles one user DM while a session is active: appends to the
// transcript, calls the LLM with a bounded context window, and returns the
// reply text to send (§4.11).
func (m *Manager) Reply(ctx context.Context, userID, text string) (string, error) {
	var reply string
	var outerErr error

	m.locks.With(userID, func() {
		m.mu.Lock()
		sess, ok := m.sessions[userID]
		m.mu.Unlock()
		if !ok {
			outerErr = fmt.Errorf("no active session for user")
			return
		}
		if sess.HandedOffTo != "" {
			// Handed off: the LLM is no longer consulted (§4.11).
			return
		}

		sess.transcript = append(sess.transcript, Turn{Role: "user", Text: text})
		sess.LastActivityAt = m.now()
		sess.TurnCount++

		messages := lastTurns(sess.transcript, m.contextTurns)
		llmMessages := make([]llm.Message, 0, len(messages))
		for _, t := range messages {
			llmMessages = append(llmMessages, llm.Message{Role: t.Role, Content: t.Text})
		}

		reply = m.llm.Chat(ctx, systemPrompt(sess.SeverityAtStart), llmMessages)
		sess.transcript = append(sess.transcript, Turn{Role: "assistant", Text: reply})
	})
	return reply, outerErr
}

func lastTurns(turns []Turn, n int) []Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func systemPrompt(sev severity.Severity) string {
	return fmt.Sprintf("You are Ash, a compassionate peer-support companion. The conversation started at %s severity. Be warm, direct, and never clinical.", sev)
}

// End ends userID's session (idle timeout, explicit end, or handoff target
// already recorded by Handoff). If the session started at HIGH severity or
// above and the user has not opted out, it schedules a 24h follow-up
// check-in (§4.12).
func (m *Manager) End(ctx context.Context, userID string) {
	m.locks.With(userID, func() {
		m.mu.Lock()
		sess, ok := m.sessions[userID]
		if ok {
			delete(m.sessions, userID)
		}
		m.mu.Unlock()
		if !ok {
			return
		}
		now := m.now()
		sess.EndedAt = &now
		telemetry.SessionsActive.Dec()

		if m.checkins == nil || sess.SeverityAtStart < severity.High {
			return
		}
		optedOut, err := m.prefs.IsOptedOut(ctx, userID)
		if err != nil {
			m.logger.Warn("checking opt-out before scheduling check-in", "user_id", userID, "error", err)
		}
		if optedOut {
			return
		}
		if err := m.checkins.Schedule(ctx, userID, sess.SourceAlertID); err != nil {
			m.logger.Error("scheduling check-in", "user_id", userID, "error", err)
		}
	})
}

// Handoff transfers ownership of userID's session to a CRT member and ends
// LLM involvement (§4.11).
func (m *Manager) Handoff(ctx context.Context, userID, crtMemberID string) error {
	var outerErr error
	m.locks.With(userID, func() {
		m.mu.Lock()
		sess, ok := m.sessions[userID]
		m.mu.Unlock()
		if !ok {
			outerErr = fmt.Errorf("no active session for user")
			return
		}
		sess.HandedOffTo = crtMemberID
		if _, err := m.chat.SendDM(ctx, userID, fmt.Sprintf("Handing you over to %s now.", crtMemberID)); err != nil {
			outerErr = err
		}
	})
	return outerErr
}

// HandleOptOutReaction processes a ❌ reaction to a tracked welcome message
// (§4.11 "opt-out via reaction"): opts the user out, ends their session, and
// annotates the source alert.
func (m *Manager) HandleOptOutReaction(ctx context.Context, welcomeMessageID string) error {
	m.welcomeMu.Lock()
	entry, ok := m.welcomeMap[welcomeMessageID]
	if ok {
		delete(m.welcomeMap, welcomeMessageID)
	}
	m.welcomeMu.Unlock()
	if !ok || m.now().After(entry.expiresAt) {
		return nil
	}

	if err := m.prefs.SetOptOut(ctx, entry.userID); err != nil {
		return fmt.Errorf("recording opt-out: %w", err)
	}
	m.End(ctx, entry.userID)

	if _, err := m.chat.SendDM(ctx, entry.userID, "I understand — the team will reach out."); err != nil {
		m.logger.Warn("sending opt-out acknowledgement", "user_id", entry.userID, "error", err)
	}
	if entry.sourceAlertID != "" {
		if err := m.chat.AnnotateOptedOut(ctx, entry.sourceAlertID); err != nil {
			m.logger.Warn("annotating source alert after opt-out", "alert_id", entry.sourceAlertID, "error", err)
		}
		if err := m.chat.NotifyCRTOptedOut(ctx, entry.userID, entry.sourceAlertID); err != nil {
			m.logger.Warn("notifying CRT of opt-out", "user_id", entry.userID, "error", err)
		}
	}
	return nil
}

// SweepIdle ends every session whose last activity predates the idle
// timeout. Intended to be called periodically by the bot runtime.
func (m *Manager) SweepIdle(ctx context.Context) {
	now := m.now()
	m.mu.Lock()
	var idle []string
	for userID, sess := range m.sessions {
		if sess.HandedOffTo == "" && now.Sub(sess.LastActivityAt) >= m.idleTimeout {
			idle = append(idle, userID)
		}
	}
	m.mu.Unlock()

	for _, userID := range idle {
		m.End(ctx, userID)
	}
}

// Active reports whether userID currently has a live session.
func (m *Manager) Active(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	return ok
}
