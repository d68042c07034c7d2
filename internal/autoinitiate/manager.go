// Package autoinitiate implements the Auto-Initiate Manager (§4.9): it
// guarantees a user gets contact from Ash even if no CRT member acknowledges
// an alert within the configured window.
package autoinitiate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/telemetry"
)

const (
	keyPrefix     = "ash:pending:"
	sweepInterval = 30 * time.Second
)

// PendingAlert is the auto-initiate state for one dispatched alert (§3).
type PendingAlert struct {
	AlertMessageID    string            `json:"alert_message_id"`
	AlertChannelID    string            `json:"alert_channel_id"`
	UserID            string            `json:"user_id"`
	OriginalMessageID string            `json:"original_message_id"`
	OriginalChannelID string            `json:"original_channel_id"`
	Severity          severity.Severity `json:"-"`
	SeverityRaw       string            `json:"severity"`
	CreatedAt         int64             `json:"created_at"`
	ExpiresAt         int64             `json:"expires_at"`
	Acknowledged      bool              `json:"acknowledged"`
}

func (p PendingAlert) key() string { return keyPrefix + p.AlertMessageID }

// kvStore is the subset of the KV Adapter the manager needs.
type kvStore interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) (string, bool, error)
	CompareAndSwap(ctx context.Context, key string, ttl time.Duration, mutate func(current string, exists bool) (next string, proceed bool, err error)) (bool, error)
}

// sessionStarter is the Session Manager's narrow surface, injected after
// construction to break the Alert-Dispatcher/Auto-Initiate-Manager/Session
// cycle (§9 design notes — "inject after construction").
type sessionStarter interface {
	Start(ctx context.Context, userID string, sev severity.Severity, sourceAlertID string, bypassOptOut bool) error
}

// alertAnnotator lets the manager update the posted alert embed once an
// alert auto-fires, without importing the dispatcher package.
type alertAnnotator interface {
	AnnotateAutoInitiated(ctx context.Context, channelID, messageID string) error
}

// Manager is the Auto-Initiate Manager.
type Manager struct {
	kv     kvStore
	logger *slog.Logger

	minSeverity severity.Severity
	grace       time.Duration

	mu      sync.Mutex
	pending map[string]PendingAlert

	sessions  sessionStarter
	annotator alertAnnotator

	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

// New builds a Manager. window is the auto-initiate delay T; minSeverity is
// the floor below which alerts are never tracked (default MEDIUM).
func New(kv kvStore, window time.Duration, minSeverity severity.Severity, logger *slog.Logger) *Manager {
	return &Manager{
		kv:          kv,
		logger:      logger,
		minSeverity: minSeverity,
		grace:       window + 10*time.Second,
		pending:     make(map[string]PendingAlert),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		now:         time.Now,
	}
}

// SetSessionStarter injects the Session Manager after construction.
func (m *Manager) SetSessionStarter(s sessionStarter) { m.sessions = s }

// SetAnnotator injects the Alert Dispatcher's embed-update hook after
// construction.
func (m *Manager) SetAnnotator(a alertAnnotator) { m.annotator = a }

// Lookup returns the PendingAlert tracked under alertID, if any — used by
// button-click handlers (e.g. "Talk to Ash") that need the alert's user id.
func (m *Manager) Lookup(alertID string) (PendingAlert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.pending[alertID]
	return alert, ok
}

// Track persists a new PendingAlert and starts its countdown. It is a no-op
// for alerts below minSeverity.
func (m *Manager) Track(ctx context.Context, alert PendingAlert) {
	if alert.Severity < m.minSeverity {
		return
	}

	raw, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("marshaling pending alert", "error", err)
		return
	}

	ttl := time.Until(time.Unix(alert.ExpiresAt, 0)) + m.grace
	if err := m.kv.SetWithTTL(ctx, alert.key(), string(raw), ttl); err != nil {
		m.logger.Error("persisting pending alert", "alert_id", alert.AlertMessageID, "error", err)
	}

	m.mu.Lock()
	m.pending[alert.AlertMessageID] = alert
	m.mu.Unlock()
}

// Cancel marks alertID acknowledged via CAS so the sweeper can never fire it;
// returns true iff this call won the race (§4.9 guarantees).
func (m *Manager) Cancel(ctx context.Context, alertID, reason string) (bool, error) {
	key := keyPrefix + alertID

	won, err := m.kv.CompareAndSwap(ctx, key, m.grace, func(current string, exists bool) (string, bool, error) {
		if !exists {
			return "", false, nil
		}
		var alert PendingAlert
		if err := json.Unmarshal([]byte(current), &alert); err != nil {
			return "", false, fmt.Errorf("decoding pending alert: %w", err)
		}
		if alert.Acknowledged {
			return "", false, nil
		}
		alert.Acknowledged = true
		next, err := json.Marshal(alert)
		if err != nil {
			return "", false, err
		}
		return string(next), true, nil
	})
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	delete(m.pending, alertID)
	m.mu.Unlock()

	if won {
		m.logger.Info("pending alert cancelled", "alert_id", alertID, "reason", reason)
	}
	return won, nil
}

// Run starts the background sweeper. It blocks until ctx is cancelled or
// Stop is called.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.doneCh)

	if err := m.recover(ctx); err != nil {
		m.logger.Error("recovering pending alerts at startup", "error", err)
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// recover rebuilds the in-memory map from KV at startup (§4.9 startup
// recovery) so timers resume after a restart.
func (m *Manager) recover(ctx context.Context) error {
	keys, err := m.kv.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("scanning pending alerts: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		raw, ok, err := m.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var alert PendingAlert
		if err := json.Unmarshal([]byte(raw), &alert); err != nil {
			m.logger.Warn("dropping malformed pending alert record", "key", key, "error", err)
			continue
		}
		if alert.Acknowledged {
			continue
		}
		alert.Severity = severity.Parse(alert.SeverityRaw)
		m.pending[alert.AlertMessageID] = alert
	}
	m.logger.Info("recovered pending alerts", "count", len(m.pending))
	return nil
}

// sweep fires every pending alert whose expiry has passed.
func (m *Manager) sweep(ctx context.Context) {
	m.mu.Lock()
	due := make([]PendingAlert, 0)
	now := m.now().Unix()
	for _, alert := range m.pending {
		if alert.ExpiresAt <= now {
			due = append(due, alert)
		}
	}
	m.mu.Unlock()

	for _, alert := range due {
		m.fire(ctx, alert)
	}
}

// fire attempts to CAS a single pending alert to fired. On success it starts
// a bypass-opt-out session and annotates the alert embed; on CAS failure
// (already acknowledged elsewhere) it is simply dropped from the local map.
func (m *Manager) fire(ctx context.Context, alert PendingAlert) {
	key := alert.key()

	won, err := m.kv.CompareAndSwap(ctx, key, m.grace, func(current string, exists bool) (string, bool, error) {
		if !exists {
			return "", false, nil
		}
		var stored PendingAlert
		if err := json.Unmarshal([]byte(current), &stored); err != nil {
			return "", false, err
		}
		if stored.Acknowledged {
			return "", false, nil
		}
		stored.Acknowledged = true
		next, err := json.Marshal(stored)
		if err != nil {
			return "", false, err
		}
		return string(next), true, nil
	})

	m.mu.Lock()
	delete(m.pending, alert.AlertMessageID)
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("auto-initiate CAS failed", "alert_id", alert.AlertMessageID, "error", err)
		telemetry.AutoInitiatesTotal.WithLabelValues("error").Inc()
		return
	}
	if !won {
		telemetry.AutoInitiatesTotal.WithLabelValues("acknowledged_first").Inc()
		return
	}

	if m.sessions != nil {
		if err := m.sessions.Start(ctx, alert.UserID, alert.Severity, alert.AlertMessageID, true); err != nil {
			m.logger.Error("auto-initiate session start failed", "user_id", alert.UserID, "error", err)
			telemetry.AutoInitiatesTotal.WithLabelValues("session_failed").Inc()
			return
		}
	}

	if m.annotator != nil {
		if err := m.annotator.AnnotateAutoInitiated(ctx, alert.AlertChannelID, alert.AlertMessageID); err != nil {
			m.logger.Warn("annotating auto-initiated alert embed", "alert_id", alert.AlertMessageID, "error", err)
		}
	}

	telemetry.AutoInitiatesTotal.WithLabelValues("fired").Inc()
	m.logger.Info("auto-initiated session", "alert_id", alert.AlertMessageID, "user_id", alert.UserID)
}
