// Package checkin implements the Check-In Scheduler (§4.12): a 24h
// follow-up DM after any session that started at HIGH severity or above,
// delivered at most once via the same CAS-to-fire pattern as the
// Auto-Initiate Manager.
package checkin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	keyPrefix     = "ash:checkin:"
	sweepInterval = time.Minute
	// Delay is the follow-up window after a qualifying session ends.
	Delay = 24 * time.Hour
)

// CheckIn is a scheduled follow-up DM (§3).
type CheckIn struct {
	UserID        string `json:"user_id"`
	ScheduledFor  int64  `json:"scheduled_for"`
	SourceAlertID string `json:"source_alert_id"`
	Delivered     bool   `json:"delivered"`
}

func key(userID string, scheduledFor int64) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, userID, scheduledFor)
}

// kvStore is the subset of the KV Adapter the scheduler needs.
type kvStore interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) (string, bool, error)
	CompareAndSwap(ctx context.Context, key string, ttl time.Duration, mutate func(current string, exists bool) (next string, proceed bool, err error)) (bool, error)
}

// preferences is the subset of the Preferences Store the scheduler needs.
type preferences interface {
	IsOptedOut(ctx context.Context, userID string) (bool, error)
}

// dmSender sends the follow-up DM.
type dmSender interface {
	SendDM(ctx context.Context, userID, text string) (messageID string, err error)
}

// Scheduler is the Check-In Scheduler.
type Scheduler struct {
	kv     kvStore
	prefs  preferences
	chat   dmSender
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

// New builds a Scheduler.
func New(kv kvStore, prefs preferences, chat dmSender, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		kv:     kv,
		prefs:  prefs,
		chat:   chat,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Schedule persists a check-in for userID, Delay from now (§4.12).
func (s *Scheduler) Schedule(ctx context.Context, userID, sourceAlertID string) error {
	scheduledFor := s.now().Add(Delay).Unix()
	check := CheckIn{UserID: userID, ScheduledFor: scheduledFor, SourceAlertID: sourceAlertID}

	raw, err := json.Marshal(check)
	if err != nil {
		return fmt.Errorf("marshaling check-in: %w", err)
	}
	ttl := Delay + time.Hour
	return s.kv.SetWithTTL(ctx, key(userID, scheduledFor), string(raw), ttl)
}

// Run starts the per-minute sweeper. It blocks until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) sweep(ctx context.Context) {
	keys, err := s.kv.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		s.logger.Error("scanning check-ins", "error", err)
		return
	}

	now := s.now().Unix()
	for _, k := range keys {
		raw, ok, err := s.kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var check CheckIn
		if err := json.Unmarshal([]byte(raw), &check); err != nil {
			s.logger.Warn("dropping malformed check-in record", "key", k, "error", err)
			continue
		}
		if check.Delivered || check.ScheduledFor > now {
			continue
		}
		s.fire(ctx, k, check)
	}
}

// fire delivers a single due check-in via CAS, guaranteeing at-most-once
// delivery, then silently cancels if the user opted out since scheduling.
func (s *Scheduler) fire(ctx context.Context, k string, check CheckIn) {
	optedOut, err := s.prefs.IsOptedOut(ctx, check.UserID)
	if err != nil {
		s.logger.Warn("checking opt-out before check-in", "user_id", check.UserID, "error", err)
	}

	won, err := s.kv.CompareAndSwap(ctx, k, time.Hour, func(current string, exists bool) (string, bool, error) {
		if !exists {
			return "", false, nil
		}
		var stored CheckIn
		if err := json.Unmarshal([]byte(current), &stored); err != nil {
			return "", false, err
		}
		if stored.Delivered {
			return "", false, nil
		}
		stored.Delivered = true
		next, err := json.Marshal(stored)
		if err != nil {
			return "", false, err
		}
		return string(next), true, nil
	})
	if err != nil {
		s.logger.Error("check-in CAS failed", "user_id", check.UserID, "error", err)
		return
	}
	if !won {
		return
	}
	if optedOut {
		s.logger.Info("check-in cancelled, user opted out", "user_id", check.UserID)
		return
	}

	if _, err := s.chat.SendDM(ctx, check.UserID, "Just checking in — how are you doing today?"); err != nil {
		s.logger.Warn("sending check-in dm", "user_id", check.UserID, "error", err)
	}
}
