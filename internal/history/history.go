// Package history implements the per-user ordered message history: a
// severity-filtered, size-capped, TTL'd sorted set per (guild, user).
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
)

const maxTextLen = 500

// StoredMessage is one history entry. The sorted-set score is its Unix
// timestamp; the member is this struct serialized as JSON.
type StoredMessage struct {
	Text               string            `json:"text"`
	Timestamp          int64             `json:"timestamp"`
	CrisisScore        float64           `json:"crisis_score"`
	Severity           severity.Severity `json:"-"`
	SeverityString     string            `json:"severity"`
	ExternalMessageID  string            `json:"external_message_id,omitempty"`
}

// kvStore is the subset of the KV Adapter the history store needs.
type kvStore interface {
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Store is the History Store.
type Store struct {
	kv           kvStore
	logger       *slog.Logger
	ttl          time.Duration
	maxMessages  int64
	minSeverity  severity.Severity
}

// New builds a history Store. minSeverity is the floor below which entries
// are rejected (spec default: Low — Safe is never persisted).
func New(kv kvStore, logger *slog.Logger, ttlDays, maxMessages int, minSeverity severity.Severity) *Store {
	return &Store{
		kv:          kv,
		logger:      logger,
		ttl:         time.Duration(ttlDays) * 24 * time.Hour,
		maxMessages: int64(maxMessages),
		minSeverity: minSeverity,
	}
}

func key(guildID, userID string) string {
	return fmt.Sprintf("ash:history:%s:%s", guildID, userID)
}

// Insert records a history entry. It returns false without error if the
// entry's severity is below the configured floor — the caller should treat
// this as "silently rejected", not a failure (§4.3, §8 property 1).
//
// On KV failure, Insert fails soft: it logs and returns (false, nil) so the
// caller never has to treat a transient history-store outage as a pipeline
// failure.
func (s *Store) Insert(ctx context.Context, guildID, userID string, entry StoredMessage) (bool, error) {
	if entry.Severity < s.minSeverity {
		return false, nil
	}

	entry.Text = truncate(entry.Text, maxTextLen)
	entry.SeverityString = entry.Severity.String()

	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshaling history entry: %w", err)
	}

	k := key(guildID, userID)
	if err := s.kv.ZAdd(ctx, k, float64(entry.Timestamp), string(data)); err != nil {
		s.logger.Warn("history insert failed, treating as empty history", "error", err, "user_id", userID)
		return false, nil
	}
	if err := s.kv.Expire(ctx, k, s.ttl); err != nil {
		s.logger.Warn("history expire failed", "error", err, "user_id", userID)
	}

	if err := s.trim(ctx, k); err != nil {
		s.logger.Warn("history trim failed", "error", err, "user_id", userID)
	}

	return true, nil
}

// trim enforces the max_messages cap by removing the oldest entries (lowest
// scores, i.e. lowest ranks) once the set exceeds the cap.
func (s *Store) trim(ctx context.Context, key string) error {
	n, err := s.kv.ZCard(ctx, key)
	if err != nil {
		return err
	}
	if n <= s.maxMessages {
		return nil
	}
	excess := n - s.maxMessages
	return s.kv.ZRemRangeByRank(ctx, key, 0, excess-1)
}

// GetHistory returns up to limit entries for (guildID, userID), newest
// first. On KV failure it fails soft: empty slice, logged, no error.
func (s *Store) GetHistory(ctx context.Context, guildID, userID string, limit int) []StoredMessage {
	raw, err := s.kv.ZRevRange(ctx, key(guildID, userID), 0, int64(limit)-1)
	if err != nil {
		s.logger.Warn("history fetch failed, treating as empty history", "error", err, "user_id", userID)
		return nil
	}

	out := make([]StoredMessage, 0, len(raw))
	for _, member := range raw {
		var m StoredMessage
		if err := json.Unmarshal([]byte(member), &m); err != nil {
			s.logger.Warn("dropping malformed history record", "error", err, "user_id", userID)
			continue
		}
		m.Severity = severity.Parse(m.SeverityString)
		out = append(out, m)
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
