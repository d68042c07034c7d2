// Package notes implements the CRT-only per-user notes record referenced by
// the /ash notes slash commands (§4.13): a plain KV string with no TTL.
package notes

import (
	"context"
	"fmt"
	"time"
)

// kvStore is the subset of the KV Adapter notes needs.
type kvStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// Store holds CRT notes, one string per user, no expiry.
type Store struct {
	kv kvStore
}

// New builds a notes Store.
func New(kv kvStore) *Store {
	return &Store{kv: kv}
}

func key(userID string) string { return fmt.Sprintf("ash:notes:%s", userID) }

// Add appends text to the existing note for userID, separated by a newline.
func (s *Store) Add(ctx context.Context, userID, text string) error {
	existing, _, err := s.kv.Get(ctx, key(userID))
	if err != nil {
		return fmt.Errorf("fetching existing notes: %w", err)
	}
	updated := text
	if existing != "" {
		updated = existing + "\n" + text
	}
	if err := s.kv.SetWithTTL(ctx, key(userID), updated, 0); err != nil {
		return fmt.Errorf("storing notes: %w", err)
	}
	return nil
}

// View returns the note for userID, empty if none exists.
func (s *Store) View(ctx context.Context, userID string) (string, error) {
	text, _, err := s.kv.Get(ctx, key(userID))
	if err != nil {
		return "", fmt.Errorf("fetching notes: %w", err)
	}
	return text, nil
}
