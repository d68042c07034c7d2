// Package preferences implements the per-user opt-out flag: a single KV
// record with TTL, fronted by a small in-process cache.
package preferences

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const cacheTTL = 30 * time.Second

// Preference is the persisted opt-out record.
type Preference struct {
	UserID      string    `json:"user_id"`
	OptedOut    bool      `json:"opted_out"`
	OptedOutAt  time.Time `json:"opted_out_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// kvStore is the subset of the KV Adapter the preferences store needs.
type kvStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type cacheEntry struct {
	optedOut bool
	expires  time.Time // cache entry expiry, not the preference's own expiry
}

// Store is the Preferences Store.
//
// The in-process cache caches "is this user opted out" lookups for up to
// cacheTTL, invalidated on every write, so a hot welcome-DM loop doesn't hit
// the KV store on every reaction check.
type Store struct {
	kv      kvStore
	ttl     time.Duration
	mu      sync.Mutex
	cache   map[string]cacheEntry
}

// New builds a Preferences Store. ttlDays is the default opt-out TTL.
func New(kv kvStore, ttlDays int) *Store {
	return &Store{
		kv:    kv,
		ttl:   time.Duration(ttlDays) * 24 * time.Hour,
		cache: make(map[string]cacheEntry),
	}
}

func key(userID string) string {
	return fmt.Sprintf("ash:optout:%s", userID)
}

// IsOptedOut returns true iff the opt-out key exists and has not expired.
func (s *Store) IsOptedOut(ctx context.Context, userID string) (bool, error) {
	if v, ok := s.cacheGet(userID); ok {
		return v, nil
	}

	raw, exists, err := s.kv.Get(ctx, key(userID))
	if err != nil {
		return false, fmt.Errorf("fetching opt-out record: %w", err)
	}
	if !exists {
		s.cacheSet(userID, false)
		return false, nil
	}

	var pref Preference
	if err := json.Unmarshal([]byte(raw), &pref); err != nil {
		// State corruption (§7): the record is deleted here, since there's no
		// valid repair, and reported to the caller by returning the error.
		_ = s.kv.Delete(ctx, key(userID))
		return false, fmt.Errorf("malformed opt-out record for %s, deleted: %w", userID, err)
	}

	optedOut := pref.OptedOut && time.Now().Before(pref.ExpiresAt)
	s.cacheSet(userID, optedOut)
	return optedOut, nil
}

// SetOptOut records userID as opted out with the default TTL.
func (s *Store) SetOptOut(ctx context.Context, userID string) error {
	now := time.Now()
	pref := Preference{
		UserID:     userID,
		OptedOut:   true,
		OptedOutAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}
	data, err := json.Marshal(pref)
	if err != nil {
		return fmt.Errorf("marshaling opt-out record: %w", err)
	}
	if err := s.kv.SetWithTTL(ctx, key(userID), string(data), s.ttl); err != nil {
		return fmt.Errorf("storing opt-out record: %w", err)
	}
	s.invalidate(userID)
	return nil
}

// ClearOptOut removes userID's opt-out record (explicit opt-in).
func (s *Store) ClearOptOut(ctx context.Context, userID string) error {
	if err := s.kv.Delete(ctx, key(userID)); err != nil {
		return fmt.Errorf("deleting opt-out record: %w", err)
	}
	s.invalidate(userID)
	return nil
}

func (s *Store) cacheGet(userID string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[userID]
	if !ok || time.Now().After(e.expires) {
		return false, false
	}
	return e.optedOut, true
}

func (s *Store) cacheSet(userID string, optedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[userID] = cacheEntry{optedOut: optedOut, expires: time.Now().Add(cacheTTL)}
}

func (s *Store) invalidate(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, userID)
}
