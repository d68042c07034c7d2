// Package kv is a thin typed wrapper over the external key-value store. It
// carries no business logic: every method is a direct translation of one KV
// operation the rest of the system needs, with a bounded deadline and a
// typed error on failure.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout is the deadline applied to every operation.
const opTimeout = 5 * time.Second

// ErrorKind classifies a KV failure so callers can decide fail-soft vs fatal.
type ErrorKind int

const (
	// KindOther covers anything not classified below.
	KindOther ErrorKind = iota
	// KindUnavailable means the store could not be reached.
	KindUnavailable
	// KindTimeout means the operation exceeded its deadline.
	KindTimeout
	// KindAuthFailed means the connection was rejected on credentials.
	KindAuthFailed
)

// Error wraps a KV failure with its classification and the operation name.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("kv %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindOther
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, redis.ErrClosed):
		kind = KindUnavailable
	case err.Error() == "NOAUTH Authentication required." || err.Error() == "WRONGPASS invalid username-password pair":
		kind = KindAuthFailed
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = KindTimeout
		} else {
			kind = KindUnavailable
		}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Store is the production KV Adapter, backed by Redis (or any Redis-wire
// compatible store).
type Store struct {
	client *redis.Client
}

// New dials the KV store and verifies connectivity.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, classify("ping", err)
	}

	return &Store{client: client}, nil
}

// NewFromClient wraps an already-constructed Redis client without dialing or
// pinging it.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reports whether the store is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return classify("ping", s.client.Ping(ctx).Err())
}

// ZAdd adds member with the given score to the sorted set at key.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	return classify("zadd", err)
}

// ZRevRange returns members of the sorted set at key, ordered newest-first,
// between the given zero-based ranks (inclusive).
func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	members, err := s.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, classify("zrevrange", err)
	}
	return members, nil
}

// ZCard returns the cardinality of the sorted set at key.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, classify("zcard", err)
	}
	return n, nil
}

// ZRemRangeByRank removes members of the sorted set at key between the given
// zero-based ranks (inclusive), used to trim the oldest entries.
func (s *Store) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := s.client.ZRemRangeByRank(ctx, key, start, stop).Err()
	return classify("zremrangebyrank", err)
}

// Expire sets a TTL on key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := s.client.Expire(ctx, key, ttl).Err()
	return classify("expire", err)
}

// Get returns the string value at key. ok is false if the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	value, err = s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("get", err)
	}
	return value, true, nil
}

// SetWithTTL stores value at key with the given expiration.
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := s.client.Set(ctx, key, value, ttl).Err()
	return classify("set", err)
}

// Delete removes key, if present.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := s.client.Del(ctx, key).Err()
	return classify("delete", err)
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, classify("exists", err)
	}
	return n > 0, nil
}

// ScanPrefix returns every key matching prefix+"*", used for startup recovery
// of pending alerts and by the check-in sweeper on every pass. Not suitable for hot paths — SCAN walks
// the keyspace incrementally so it never blocks the store, but it is O(n) in
// database size.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, classify("scan", err)
	}
	return keys, nil
}

// CompareAndSwap atomically replaces the value at key using Redis WATCH-based
// optimistic locking: current is read, passed to mutate, and the result
// written back only if nothing else modified key in the meantime. mutate
// returns proceed=false to abort without writing (e.g. the record is already
// in a terminal state). The new value is written with ttl, replacing any
// existing TTL; a ttl of zero writes it with no expiry.
//
// This is the linearisation point for at-most-once PendingAlert and CheckIn
// transitions (§4.9, §4.12): two racing callers (an acknowledgement click and
// the sweeper) each attempt this swap, and only one observes proceed=true
// against the value it read.
func (s *Store) CompareAndSwap(ctx context.Context, key string, ttl time.Duration, mutate func(current string, exists bool) (next string, proceed bool, err error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var proceeded bool
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
			err = nil
		}
		if err != nil {
			return err
		}

		next, proceed, mutateErr := mutate(current, exists)
		if mutateErr != nil {
			return mutateErr
		}
		if !proceed {
			proceeded = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		if err == nil {
			proceeded = true
		}
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Someone else won the race; this caller is the no-op loser.
		return false, nil
	}
	if err != nil {
		return false, classify("cas", err)
	}
	return proceeded, nil
}
