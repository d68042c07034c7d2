package history

import (
	"context"
	"log/slog"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
)

// fakeKV is a minimal in-memory sorted-set double satisfying kvStore.
type fakeKV struct {
	sets map[string]map[string]float64
}

func newFakeKV() *fakeKV {
	return &fakeKV{sets: make(map[string]map[string]float64)}
}

func (f *fakeKV) ZAdd(_ context.Context, key string, score float64, member string) error {
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]float64)
	}
	f.sets[key][member] = score
	return nil
}

func (f *fakeKV) ZRevRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return f.sets[key][members[i]] > f.sets[key][members[j]]
	})
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= int64(len(members)) {
		stop = int64(len(members)) - 1
	}
	if start > stop || len(members) == 0 {
		return nil, nil
	}
	return members[start : stop+1], nil
}

func (f *fakeKV) ZCard(_ context.Context, key string) (int64, error) {
	return int64(len(f.sets[key])), nil
}

func (f *fakeKV) ZRemRangeByRank(_ context.Context, key string, start, stop int64) error {
	members, _ := f.ZRevRange(context.Background(), key, 0, -1)
	// ascending order for rank semantics (ZREMRANGEBYRANK ranks lowest score first)
	asc := make([]string, len(members))
	for i, m := range members {
		asc[len(members)-1-i] = m
	}
	if start < 0 {
		start = 0
	}
	if stop >= int64(len(asc)) {
		stop = int64(len(asc)) - 1
	}
	for i := start; i <= stop; i++ {
		delete(f.sets[key], asc[i])
	}
	return nil
}

func (f *fakeKV) Expire(context.Context, string, time.Duration) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInsertRejectsSafe(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, discardLogger(), 14, 50, severity.Low)

	ok, err := s.Insert(context.Background(), "g1", "u1", StoredMessage{
		Text: "fine", Timestamp: 1, Severity: severity.Safe,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected SAFE insert to be rejected")
	}
	if n, _ := kv.ZCard(context.Background(), key("g1", "u1")); n != 0 {
		t.Fatalf("expected no history write for SAFE, got %d entries", n)
	}
}

func TestInsertAcceptsLowAndAbove(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, discardLogger(), 14, 50, severity.Low)

	ok, err := s.Insert(context.Background(), "g1", "u1", StoredMessage{
		Text: "struggling", Timestamp: 1, Severity: severity.Low,
	})
	if err != nil || !ok {
		t.Fatalf("expected LOW insert to be accepted, ok=%v err=%v", ok, err)
	}
}

func TestInsertTruncatesText(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, discardLogger(), 14, 50, severity.Low)

	longText := strings.Repeat("x", 600)
	_, err := s.Insert(context.Background(), "g1", "u1", StoredMessage{
		Text: longText, Timestamp: 1, Severity: severity.Medium,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := s.GetHistory(context.Background(), "g1", "u1", 10)
	if len(got) != 1 || len(got[0].Text) != maxTextLen {
		t.Fatalf("expected truncated text of length %d, got %d", maxTextLen, len(got[0].Text))
	}
}

func TestHistoryCapEnforced(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, discardLogger(), 14, 3, severity.Low)

	for i := int64(1); i <= 10; i++ {
		_, err := s.Insert(context.Background(), "g1", "u1", StoredMessage{
			Text: "msg", Timestamp: i, Severity: severity.Medium,
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		n, _ := kv.ZCard(context.Background(), key("g1", "u1"))
		if n > 3 {
			t.Fatalf("after insert %d, history count = %d, want <= 3", i, n)
		}
	}
}

func TestGetHistoryNewestFirst(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, discardLogger(), 14, 50, severity.Low)

	for i := int64(1); i <= 5; i++ {
		_, _ = s.Insert(context.Background(), "g1", "u1", StoredMessage{
			Text: "msg", Timestamp: i, Severity: severity.Medium,
		})
	}

	got := s.GetHistory(context.Background(), "g1", "u1", 5)
	if len(got) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(got))
	}
	for i := 0; i < len(got)-1; i++ {
		if got[i].Timestamp < got[i+1].Timestamp {
			t.Fatalf("entries not newest-first: %+v", got)
		}
	}
}
