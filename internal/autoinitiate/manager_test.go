package autoinitiate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string]string)} }

func (f *fakeKV) SetWithTTL(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKV) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) CompareAndSwap(_ context.Context, key string, _ time.Duration, mutate func(current string, exists bool) (string, bool, error)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, exists := f.data[key]
	next, proceed, err := mutate(current, exists)
	if err != nil || !proceed {
		return false, err
	}
	f.data[key] = next
	return true, nil
}

type fakeSessions struct {
	mu      sync.Mutex
	started []string
}

func (f *fakeSessions) Start(_ context.Context, userID string, _ severity.Severity, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, userID)
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCancelPreemptsFire(t *testing.T) {
	kv := newFakeKV()
	m := New(kv, 3*time.Minute, severity.Medium, discardLogger())
	sessions := &fakeSessions{}
	m.SetSessionStarter(sessions)

	alert := PendingAlert{
		AlertMessageID: "m1", UserID: "u1", Severity: severity.High, SeverityRaw: "high",
		CreatedAt: time.Now().Unix(), ExpiresAt: time.Now().Add(-time.Second).Unix(),
	}
	m.Track(context.Background(), alert)

	won, err := m.Cancel(context.Background(), "m1", "acknowledged")
	if err != nil || !won {
		t.Fatalf("expected cancel to win the race, got won=%v err=%v", won, err)
	}

	m.sweep(context.Background())
	if len(sessions.started) != 0 {
		t.Fatal("acknowledged alert must never auto-initiate a session")
	}
}

func TestSweepFiresExpiredAlert(t *testing.T) {
	kv := newFakeKV()
	m := New(kv, 3*time.Minute, severity.Medium, discardLogger())
	sessions := &fakeSessions{}
	m.SetSessionStarter(sessions)

	alert := PendingAlert{
		AlertMessageID: "m2", UserID: "u2", Severity: severity.Critical, SeverityRaw: "critical",
		CreatedAt: time.Now().Unix(), ExpiresAt: time.Now().Add(-time.Second).Unix(),
	}
	m.Track(context.Background(), alert)
	m.sweep(context.Background())

	if len(sessions.started) != 1 || sessions.started[0] != "u2" {
		t.Fatalf("expected auto-initiated session for u2, got %v", sessions.started)
	}
}

func TestBelowMinSeverityNeverTracked(t *testing.T) {
	kv := newFakeKV()
	m := New(kv, 3*time.Minute, severity.Medium, discardLogger())

	alert := PendingAlert{AlertMessageID: "m3", UserID: "u3", Severity: severity.Low, SeverityRaw: "low", ExpiresAt: time.Now().Add(-time.Second).Unix()}
	m.Track(context.Background(), alert)

	if len(kv.data) != 0 {
		t.Fatal("below-floor severity must never be persisted to KV")
	}
}

func TestRecoverRebuildsFromKV(t *testing.T) {
	kv := newFakeKV()
	alert := PendingAlert{
		AlertMessageID: "m4", UserID: "u4", SeverityRaw: "high",
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}
	raw, _ := json.Marshal(alert)
	kv.data[alert.key()] = string(raw)

	m := New(kv, 3*time.Minute, severity.Medium, discardLogger())
	if err := m.recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	m.mu.Lock()
	_, ok := m.pending["m4"]
	m.mu.Unlock()
	if !ok {
		t.Fatal("expected recovered alert to be tracked in-memory")
	}
}
