package preferences

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakeKV struct {
	values map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: make(map[string]string)}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeKV) SetWithTTL(_ context.Context, key, value string, _ time.Duration) error {
	f.values[key] = value
	return nil
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func TestIsOptedOutDefaultFalse(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, 30)

	out, err := s.IsOptedOut(context.Background(), "u1")
	if err != nil || out {
		t.Fatalf("expected not opted out, got %v, err %v", out, err)
	}
}

func TestSetOptOutThenIsOptedOut(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, 30)

	if err := s.SetOptOut(context.Background(), "u1"); err != nil {
		t.Fatalf("SetOptOut: %v", err)
	}

	out, err := s.IsOptedOut(context.Background(), "u1")
	if err != nil || !out {
		t.Fatalf("expected opted out, got %v, err %v", out, err)
	}
}

func TestClearOptOut(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, 30)

	_ = s.SetOptOut(context.Background(), "u1")
	if err := s.ClearOptOut(context.Background(), "u1"); err != nil {
		t.Fatalf("ClearOptOut: %v", err)
	}

	out, err := s.IsOptedOut(context.Background(), "u1")
	if err != nil || out {
		t.Fatalf("expected not opted out after clear, got %v, err %v", out, err)
	}
}

func TestExpiredOptOutIsFalse(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, 30)

	pref := Preference{
		UserID:     "u1",
		OptedOut:   true,
		OptedOutAt: time.Now().Add(-40 * 24 * time.Hour),
		ExpiresAt:  time.Now().Add(-10 * 24 * time.Hour),
	}
	data, _ := json.Marshal(pref)
	kv.values[key("u1")] = string(data)

	out, err := s.IsOptedOut(context.Background(), "u1")
	if err != nil || out {
		t.Fatalf("expected expired opt-out to read as false, got %v, err %v", out, err)
	}
}

func TestCacheInvalidatedOnWrite(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, 30)

	_, _ = s.IsOptedOut(context.Background(), "u1") // populate cache with false
	_ = s.SetOptOut(context.Background(), "u1")

	out, err := s.IsOptedOut(context.Background(), "u1")
	if err != nil || !out {
		t.Fatalf("expected cache invalidation to surface fresh opted-out state, got %v, err %v", out, err)
	}
}
