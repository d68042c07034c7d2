package notes

import (
	"context"
	"testing"
	"time"
)

type fakeKV struct{ data map[string]string }

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) SetWithTTL(_ context.Context, key, value string, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func TestAddAppendsAndView(t *testing.T) {
	kv := &fakeKV{data: make(map[string]string)}
	s := New(kv)

	if err := s.Add(context.Background(), "u1", "first note"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Add(context.Background(), "u1", "second note"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text, err := s.View(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "first note\nsecond note" {
		t.Fatalf("unexpected notes text: %q", text)
	}
}

func TestViewEmptyForUnknownUser(t *testing.T) {
	kv := &fakeKV{data: make(map[string]string)}
	s := New(kv)

	text, err := s.View(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty notes, got %q", text)
	}
}
