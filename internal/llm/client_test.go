package llm

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{Content: "I'm here with you."})
	}))
	defer srv.Close()

	c := New(srv.URL, "claude-test", "test-key", discardLogger())
	reply := c.Chat(t.Context(), "be kind", []Message{{Role: "user", Content: "hi"}})

	if reply != "I'm here with you." {
		t.Errorf("reply = %q", reply)
	}
}

func TestChatFallsBackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "claude-test", "test-key", discardLogger())
	c.retry.MaxAttempts = 1
	reply := c.Chat(t.Context(), "be kind", []Message{{Role: "user", Content: "hi"}})

	if reply != fallbackReply {
		t.Errorf("reply = %q, want fallback", reply)
	}
}
