package nlp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnalyzeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Text != "hello" {
			t.Errorf("unexpected request text: %q", req.Text)
		}
		_ = json.NewEncoder(w).Encode(Result{
			CrisisScore: 0.42, SeverityRaw: "medium", Categories: []string{"distress"}, Confidence: 0.9,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, discardLogger())
	result := c.Analyze(t.Context(), "hello", "u1", "c1", nil)

	if result.Severity != severity.Medium {
		t.Errorf("severity = %v, want Medium", result.Severity)
	}
	if result.Reason != "" {
		t.Errorf("expected no fail-open reason, got %q", result.Reason)
	}
}

func TestAnalyzeFailsOpenOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, discardLogger())
	c.retry.MaxAttempts = 1 // keep the test fast
	result := c.Analyze(t.Context(), "hello", "u1", "c1", nil)

	if result.Severity != severity.Safe {
		t.Errorf("severity = %v, want Safe (fail-open)", result.Severity)
	}
	if result.Reason != "nlp_unavailable" {
		t.Errorf("reason = %q, want nlp_unavailable", result.Reason)
	}
}

func TestAnalyzeFailsOpenOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, discardLogger())
	result := c.Analyze(t.Context(), "hello", "u1", "c1", nil)

	if result.Severity != severity.Safe || result.Reason != "nlp_unavailable" {
		t.Errorf("expected fail-open safe result, got %+v", result)
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, discardLogger())
	if !c.Healthy(t.Context()) {
		t.Error("expected healthy classifier to report true")
	}
}
