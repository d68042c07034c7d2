package health

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeGateway struct{ connected bool }

func (f *fakeGateway) Connected() bool { return f.connected }

type fakeChecker struct {
	name    string
	healthy bool
}

func (f *fakeChecker) Name() string                       { return f.name }
func (f *fakeChecker) Healthy(context.Context) bool { return f.healthy }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(gateway *fakeGateway, checkers []Checker) *Server {
	return New("127.0.0.1:0", gateway, checkers, prometheus.NewRegistry(), []string{"*"}, discardLogger())
}

func TestHealthAlwaysOK(t *testing.T) {
	s := newTestServer(&fakeGateway{connected: false}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyRequiresGatewayAndCollaborators(t *testing.T) {
	s := newTestServer(&fakeGateway{connected: true}, []Checker{&fakeChecker{name: "nlp", healthy: false}})
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when a collaborator is unreachable, got %d", rec.Code)
	}
}

func TestReadyOKWhenAllHealthy(t *testing.T) {
	s := newTestServer(&fakeGateway{connected: true}, []Checker{&fakeChecker{name: "nlp", healthy: true}, &fakeChecker{name: "kv", healthy: true}})
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDetailedReportsPerComponent(t *testing.T) {
	s := newTestServer(&fakeGateway{connected: true}, []Checker{&fakeChecker{name: "nlp", healthy: false}})
	req := httptest.NewRequest(http.MethodGet, "/health/detailed", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	var body struct {
		Components map[string]string `json:"components"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Components["nlp"] != "unhealthy" || body.Components["gateway"] != "healthy" {
		t.Fatalf("unexpected component statuses: %+v", body.Components)
	}
}
