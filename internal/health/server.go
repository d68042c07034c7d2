// Package health exposes the bot's liveness/readiness/detailed-status and
// Prometheus endpoints (§4.14).
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/httpserver"
)

// Checker reports the liveness of one collaborator, used to build the
// readiness and detailed views.
type Checker interface {
	Name() string
	Healthy(ctx context.Context) bool
}

// GatewayChecker is satisfied by the Discord bot runtime.
type GatewayChecker interface {
	Connected() bool
}

// Server is the Health & Metrics HTTP surface.
type Server struct {
	http     *http.Server
	gateway  GatewayChecker
	checkers []Checker
	registry *prometheus.Registry
	logger   *slog.Logger
}

// New builds a Server. addr is host:port to listen on.
func New(addr string, gateway GatewayChecker, checkers []Checker, registry *prometheus.Registry, corsOrigins []string, logger *slog.Logger) *Server {
	s := &Server{gateway: gateway, checkers: checkers, registry: registry, logger: logger}

	r := chi.NewRouter()
	r.Use(httpserver.RequestID, httpserver.Logger(logger), httpserver.Metrics)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: corsOrigins, AllowedMethods: []string{"GET"}}))

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/readyz", s.handleReady)
	r.Get("/health/detailed", s.handleDetailed)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.gateway.Connected() {
		httpserver.Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "gateway_disconnected"})
		return
	}
	for _, c := range s.checkers {
		if !c.Healthy(r.Context()) {
			httpserver.Respond(w, http.StatusServiceUnavailable, map[string]string{"status": c.Name() + "_unreachable"})
			return
		}
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"gateway": statusLabel(s.gateway.Connected()),
	}
	for _, c := range s.checkers {
		components[c.Name()] = statusLabel(c.Healthy(r.Context()))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"components": components})
}

func statusLabel(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}
