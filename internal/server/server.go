// Package server provides the HTTP surface of the health monitor: the
// observation ingest API, incident queries, the live dashboard socket, and
// the health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autopilot-health-monitor/internal/config"
	"github.com/invisible-tech/autopilot-health-monitor/internal/metrics"
	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
	"github.com/invisible-tech/autopilot-health-monitor/internal/version"
	"github.com/invisible-tech/autopilot-health-monitor/pkg/broadcast"
)

// IncidentReader serves the read-only incident API.
type IncidentReader interface {
	ListIncidents(ctx context.Context, limit int) ([]types.Incident, error)
}

// Server is the monitor's HTTP server.
type Server struct {
	cfg        config.MonitorConfig
	recorder   *metrics.Recorder
	incidents  IncidentReader
	hub        *broadcast.Hub
	log        *logrus.Logger
	httpServer *http.Server
}

// New wires the HTTP routes. incidents may be nil when no database is
// configured; the incident endpoint then reports 503.
func New(cfg config.MonitorConfig, recorder *metrics.Recorder, incidents IncidentReader, hub *broadcast.Hub, log *logrus.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{cfg: cfg, recorder: recorder, incidents: incidents, hub: hub, log: log}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/observations", s.handleObservations)
	mux.HandleFunc("/api/v1/incidents", s.handleIncidents)
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP server. It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.cfg.HTTPAddr).Info("Monitor API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version.Version,
	})
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var obs types.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if obs.Service == "" {
		http.Error(w, "Missing service", http.StatusBadRequest)
		return
	}
	s.recorder.Observe(obs)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if s.incidents == nil {
		http.Error(w, "Incident store not configured", http.StatusServiceUnavailable)
		return
	}
	list, err := s.incidents.ListIncidents(r.Context(), 100)
	if err != nil {
		s.log.WithError(err).Error("Failed to list incidents")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []types.Incident{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}
