package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autopilot-health-monitor/internal/config"
	"github.com/invisible-tech/autopilot-health-monitor/internal/metrics"
	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
	"github.com/invisible-tech/autopilot-health-monitor/pkg/broadcast"
)

type fakeReader struct {
	incidents []types.Incident
	err       error
}

func (f *fakeReader) ListIncidents(ctx context.Context, limit int) ([]types.Incident, error) {
	return f.incidents, f.err
}

func newTestServer(incidents IncidentReader) (*Server, *metrics.Recorder) {
	log := logrus.New()
	recorder := metrics.NewRecorder(5 * time.Minute)
	hub := broadcast.NewHub(log)
	cfg := config.MonitorConfig{HTTPAddr: ":0"}
	return New(cfg, recorder, incidents, hub, log), recorder
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /health: status %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("health status = %q", body["status"])
	}
	if body["version"] == "" {
		t.Error("health version should be set")
	}
}

func TestServer_Observations_Post(t *testing.T) {
	srv, recorder := newTestServer(nil)

	obs := types.Observation{Service: "checkout", LatencyMS: 120}
	body, _ := json.Marshal(obs)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/observations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.handleObservations(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("POST /api/v1/observations: status %d", rec.Code)
	}
	count, err := recorder.RecentRequestCount(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("RecentRequestCount: %v", err)
	}
	if count != 1 {
		t.Errorf("recorded requests = %d, want 1", count)
	}
}

func TestServer_Observations_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observations", nil)
	rec := httptest.NewRecorder()
	srv.handleObservations(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/v1/observations: status %d", rec.Code)
	}
}

func TestServer_Observations_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/observations", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.handleObservations(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST invalid JSON: status %d", rec.Code)
	}
}

func TestServer_Observations_MissingService(t *testing.T) {
	srv, _ := newTestServer(nil)

	body, _ := json.Marshal(types.Observation{LatencyMS: 50})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/observations", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleObservations(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST without service: status %d", rec.Code)
	}
}

func TestServer_Incidents(t *testing.T) {
	reader := &fakeReader{incidents: []types.Incident{
		{ID: "inc-1", Type: types.IncidentSLABreach, Severity: types.SeverityMedium},
	}}
	srv, _ := newTestServer(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	rec := httptest.NewRecorder()
	srv.handleIncidents(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /api/v1/incidents: status %d", rec.Code)
	}
	var got []types.Incident
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode incidents: %v", err)
	}
	if len(got) != 1 || got[0].ID != "inc-1" {
		t.Errorf("incidents = %+v", got)
	}
}

func TestServer_Incidents_EmptyListIsJSONArray(t *testing.T) {
	srv, _ := newTestServer(&fakeReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	rec := httptest.NewRecorder()
	srv.handleIncidents(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /api/v1/incidents: status %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("empty list body = %q, want JSON array", body)
	}
}

func TestServer_Incidents_NoStore(t *testing.T) {
	srv, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	rec := httptest.NewRecorder()
	srv.handleIncidents(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /api/v1/incidents without store: status %d", rec.Code)
	}
}

func TestServer_Incidents_StoreError(t *testing.T) {
	srv, _ := newTestServer(&fakeReader{err: errors.New("db down")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	rec := httptest.NewRecorder()
	srv.handleIncidents(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("GET /api/v1/incidents on store error: status %d", rec.Code)
	}
}
