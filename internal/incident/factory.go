// Package incident builds and persists incident records from confirmed
// breaches and detected privacy flags, then fans them out to notifications,
// live dashboards, and the optional external alert gateway.
package incident

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autopilot-health-monitor/internal/detection"
	"github.com/invisible-tech/autopilot-health-monitor/internal/notify"
	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
)

// Prometheus metrics (registered once).
var incidentsCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "healthmon_incidents_created_total",
		Help: "Total incidents created by the monitor",
	},
	[]string{"type", "severity"},
)

func init() {
	prometheus.MustRegister(incidentsCreated)
}

// CountFilter selects incidents for counting. Zero values are ignored.
type CountFilter struct {
	Type             types.IncidentType
	CreatedAfter     time.Time
	MaxAffectedUsers int
}

// Store is the incident persistence contract consumed by the factory.
type Store interface {
	CreateIncident(ctx context.Context, inc *types.Incident) error
	CountIncidents(ctx context.Context, f CountFilter) (int, error)
	AppendNotifications(ctx context.Context, incidentID string, entries []types.NotificationEntry) error
}

// Broadcaster pushes new-incident events to live subscribers.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Forwarder relays an incident to an external alerting endpoint.
type Forwarder interface {
	ForwardIncident(ctx context.Context, inc *types.Incident) error
}

// Dispatcher is satisfied by notify.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, inc *types.Incident, logStore notify.NotificationLog) []notify.Result
}

// SLABreach describes a confirmed SLA breach handed to the factory.
type SLABreach struct {
	Metric    string
	Scope     string
	Value     float64
	Threshold float64
	Duration  time.Duration
	Snapshot  types.MetricsSnapshot
}

// PrivacyIssue is a candidate privacy incident built by the flag scanner.
type PrivacyIssue struct {
	Title             string
	Description       string
	AffectedUsers     int
	DataTypes         []string
	PotentialExposure string
	AffectedRegion    string
	RegulatoryImpact  []string
}

// Factory constructs incidents, persists them, and triggers the fan-out.
type Factory struct {
	store       Store
	dispatcher  Dispatcher
	broadcaster Broadcaster
	forwarder   Forwarder
	log         *logrus.Logger
}

// NewFactory creates a Factory. forwarder may be nil when no external alert
// gateway is configured.
func NewFactory(store Store, dispatcher Dispatcher, broadcaster Broadcaster, forwarder Forwarder, log *logrus.Logger) *Factory {
	return &Factory{
		store:       store,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		forwarder:   forwarder,
		log:         log,
	}
}

// CreateSLAIncident persists exactly one incident for a confirmed breach
// window and fans it out. The caller marks the window so repeat ticks for a
// still-breaching key skip creation.
func (f *Factory) CreateSLAIncident(ctx context.Context, b SLABreach) (*types.Incident, error) {
	severity := detection.ClassifyRatio(b.Value, b.Threshold)
	snapshot := b.Snapshot
	snapshot.BreachDurationSecs = int(math.Round(b.Duration.Seconds()))
	if snapshot.Endpoint == "" {
		snapshot.Endpoint = b.Scope
	}

	var title, description string
	switch b.Metric {
	case "latency":
		title = fmt.Sprintf("SLA breach: high latency on %s", b.Scope)
		description = fmt.Sprintf("Average latency %.0fms exceeded the %.0fms threshold for %d seconds on %s.",
			b.Value, b.Threshold, snapshot.BreachDurationSecs, b.Scope)
	case "error_rate":
		title = fmt.Sprintf("SLA breach: elevated error rate on %s", b.Scope)
		description = fmt.Sprintf("Error rate %.1f%% exceeded the %.1f%% threshold for %d seconds on %s.",
			b.Value, b.Threshold, snapshot.BreachDurationSecs, b.Scope)
	default:
		title = fmt.Sprintf("SLA breach: %s on %s", b.Metric, b.Scope)
		description = fmt.Sprintf("Metric %s at %.2f exceeded the %.2f threshold for %d seconds on %s.",
			b.Metric, b.Value, b.Threshold, snapshot.BreachDurationSecs, b.Scope)
	}

	inc := &types.Incident{
		ID:          uuid.New().String(),
		Type:        types.IncidentSLABreach,
		Severity:    severity,
		Status:      types.StatusOpen,
		Title:       title,
		Description: description,
		Metrics:     &snapshot,
		AuditTrail: []types.AuditEntry{{
			Action:    "incident_created",
			Timestamp: time.Now().UTC(),
			Metadata: map[string]string{
				"source": "sla_monitor",
				"metric": b.Metric,
				"scope":  b.Scope,
			},
		}},
		CreatedAt: time.Now().UTC(),
	}
	return inc, f.create(ctx, inc)
}

// CreatePrivacyIncident persists one incident for a detected privacy flag
// and fans it out.
func (f *Factory) CreatePrivacyIncident(ctx context.Context, issue PrivacyIssue) (*types.Incident, error) {
	severity, score := detection.ScorePrivacyImpact(detection.PrivacyImpact{
		AffectedUsers:     issue.AffectedUsers,
		DataTypes:         issue.DataTypes,
		PotentialExposure: issue.PotentialExposure,
		RegulatoryImpact:  issue.RegulatoryImpact,
	})

	inc := &types.Incident{
		ID:          uuid.New().String(),
		Type:        types.IncidentPrivacy,
		Severity:    severity,
		Status:      types.StatusOpen,
		Title:       issue.Title,
		Description: issue.Description,
		Privacy: &types.PrivacyDetails{
			AffectedUsers:     issue.AffectedUsers,
			DataTypes:         issue.DataTypes,
			PotentialExposure: issue.PotentialExposure,
			Region:            issue.AffectedRegion,
			RegulatoryImpact:  issue.RegulatoryImpact,
			ContainmentStatus: types.ContainmentNone,
		},
		AuditTrail: []types.AuditEntry{{
			Action:    "incident_created",
			Timestamp: time.Now().UTC(),
			Metadata: map[string]string{
				"source":       "privacy_triage",
				"impact_score": fmt.Sprintf("%d", score),
			},
		}},
		CreatedAt: time.Now().UTC(),
	}
	return inc, f.create(ctx, inc)
}

// CountRecent counts incidents matching the filter; used by the privacy
// dedup check.
func (f *Factory) CountRecent(ctx context.Context, filter CountFilter) (int, error) {
	return f.store.CountIncidents(ctx, filter)
}

func (f *Factory) create(ctx context.Context, inc *types.Incident) error {
	if err := f.store.CreateIncident(ctx, inc); err != nil {
		return fmt.Errorf("persist incident: %w", err)
	}
	incidentsCreated.WithLabelValues(string(inc.Type), string(inc.Severity)).Inc()
	f.log.WithFields(logrus.Fields{
		"incident_id": inc.ID,
		"type":        inc.Type,
		"severity":    inc.Severity,
		"title":       inc.Title,
	}).Warn("INCIDENT CREATED")

	f.dispatcher.Dispatch(ctx, inc, f.store)
	f.broadcaster.Broadcast("incident_created", inc)
	f.forward(ctx, inc)
	return nil
}

// forward relays high and critical incidents to the external gateway,
// fire-and-forget.
func (f *Factory) forward(ctx context.Context, inc *types.Incident) {
	if f.forwarder == nil {
		return
	}
	if inc.Severity != types.SeverityHigh && inc.Severity != types.SeverityCritical {
		return
	}
	go func() {
		if err := f.forwarder.ForwardIncident(ctx, inc); err != nil {
			f.log.WithError(err).WithField("incident_id", inc.ID).Error("Failed to forward incident to alert gateway")
		}
	}()
}
