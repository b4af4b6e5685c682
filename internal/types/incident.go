// Package types defines shared types for incidents, metrics snapshots, and
// notification payloads used by the monitor pipeline and the HTTP API.
package types

import "time"

// Severity is the ordinal urgency level of an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IncidentType classifies what kind of problem an incident records.
type IncidentType string

const (
	IncidentSLABreach        IncidentType = "sla_breach"
	IncidentPrivacy          IncidentType = "privacy_incident"
	IncidentSecurityBreach   IncidentType = "security_breach"
	IncidentDataBreach       IncidentType = "data_breach"
	IncidentPerformanceIssue IncidentType = "performance_issue"
	IncidentOther            IncidentType = "other"
)

// Status is the incident lifecycle state. The monitor only ever creates
// incidents in StatusOpen; later transitions belong to the triage workflow.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
)

// MetricsSnapshot captures the SLA reading that triggered an incident.
type MetricsSnapshot struct {
	LatencyMS          float64 `json:"latency_ms"`
	ErrorRatePercent   float64 `json:"error_rate_percent"`
	LatencyThreshold   float64 `json:"latency_threshold_ms"`
	ErrorRateThreshold float64 `json:"error_rate_threshold_percent"`
	BreachDurationSecs int     `json:"breach_duration_seconds"`
	Endpoint           string  `json:"endpoint"`
}

// PrivacyDetails captures the context of a privacy incident.
type PrivacyDetails struct {
	AffectedUsers     int      `json:"affected_users"`
	DataTypes         []string `json:"data_types"`
	PotentialExposure string   `json:"potential_exposure"`
	Region            string   `json:"region"`
	RegulatoryImpact  []string `json:"regulatory_impact"`
	ContainmentStatus string   `json:"containment_status"`
}

// ContainmentNone is the initial containment status for a freshly detected
// privacy incident.
const ContainmentNone = "not_contained"

// AuditEntry is one append-only audit-trail record on an incident.
// Actor is empty for system-generated entries.
type AuditEntry struct {
	Action    string            `json:"action"`
	Actor     string            `json:"actor,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NotificationEntry is one delivery attempt recorded on an incident.
type NotificationEntry struct {
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sent_at"`
	Type      string    `json:"type"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
}

// Incident is an operational-health incident record. Severity is immutable
// once set; the monitor only appends notification log entries after creation.
type Incident struct {
	ID            string              `json:"id"`
	Type          IncidentType        `json:"incident_type"`
	Severity      Severity            `json:"severity"`
	Status        Status              `json:"status"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	Metrics       *MetricsSnapshot    `json:"metrics_snapshot,omitempty"`
	Privacy       *PrivacyDetails     `json:"privacy_details,omitempty"`
	AuditTrail    []AuditEntry        `json:"audit_trail"`
	Notifications []NotificationEntry `json:"notifications"`
	CreatedAt     time.Time           `json:"created_at"`
}

// FlaggedEntity is a record-store entity carrying an open safety flag.
type FlaggedEntity struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	FlagDescription string    `json:"flag_description"`
	Region          string    `json:"region,omitempty"`
	FlaggedAt       time.Time `json:"flagged_at"`
}

// User is a notification recipient resolved from the user directory.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Notification is the payload handed to the notification sink for one
// recipient.
type Notification struct {
	UserID   string            `json:"user_id"`
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Priority string            `json:"priority"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Observation is one request sample reported by a platform service through
// the ingestion API; it feeds the in-process metrics source.
type Observation struct {
	Service   string    `json:"service"`
	LatencyMS float64   `json:"latency_ms"`
	Error     bool      `json:"error"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
