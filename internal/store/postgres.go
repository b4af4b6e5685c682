package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/invisible-tech/autopilot-health-monitor/internal/incident"
	"github.com/invisible-tech/autopilot-health-monitor/internal/privacy"
	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
)

// Store wraps the monitor's Postgres tables. It satisfies the persistence
// contracts of the incident factory, the flag scanner, the notification
// dispatcher, and the tick's activity source.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateIncident inserts an incident row. The metrics snapshot, privacy
// details, audit trail, and notification log are jsonb columns.
func (s *Store) CreateIncident(ctx context.Context, inc *types.Incident) error {
	if inc.Status == "" {
		inc.Status = types.StatusOpen
	}
	var metrics, privacyDetails []byte
	var err error
	if inc.Metrics != nil {
		if metrics, err = json.Marshal(inc.Metrics); err != nil {
			return fmt.Errorf("encode metrics snapshot: %w", err)
		}
	}
	if inc.Privacy != nil {
		if privacyDetails, err = json.Marshal(inc.Privacy); err != nil {
			return fmt.Errorf("encode privacy details: %w", err)
		}
	}
	audit, err := json.Marshal(inc.AuditTrail)
	if err != nil {
		return fmt.Errorf("encode audit trail: %w", err)
	}
	notifications, err := json.Marshal(inc.Notifications)
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}
	const q = `
		INSERT INTO incidents
		(id, incident_type, severity, status, title, description,
		 metrics_snapshot, privacy_details, audit_trail, notifications, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	_, err = s.db.ExecContext(ctx, q,
		inc.ID,
		string(inc.Type),
		string(inc.Severity),
		string(inc.Status),
		inc.Title,
		inc.Description,
		metrics,
		privacyDetails,
		audit,
		notifications,
		inc.CreatedAt,
	)
	return err
}

// CountIncidents counts incidents matching the filter. Zero-valued filter
// fields are not applied. MaxAffectedUsers filters on the affected_users
// field inside the privacy_details jsonb.
func (s *Store) CountIncidents(ctx context.Context, f incident.CountFilter) (int, error) {
	clauses := []string{"1=1"}
	args := []interface{}{}
	idx := 1
	if f.Type != "" {
		clauses = append(clauses, "incident_type = $"+itoa(idx))
		args = append(args, string(f.Type))
		idx++
	}
	if !f.CreatedAfter.IsZero() {
		clauses = append(clauses, "created_at >= $"+itoa(idx))
		args = append(args, f.CreatedAfter)
		idx++
	}
	if f.MaxAffectedUsers > 0 {
		clauses = append(clauses, "(privacy_details->>'affected_users')::int <= $"+itoa(idx))
		args = append(args, f.MaxAffectedUsers)
		idx++
	}
	query := "SELECT COUNT(*) FROM incidents WHERE " + strings.Join(clauses, " AND ")
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetIncident loads one incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*types.Incident, error) {
	const q = `
		SELECT id, incident_type, severity, status, title, description,
		       metrics_snapshot, privacy_details, audit_trail, notifications, created_at
		FROM incidents WHERE id = $1
	`
	return scanIncident(s.db.QueryRowContext(ctx, q, id))
}

// ListIncidents returns the most recent incidents, newest first.
func (s *Store) ListIncidents(ctx context.Context, limit int) ([]types.Incident, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
		SELECT id, incident_type, severity, status, title, description,
		       metrics_snapshot, privacy_details, audit_trail, notifications, created_at
		FROM incidents ORDER BY created_at DESC LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []types.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *inc)
	}
	return res, rows.Err()
}

// AppendNotifications merges delivery attempts into an incident's
// notification log without touching any other column.
func (s *Store) AppendNotifications(ctx context.Context, incidentID string, entries []types.NotificationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode notification entries: %w", err)
	}
	const q = `
		UPDATE incidents
		SET notifications = COALESCE(notifications, '[]'::jsonb) || $1::jsonb
		WHERE id = $2
	`
	_, err = s.db.ExecContext(ctx, q, data, incidentID)
	return err
}

// QueryFlaggedEntities returns flagged records whose flag description
// matches any of the filter keywords, oldest flag first.
func (s *Store) QueryFlaggedEntities(ctx context.Context, f privacy.FlagFilter, limit int) ([]types.FlaggedEntity, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	args := []interface{}{}
	idx := 1
	if f.OpenOnly {
		clauses = append(clauses, "resolved_at IS NULL")
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "flagged_at >= $"+itoa(idx))
		args = append(args, f.Since)
		idx++
	}
	if len(f.Keywords) > 0 {
		clauses = append(clauses, "flag_description ILIKE ANY($"+itoa(idx)+")")
		args = append(args, pq.Array(likePatterns(f.Keywords)))
		idx++
	}
	query := "SELECT id, kind, flag_description, COALESCE(region, ''), flagged_at" +
		" FROM flagged_entities WHERE " + strings.Join(clauses, " AND ") +
		" ORDER BY flagged_at ASC LIMIT " + itoa(limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []types.FlaggedEntity
	for rows.Next() {
		var e types.FlaggedEntity
		if err := rows.Scan(&e.ID, &e.Kind, &e.FlagDescription, &e.Region, &e.FlaggedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountActivityRecords counts activity-log rows of one kind since the given
// time. Kinds in use are "request" and "error".
func (s *Store) CountActivityRecords(ctx context.Context, kind string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM activity_log WHERE kind = $1 AND recorded_at >= $2`
	var count int
	if err := s.db.QueryRowContext(ctx, q, kind, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// RecordActivity appends one activity-log row.
func (s *Store) RecordActivity(ctx context.Context, kind, service string, at time.Time) error {
	const q = `INSERT INTO activity_log (kind, service, recorded_at) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, q, kind, service, at.UTC())
	return err
}

// FindUsersByRole resolves notification recipients holding the given role.
func (s *Store) FindUsersByRole(ctx context.Context, role string) ([]types.User, error) {
	const q = `
		SELECT u.id, u.name, u.email
		FROM users u
		JOIN user_roles r ON r.user_id = u.id
		WHERE r.role = $1
		ORDER BY u.id
	`
	rows, err := s.db.QueryContext(ctx, q, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// Send persists one notification row for in-app delivery. It satisfies the
// dispatcher's sink contract.
func (s *Store) Send(ctx context.Context, n types.Notification) error {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	const q = `
		INSERT INTO notifications (user_id, type, title, message, priority, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	_, err = s.db.ExecContext(ctx, q, n.UserID, n.Type, n.Title, n.Message, n.Priority, metadata, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*types.Incident, error) {
	var inc types.Incident
	var incType, severity, status string
	var metrics, privacyDetails []byte
	var audit, notifications []byte
	if err := row.Scan(&inc.ID, &incType, &severity, &status, &inc.Title, &inc.Description,
		&metrics, &privacyDetails, &audit, &notifications, &inc.CreatedAt); err != nil {
		return nil, err
	}
	inc.Type = types.IncidentType(incType)
	inc.Severity = types.Severity(severity)
	inc.Status = types.Status(status)
	if len(metrics) > 0 {
		inc.Metrics = &types.MetricsSnapshot{}
		if err := json.Unmarshal(metrics, inc.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics snapshot: %w", err)
		}
	}
	if len(privacyDetails) > 0 {
		inc.Privacy = &types.PrivacyDetails{}
		if err := json.Unmarshal(privacyDetails, inc.Privacy); err != nil {
			return nil, fmt.Errorf("decode privacy details: %w", err)
		}
	}
	if len(audit) > 0 {
		if err := json.Unmarshal(audit, &inc.AuditTrail); err != nil {
			return nil, fmt.Errorf("decode audit trail: %w", err)
		}
	}
	if len(notifications) > 0 {
		if err := json.Unmarshal(notifications, &inc.Notifications); err != nil {
			return nil, fmt.Errorf("decode notifications: %w", err)
		}
	}
	return &inc, nil
}

// likePatterns wraps each keyword in ILIKE wildcards.
func likePatterns(keywords []string) []string {
	patterns := make([]string, len(keywords))
	for i, kw := range keywords {
		patterns[i] = "%" + kw + "%"
	}
	return patterns
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
