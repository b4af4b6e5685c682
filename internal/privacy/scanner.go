// Package privacy scans the record store for safety flags with
// privacy-relevant wording and raises incidents for them.
package privacy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autopilot-health-monitor/internal/incident"
	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
)

// vocabulary are the keywords that mark a flag description as
// privacy-relevant. Matching is case-insensitive.
var vocabulary = []string{"privacy", "data", "consent", "gdpr", "pii", "personal"}

// FlagFilter selects flagged entities from the record store.
type FlagFilter struct {
	Keywords []string
	Since    time.Time
	OpenOnly bool
}

// RecordStore is the flagged-entity query contract.
type RecordStore interface {
	QueryFlaggedEntities(ctx context.Context, f FlagFilter, limit int) ([]types.FlaggedEntity, error)
}

// Config holds the scanner's operational parameters.
type Config struct {
	BatchLimit    int
	FlagLookback  time.Duration
	DedupLookback time.Duration
}

// Scanner runs the privacy path of a monitor tick.
type Scanner struct {
	cfg     Config
	records RecordStore
	factory *incident.Factory
	log     *logrus.Logger
}

// NewScanner creates a Scanner.
func NewScanner(cfg Config, records RecordStore, factory *incident.Factory, log *logrus.Logger) *Scanner {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 5
	}
	if cfg.FlagLookback <= 0 {
		cfg.FlagLookback = 24 * time.Hour
	}
	if cfg.DedupLookback <= 0 {
		cfg.DedupLookback = 24 * time.Hour
	}
	return &Scanner{cfg: cfg, records: records, factory: factory, log: log}
}

// Scan queries for recently flagged entities matching the privacy vocabulary
// and creates one incident per candidate, unless the dedup check suppresses
// the whole batch.
func (s *Scanner) Scan(ctx context.Context) error {
	now := time.Now().UTC()
	entities, err := s.records.QueryFlaggedEntities(ctx, FlagFilter{
		Keywords: vocabulary,
		Since:    now.Add(-s.cfg.FlagLookback),
		OpenOnly: true,
	}, s.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("query flagged entities: %w", err)
	}

	var candidates []incident.PrivacyIssue
	for _, e := range entities {
		issue, ok := s.buildIssue(e)
		if !ok {
			// Malformed candidate: skip it, keep the rest of the batch.
			s.log.WithField("entity_id", e.ID).Warn("Skipping flagged entity with no usable description")
			continue
		}
		candidates = append(candidates, issue)
	}
	if len(candidates) == 0 {
		return nil
	}

	suppressed, err := s.recentlyRaised(ctx, now, len(candidates))
	if err != nil {
		return fmt.Errorf("privacy dedup check: %w", err)
	}
	if suppressed {
		s.log.WithField("candidates", len(candidates)).Info("Privacy incidents suppressed by recent-incident check")
		return nil
	}

	for _, issue := range candidates {
		if _, err := s.factory.CreatePrivacyIncident(ctx, issue); err != nil {
			s.log.WithError(err).WithField("title", issue.Title).Error("Failed to create privacy incident")
		}
	}
	return nil
}

// recentlyRaised reports whether any privacy incident in the lookback window
// has an affected-user count at or below the current batch size.
//
// TODO: this compares only counts, not which entities were affected, so an
// unrelated recent incident can suppress a new batch. Replace with an
// identity-based key once "same incident" is defined for the privacy path.
func (s *Scanner) recentlyRaised(ctx context.Context, now time.Time, batchSize int) (bool, error) {
	n, err := s.factory.CountRecent(ctx, incident.CountFilter{
		Type:             types.IncidentPrivacy,
		CreatedAfter:     now.Add(-s.cfg.DedupLookback),
		MaxAffectedUsers: batchSize,
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// buildIssue turns a flagged entity into a candidate privacy issue. The
// second return is false when the entity is missing the fields the issue
// needs.
func (s *Scanner) buildIssue(e types.FlaggedEntity) (incident.PrivacyIssue, bool) {
	desc := strings.TrimSpace(e.FlagDescription)
	if desc == "" || !matchesVocabulary(desc) {
		return incident.PrivacyIssue{}, false
	}

	lower := strings.ToLower(desc)
	var dataTypes []string
	if strings.Contains(lower, "pii") || strings.Contains(lower, "personal") {
		dataTypes = append(dataTypes, "PII")
	}
	if strings.Contains(lower, "consent") {
		dataTypes = append(dataTypes, "consent_records")
	}
	if len(dataTypes) == 0 {
		dataTypes = []string{"user_data"}
	}

	var regulatory []string
	if strings.Contains(lower, "gdpr") || strings.EqualFold(e.Region, "EU") {
		regulatory = append(regulatory, "GDPR")
	}

	kind := e.Kind
	if kind == "" {
		kind = "record"
	}
	return incident.PrivacyIssue{
		Title:             fmt.Sprintf("Privacy flag raised on %s %s", kind, e.ID),
		Description:       desc,
		AffectedUsers:     1,
		DataTypes:         dataTypes,
		PotentialExposure: desc,
		AffectedRegion:    e.Region,
		RegulatoryImpact:  regulatory,
	}, true
}

func matchesVocabulary(desc string) bool {
	lower := strings.ToLower(desc)
	for _, kw := range vocabulary {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
