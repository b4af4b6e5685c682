package detection

import (
	"strings"

	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
)

// ClassifyRatio maps how far a metric sits above its threshold to a severity.
// Boundaries resolve to the higher bucket: exactly 3.0 is critical, 2.0 high,
// 1.5 medium.
func ClassifyRatio(actual, threshold float64) types.Severity {
	if threshold <= 0 {
		return types.SeverityLow
	}
	ratio := actual / threshold
	switch {
	case ratio >= 3.0:
		return types.SeverityCritical
	case ratio >= 2.0:
		return types.SeverityHigh
	case ratio >= 1.5:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// sensitiveDataTypes are the categories that bump a privacy score.
var sensitiveDataTypes = map[string]bool{
	"pii":       true,
	"financial": true,
	"health":    true,
	"biometric": true,
	"location":  true,
}

// PrivacyImpact is the multi-factor profile scored for privacy incidents.
type PrivacyImpact struct {
	AffectedUsers     int
	DataTypes         []string
	PotentialExposure string
	RegulatoryImpact  []string
}

// ScorePrivacyImpact computes the weighted privacy score and maps it to a
// severity. Factors: affected-user count (up to +3), sensitive data types
// (+2), exposure wording (+2 full/public, +1 limited), regulatory markers
// (+2 GDPR, +1 CCPA/PIPEDA).
func ScorePrivacyImpact(p PrivacyImpact) (types.Severity, int) {
	score := 0

	switch {
	case p.AffectedUsers >= 10000:
		score += 3
	case p.AffectedUsers >= 1000:
		score += 2
	case p.AffectedUsers >= 100:
		score += 1
	}

	for _, dt := range p.DataTypes {
		if sensitiveDataTypes[strings.ToLower(strings.TrimSpace(dt))] {
			score += 2
			break
		}
	}

	exposure := strings.ToLower(p.PotentialExposure)
	if strings.Contains(exposure, "full") || strings.Contains(exposure, "public") {
		score += 2
	} else if strings.Contains(exposure, "limited") {
		score += 1
	}

	var gdpr, other bool
	for _, r := range p.RegulatoryImpact {
		switch strings.ToUpper(strings.TrimSpace(r)) {
		case "GDPR":
			gdpr = true
		case "CCPA", "PIPEDA":
			other = true
		}
	}
	if gdpr {
		score += 2
	}
	if other {
		score += 1
	}

	switch {
	case score >= 7:
		return types.SeverityCritical, score
	case score >= 5:
		return types.SeverityHigh, score
	case score >= 3:
		return types.SeverityMedium, score
	default:
		return types.SeverityLow, score
	}
}
