package detection

import (
	"testing"

	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
)

func TestClassifyRatio(t *testing.T) {
	tests := []struct {
		name      string
		actual    float64
		threshold float64
		want      types.Severity
	}{
		{"ratio 3.5 critical", 3500, 1000, types.SeverityCritical},
		{"ratio 3.0 boundary critical", 3000, 1000, types.SeverityCritical},
		{"ratio 2.2 high", 2200, 1000, types.SeverityHigh},
		{"ratio 2.0 boundary high", 2000, 1000, types.SeverityHigh},
		{"ratio 1.6 medium", 1600, 1000, types.SeverityMedium},
		{"ratio 1.5 boundary medium", 7.5, 5, types.SeverityMedium},
		{"ratio just under 1.5 low", 7.4, 5, types.SeverityLow},
		{"ratio 1.1 low", 1100, 1000, types.SeverityLow},
		{"zero threshold low", 100, 0, types.SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRatio(tt.actual, tt.threshold); got != tt.want {
				t.Errorf("ClassifyRatio(%v, %v) = %q, want %q", tt.actual, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestScorePrivacyImpact(t *testing.T) {
	tests := []struct {
		name      string
		impact    PrivacyImpact
		wantScore int
		wantSev   types.Severity
	}{
		{
			name: "full public PII release",
			impact: PrivacyImpact{
				AffectedUsers:     15000,
				DataTypes:         []string{"PII"},
				PotentialExposure: "Full public release",
				RegulatoryImpact:  []string{"GDPR"},
			},
			wantScore: 9,
			wantSev:   types.SeverityCritical,
		},
		{
			name: "small non-sensitive leak",
			impact: PrivacyImpact{
				AffectedUsers:     50,
				DataTypes:         []string{"marketing"},
				PotentialExposure: "Unknown",
			},
			wantScore: 0,
			wantSev:   types.SeverityLow,
		},
		{
			name: "limited exposure of health data",
			impact: PrivacyImpact{
				AffectedUsers:     1200,
				DataTypes:         []string{"health"},
				PotentialExposure: "Limited internal exposure",
			},
			wantScore: 5,
			wantSev:   types.SeverityHigh,
		},
		{
			name: "data type match is case-insensitive",
			impact: PrivacyImpact{
				AffectedUsers:     120,
				DataTypes:         []string{"Financial"},
				PotentialExposure: "unknown",
			},
			wantScore: 3,
			wantSev:   types.SeverityMedium,
		},
		{
			name: "GDPR and CCPA stack",
			impact: PrivacyImpact{
				AffectedUsers:    150,
				RegulatoryImpact: []string{"GDPR", "CCPA"},
			},
			wantScore: 4,
			wantSev:   types.SeverityMedium,
		},
		{
			name: "multiple sensitive types count once",
			impact: PrivacyImpact{
				DataTypes: []string{"pii", "biometric", "location"},
			},
			wantScore: 2,
			wantSev:   types.SeverityLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sev, score := ScorePrivacyImpact(tt.impact)
			if score != tt.wantScore {
				t.Errorf("score = %d, want %d", score, tt.wantScore)
			}
			if sev != tt.wantSev {
				t.Errorf("severity = %q, want %q", sev, tt.wantSev)
			}
		})
	}
}
