package incident

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autopilot-health-monitor/internal/notify"
	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
)

type fakeStore struct {
	created []*types.Incident
	count   int
}

func (f *fakeStore) CreateIncident(ctx context.Context, inc *types.Incident) error {
	cp := *inc
	f.created = append(f.created, &cp)
	return nil
}

func (f *fakeStore) CountIncidents(ctx context.Context, flt CountFilter) (int, error) {
	return f.count, nil
}

func (f *fakeStore) AppendNotifications(ctx context.Context, id string, entries []types.NotificationEntry) error {
	return nil
}

type fakeDispatcher struct {
	dispatched []*types.Incident
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, inc *types.Incident, logStore notify.NotificationLog) []notify.Result {
	f.dispatched = append(f.dispatched, inc)
	return []notify.Result{{Recipient: "u1", Success: true}}
}

type fakeBroadcaster struct {
	events   []string
	payloads []any
}

func (f *fakeBroadcaster) Broadcast(event string, payload any) {
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
}

type fakeForwarder struct {
	mu        sync.Mutex
	forwarded []*types.Incident
}

func (f *fakeForwarder) ForwardIncident(ctx context.Context, inc *types.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded = append(f.forwarded, inc)
	return nil
}

func (f *fakeForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forwarded)
}

func newTestFactory() (*Factory, *fakeStore, *fakeDispatcher, *fakeBroadcaster) {
	store := &fakeStore{}
	disp := &fakeDispatcher{}
	bc := &fakeBroadcaster{}
	return NewFactory(store, disp, bc, nil, logrus.New()), store, disp, bc
}

func TestFactory_CreateSLAIncident(t *testing.T) {
	f, store, disp, bc := newTestFactory()

	inc, err := f.CreateSLAIncident(context.Background(), SLABreach{
		Metric:    "latency",
		Scope:     "global",
		Value:     1500,
		Threshold: 1000,
		Duration:  65 * time.Second,
		Snapshot: types.MetricsSnapshot{
			LatencyMS:          1500,
			ErrorRatePercent:   1.2,
			LatencyThreshold:   1000,
			ErrorRateThreshold: 5,
		},
	})
	if err != nil {
		t.Fatalf("CreateSLAIncident: %v", err)
	}
	if inc.Type != types.IncidentSLABreach {
		t.Errorf("Type = %q", inc.Type)
	}
	// Ratio 1.5 sits exactly on the medium boundary.
	if inc.Severity != types.SeverityMedium {
		t.Errorf("Severity = %q, want medium", inc.Severity)
	}
	if inc.Status != types.StatusOpen {
		t.Errorf("Status = %q, want open", inc.Status)
	}
	if inc.Metrics == nil || inc.Metrics.BreachDurationSecs != 65 {
		t.Errorf("Metrics = %+v, want breach duration 65s", inc.Metrics)
	}
	if inc.Metrics.Endpoint != "global" {
		t.Errorf("Endpoint = %q, want global", inc.Metrics.Endpoint)
	}
	if !strings.Contains(inc.Description, "1500ms") || !strings.Contains(inc.Description, "65 seconds") {
		t.Errorf("Description = %q, want rounded latency and duration", inc.Description)
	}
	if len(inc.AuditTrail) != 1 {
		t.Fatalf("AuditTrail len = %d, want 1", len(inc.AuditTrail))
	}
	if inc.AuditTrail[0].Metadata["source"] != "sla_monitor" {
		t.Errorf("audit source = %q, want sla_monitor", inc.AuditTrail[0].Metadata["source"])
	}
	if inc.AuditTrail[0].Actor != "" {
		t.Error("audit actor should be empty for system entries")
	}

	if len(store.created) != 1 {
		t.Errorf("store has %d incidents, want 1", len(store.created))
	}
	if len(disp.dispatched) != 1 {
		t.Errorf("dispatcher called %d times, want 1", len(disp.dispatched))
	}
	if len(bc.events) != 1 || bc.events[0] != "incident_created" {
		t.Errorf("broadcast events = %v, want [incident_created]", bc.events)
	}
}

func TestFactory_SLAErrorRateDescription(t *testing.T) {
	f, _, _, _ := newTestFactory()

	inc, err := f.CreateSLAIncident(context.Background(), SLABreach{
		Metric:    "error_rate",
		Scope:     "global",
		Value:     7.5,
		Threshold: 5,
		Duration:  90 * time.Second,
	})
	if err != nil {
		t.Fatalf("CreateSLAIncident: %v", err)
	}
	if inc.Severity != types.SeverityMedium {
		t.Errorf("Severity = %q, want medium for ratio 1.5", inc.Severity)
	}
	if !strings.Contains(inc.Description, "7.5%") {
		t.Errorf("Description = %q, want error rate embedded", inc.Description)
	}
}

func TestFactory_CreatePrivacyIncident(t *testing.T) {
	f, store, _, bc := newTestFactory()

	inc, err := f.CreatePrivacyIncident(context.Background(), PrivacyIssue{
		Title:             "Privacy flag: consent record exposed",
		Description:       "Flagged record mentions unconsented data sharing",
		AffectedUsers:     1,
		DataTypes:         []string{"PII"},
		PotentialExposure: "Limited internal exposure",
		AffectedRegion:    "EU",
		RegulatoryImpact:  []string{"GDPR"},
	})
	if err != nil {
		t.Fatalf("CreatePrivacyIncident: %v", err)
	}
	if inc.Type != types.IncidentPrivacy {
		t.Errorf("Type = %q", inc.Type)
	}
	// 0 (users) + 2 (PII) + 1 (limited) + 2 (GDPR) = 5.
	if inc.Severity != types.SeverityHigh {
		t.Errorf("Severity = %q, want high", inc.Severity)
	}
	if inc.Privacy == nil || inc.Privacy.ContainmentStatus != types.ContainmentNone {
		t.Errorf("Privacy = %+v, want containment not_contained", inc.Privacy)
	}
	if inc.AuditTrail[0].Metadata["source"] != "privacy_triage" {
		t.Errorf("audit source = %q, want privacy_triage", inc.AuditTrail[0].Metadata["source"])
	}
	if len(store.created) != 1 || len(bc.events) != 1 {
		t.Error("privacy incident should persist and broadcast")
	}
}

func TestFactory_ForwardsOnlyHighAndCritical(t *testing.T) {
	store := &fakeStore{}
	fwd := &fakeForwarder{}
	f := NewFactory(store, &fakeDispatcher{}, &fakeBroadcaster{}, fwd, logrus.New())

	// Low severity: ratio 1.1, no forward.
	_, err := f.CreateSLAIncident(context.Background(), SLABreach{
		Metric: "latency", Scope: "global", Value: 1100, Threshold: 1000, Duration: time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateSLAIncident: %v", err)
	}
	// Critical: ratio 3.5, forwarded.
	_, err = f.CreateSLAIncident(context.Background(), SLABreach{
		Metric: "latency", Scope: "global", Value: 3500, Threshold: 1000, Duration: time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateSLAIncident: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for fwd.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fwd.count() != 1 {
		t.Errorf("forwarded %d incidents, want 1 (critical only)", fwd.count())
	}
}
