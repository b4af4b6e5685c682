// Package monitor runs the periodic health tick: collect platform metrics,
// track SLA breach windows, raise incidents for confirmed breaches, and run
// the privacy flag scan.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/invisible-tech/autopilot-health-monitor/internal/config"
	"github.com/invisible-tech/autopilot-health-monitor/internal/detection"
	"github.com/invisible-tech/autopilot-health-monitor/internal/incident"
	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
)

// Prometheus metrics (registered once).
var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthmon_ticks_total",
			Help: "Monitor ticks by outcome",
		},
		[]string{"outcome"},
	)
	activeWindows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthmon_breach_windows_active",
			Help: "Breach windows currently open",
		},
	)
)

func init() {
	prometheus.MustRegister(ticksTotal)
	prometheus.MustRegister(activeWindows)
}

// MetricsSource answers the per-tick metric queries. Several sources may be
// configured; their request/error counts are summed.
type MetricsSource interface {
	RecentRequestCount(ctx context.Context, window time.Duration) (int, error)
	RecentErrorCount(ctx context.Context, window time.Duration) (int, error)
	AverageLatency(ctx context.Context) (float64, error)
}

// FlagScanner runs the privacy path of a tick.
type FlagScanner interface {
	Scan(ctx context.Context) error
}

// Monitor owns the breach state and sequences one tick at a time.
type Monitor struct {
	cfg     config.MonitorConfig
	log     *logrus.Logger
	state   *detection.BreachState
	factory *incident.Factory
	scanner FlagScanner
	sources []MetricsSource

	// Single-flight guard: a tick requested while one is running is
	// dropped, not queued.
	inflight *semaphore.Weighted

	mu         sync.RWMutex
	thresholds config.Thresholds

	// now is swapped in tests to step through breach windows.
	now func() time.Time
}

// New creates a Monitor. The breach state is injected so tests can inspect
// it and so it outlives individual ticks.
func New(cfg config.MonitorConfig, state *detection.BreachState, factory *incident.Factory, scanner FlagScanner, sources []MetricsSource, log *logrus.Logger) *Monitor {
	return &Monitor{
		cfg:        cfg,
		log:        log,
		state:      state,
		factory:    factory,
		scanner:    scanner,
		sources:    sources,
		inflight:   semaphore.NewWeighted(1),
		thresholds: cfg.Thresholds,
		now:        time.Now,
	}
}

// SetThresholds swaps the SLA thresholds; called by the thresholds-file
// watcher.
func (m *Monitor) SetThresholds(t config.Thresholds) {
	m.mu.Lock()
	m.thresholds = t
	m.mu.Unlock()
}

// Thresholds returns the currently active SLA thresholds.
func (m *Monitor) Thresholds() config.Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// Run blocks, executing one tick shortly after startup and then one per tick
// interval, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.WithFields(logrus.Fields{
		"tick_interval": m.cfg.TickInterval,
		"startup_delay": m.cfg.StartupDelay,
		"scope":         m.cfg.Scope,
	}).Info("Starting health monitor loop")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.cfg.StartupDelay):
	}
	m.Tick(ctx)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one monitor pass. It returns false when a previous tick is
// still in flight and this request was dropped.
func (m *Monitor) Tick(ctx context.Context) bool {
	if !m.inflight.TryAcquire(1) {
		ticksTotal.WithLabelValues("dropped").Inc()
		m.log.Warn("Previous tick still running, dropping this one")
		return false
	}
	defer m.inflight.Release(1)

	start := time.Now()
	err := m.runTick(ctx)
	activeWindows.Set(float64(m.state.Active()))
	if err != nil {
		ticksTotal.WithLabelValues("error").Inc()
		m.log.WithError(err).WithField("elapsed", time.Since(start)).Error("Monitor tick failed")
	} else {
		ticksTotal.WithLabelValues("ok").Inc()
		m.log.WithField("elapsed", time.Since(start)).Debug("Monitor tick complete")
	}
	return true
}

// runTick is the guarded tick body. A panic anywhere inside is converted to
// an error so the process keeps running and the guard is released.
func (m *Monitor) runTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	var firstErr error
	snap, snapErr := m.collect(ctx)
	if snapErr != nil {
		firstErr = fmt.Errorf("collect metrics: %w", snapErr)
	} else if snap.hasSignal() {
		m.checkSLA(ctx, snap)
	}

	// The flag scan runs regardless of how the SLA path fared.
	if scanErr := m.scanner.Scan(ctx); scanErr != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("flag scan: %w", scanErr)
		} else {
			m.log.WithError(scanErr).Error("Flag scan failed")
		}
	}
	return firstErr
}

// snapshot is one tick's combined metric reading.
type snapshot struct {
	requests  int
	errors    int
	latency   float64
	errorRate float64
}

func (s snapshot) hasSignal() bool {
	return s.requests > 0 || s.latency > 0
}

// collect sums request/error counts across all sources and takes the first
// reported average latency. A zero request count yields a zero error rate,
// never a division error.
func (m *Monitor) collect(ctx context.Context) (snapshot, error) {
	var snap snapshot
	for _, src := range m.sources {
		requests, err := src.RecentRequestCount(ctx, m.cfg.MetricsWindow)
		if err != nil {
			return snap, err
		}
		errs, err := src.RecentErrorCount(ctx, m.cfg.MetricsWindow)
		if err != nil {
			return snap, err
		}
		snap.requests += requests
		snap.errors += errs

		if snap.latency == 0 {
			latency, err := src.AverageLatency(ctx)
			if err != nil {
				return snap, err
			}
			snap.latency = latency
		}
	}
	if snap.requests > 0 {
		snap.errorRate = 100 * float64(snap.errors) / float64(snap.requests)
	}
	return snap, nil
}

// checkSLA runs the breach state machine for both SLA metrics.
func (m *Monitor) checkSLA(ctx context.Context, snap snapshot) {
	now := m.now().UTC()
	th := m.Thresholds()
	m.checkMetric(ctx, "latency", snap.latency, th.LatencyMS, snap, th, now)
	m.checkMetric(ctx, "error_rate", snap.errorRate, th.ErrorRatePercent, snap, th, now)
}

// checkMetric advances the breach window for one metric and raises an
// incident once the breach has persisted long enough. The window is marked
// so later ticks for the same unbroken breach create nothing more.
func (m *Monitor) checkMetric(ctx context.Context, metric string, value, threshold float64, snap snapshot, th config.Thresholds, now time.Time) {
	key := detection.WindowKey{Metric: metric, Scope: m.cfg.Scope}
	w := m.state.Track(key, value, threshold, now)
	if w == nil {
		return
	}
	m.log.WithFields(logrus.Fields{
		"metric":    metric,
		"scope":     m.cfg.Scope,
		"value":     value,
		"threshold": threshold,
		"duration":  w.Duration,
	}).Warn("Metric above threshold")

	if w.IncidentCreated || w.Duration < th.BreachDuration {
		return
	}

	_, err := m.factory.CreateSLAIncident(ctx, incident.SLABreach{
		Metric:    metric,
		Scope:     m.cfg.Scope,
		Value:     value,
		Threshold: threshold,
		Duration:  w.Duration,
		Snapshot: types.MetricsSnapshot{
			LatencyMS:          snap.latency,
			ErrorRatePercent:   snap.errorRate,
			LatencyThreshold:   th.LatencyMS,
			ErrorRateThreshold: th.ErrorRatePercent,
			Endpoint:           m.cfg.Scope,
		},
	})
	if err != nil {
		m.log.WithError(err).WithField("metric", metric).Error("Failed to create SLA incident")
		return
	}
	w.IncidentCreated = true
}

// ActivityCounter counts activity-log records of one kind since a cutoff.
type ActivityCounter interface {
	CountActivityRecords(ctx context.Context, kind string, since time.Time) (int, error)
}

// ActivitySource adapts the record store's activity log into a MetricsSource
// so store-side request/error records are summed into the tick's reading.
type ActivitySource struct {
	Counter ActivityCounter
}

func (s *ActivitySource) RecentRequestCount(ctx context.Context, window time.Duration) (int, error) {
	return s.Counter.CountActivityRecords(ctx, "request", time.Now().UTC().Add(-window))
}

func (s *ActivitySource) RecentErrorCount(ctx context.Context, window time.Duration) (int, error) {
	return s.Counter.CountActivityRecords(ctx, "error", time.Now().UTC().Add(-window))
}

// AverageLatency reports no signal; latency comes from the in-process
// recorder.
func (s *ActivitySource) AverageLatency(ctx context.Context) (float64, error) {
	return 0, nil
}
