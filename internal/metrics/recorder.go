// Package metrics keeps a rolling in-process window of request observations
// reported by platform services and answers the monitor's per-tick queries.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
)

// Prometheus metrics (registered once).
var (
	observationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthmon_observations_total",
			Help: "Total request observations ingested",
		},
		[]string{"service", "outcome"},
	)
	requestLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "healthmon_request_latency_ms",
			Help:    "Reported request latency in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)
)

func init() {
	prometheus.MustRegister(observationsTotal)
	prometheus.MustRegister(requestLatency)
}

type sample struct {
	at        time.Time
	latencyMS float64
	isError   bool
}

// Recorder is a fixed-retention rolling buffer of observations. It is safe
// for concurrent use: the HTTP ingestion path writes while the monitor tick
// reads.
type Recorder struct {
	mu        sync.Mutex
	retention time.Duration
	samples   []sample
	now       func() time.Time
}

// NewRecorder creates a Recorder that retains observations for the given
// duration.
func NewRecorder(retention time.Duration) *Recorder {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &Recorder{retention: retention, now: time.Now}
}

// Observe records one request observation.
func (r *Recorder) Observe(o types.Observation) {
	at := o.Timestamp
	if at.IsZero() {
		at = r.now()
	}
	outcome := "ok"
	if o.Error {
		outcome = "error"
	}
	observationsTotal.WithLabelValues(o.Service, outcome).Inc()
	if o.LatencyMS > 0 {
		requestLatency.Observe(o.LatencyMS)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample{at: at, latencyMS: o.LatencyMS, isError: o.Error})
	r.prune()
}

// RecentRequestCount returns the number of observations within the window.
func (r *Recorder) RecentRequestCount(ctx context.Context, window time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-window)
	n := 0
	for _, s := range r.samples {
		if !s.at.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// RecentErrorCount returns the number of error observations within the window.
func (r *Recorder) RecentErrorCount(ctx context.Context, window time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-window)
	n := 0
	for _, s := range r.samples {
		if s.isError && !s.at.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// AverageLatency returns the mean reported latency over the retention
// window, or 0 when there is no signal.
func (r *Recorder) AverageLatency(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	var sum float64
	var n int
	for _, s := range r.samples {
		if s.latencyMS > 0 {
			sum += s.latencyMS
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// prune drops samples older than the retention window. Caller holds mu.
func (r *Recorder) prune() {
	cutoff := r.now().Add(-r.retention)
	i := 0
	for ; i < len(r.samples); i++ {
		if !r.samples[i].at.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		r.samples = append(r.samples[:0], r.samples[i:]...)
	}
}
