// Package detection decides when a monitored metric constitutes a breach and
// how severe the resulting incident should be.
package detection

import "time"

// WindowKey identifies one tracked metric: a metric kind plus a scope
// (an endpoint name, or "global").
type WindowKey struct {
	Metric string
	Scope  string
}

// BreachWindow is the contiguous span during which a metric has stayed above
// its threshold for one key.
type BreachWindow struct {
	StartTime       time.Time
	Duration        time.Duration
	IncidentCreated bool
}

// BreachState holds one breach window per key. It is owned by the monitor
// orchestrator and lives for the process lifetime; ticks never overlap, so no
// locking is needed while the monitor runs as a single process.
type BreachState struct {
	windows map[WindowKey]*BreachWindow
}

// NewBreachState returns an empty breach state.
func NewBreachState() *BreachState {
	return &BreachState{windows: make(map[WindowKey]*BreachWindow)}
}

// Track updates the window for key given the current metric value. Above
// threshold it opens or extends the window and returns it; at or below
// threshold it deletes the window unconditionally and returns nil. A window
// that cleared and breaches again later starts fresh with IncidentCreated
// false.
func (s *BreachState) Track(key WindowKey, value, threshold float64, now time.Time) *BreachWindow {
	if value <= threshold {
		delete(s.windows, key)
		return nil
	}
	w, ok := s.windows[key]
	if !ok {
		w = &BreachWindow{StartTime: now}
		s.windows[key] = w
		return w
	}
	w.Duration = now.Sub(w.StartTime)
	return w
}

// Window returns the current window for key, or nil.
func (s *BreachState) Window(key WindowKey) *BreachWindow {
	return s.windows[key]
}

// Active returns the number of open breach windows.
func (s *BreachState) Active() int {
	return len(s.windows)
}
