// Package config provides configuration loading from environment and
// defaults for the health monitor.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the value of key from the environment, or defaultValue if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvDuration returns the duration for key, or defaultValue if unset/invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvInt returns the integer for key, or defaultValue if unset/invalid.
func GetEnvInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvFloat returns the float for key, or defaultValue if unset/invalid.
func GetEnvFloat(key string, defaultValue float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// Thresholds are the SLA breach parameters; they may be swapped at runtime
// by the thresholds-file watcher.
type Thresholds struct {
	LatencyMS        float64
	ErrorRatePercent float64
	BreachDuration   time.Duration
}

// DefaultThresholds returns the stock SLA thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyMS:        1000,
		ErrorRatePercent: 5,
		BreachDuration:   60 * time.Second,
	}
}

// MonitorConfig holds configuration for the health-monitor service.
type MonitorConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// Tick cadence.
	TickInterval time.Duration
	StartupDelay time.Duration

	// SLA thresholds and debounce.
	Thresholds Thresholds

	// Scope identifier recorded on SLA incidents, e.g. "global" or an
	// endpoint name when a dedicated monitor watches one endpoint.
	Scope string

	// Window over which request/error counts are summed per tick.
	MetricsWindow time.Duration

	// Flag scanning and privacy dedup.
	FlagScanLimit int
	FlagLookback  time.Duration
	DedupLookback time.Duration

	// Roles whose members receive incident notifications.
	NotifyRoles []string

	// Optional YAML thresholds file, hot-reloaded when it changes.
	ThresholdsFile string

	// Postgres DSN for the record/incident/user stores.
	DatabaseURL string

	// Optional external alert gateway for high/critical incidents.
	AlertGatewayEnabled  bool
	AlertGatewayEndpoint string
	AlertGatewayAPIKey   string
	AlertGatewayTimeout  time.Duration
}

// DefaultMonitorConfig returns monitor config from environment with defaults.
func DefaultMonitorConfig() MonitorConfig {
	ep := GetEnv("ALERT_GATEWAY_ENDPOINT", "")
	key := GetEnv("ALERT_GATEWAY_API_KEY", "")
	roles := strings.Split(GetEnv("NOTIFY_ROLES", "operator,compliance"), ",")
	for i, r := range roles {
		roles[i] = strings.TrimSpace(r)
	}
	return MonitorConfig{
		HTTPAddr:        GetEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		TickInterval:    GetEnvDuration("TICK_INTERVAL", 5*time.Minute),
		StartupDelay:    GetEnvDuration("STARTUP_DELAY", 30*time.Second),
		Thresholds: Thresholds{
			LatencyMS:        GetEnvFloat("LATENCY_MS", 1000),
			ErrorRatePercent: GetEnvFloat("ERROR_RATE_PERCENT", 5),
			BreachDuration:   time.Duration(GetEnvInt("BREACH_DURATION_SECONDS", 60)) * time.Second,
		},
		Scope:                GetEnv("MONITOR_SCOPE", "global"),
		MetricsWindow:        GetEnvDuration("METRICS_WINDOW", 5*time.Minute),
		FlagScanLimit:        GetEnvInt("FLAG_SCAN_LIMIT", 5),
		FlagLookback:         GetEnvDuration("FLAG_LOOKBACK", 24*time.Hour),
		DedupLookback:        GetEnvDuration("DEDUP_LOOKBACK", 24*time.Hour),
		NotifyRoles:          roles,
		ThresholdsFile:       GetEnv("THRESHOLDS_FILE", ""),
		DatabaseURL:          GetEnv("DATABASE_URL", ""),
		AlertGatewayEnabled:  ep != "" && key != "",
		AlertGatewayEndpoint: ep,
		AlertGatewayAPIKey:   key,
		AlertGatewayTimeout:  GetEnvDuration("ALERT_GATEWAY_TIMEOUT", 30*time.Second),
	}
}
