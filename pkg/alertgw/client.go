// Package alertgw is the client for the external alert gateway that
// receives high and critical incidents raised by the monitor.
package alertgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Client handles communication with the alert gateway API.
type Client struct {
	apiEndpoint string
	apiKey      string
	httpClient  *http.Client
	log         *logrus.Logger
}

// Config for the alert gateway client.
type Config struct {
	APIEndpoint string
	APIKey      string
	Timeout     time.Duration
}

// NewClient creates a new alert gateway client.
func NewClient(cfg Config, log *logrus.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		apiEndpoint: cfg.APIEndpoint,
		apiKey:      cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// Incident is the wire shape the gateway expects.
type Incident struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"incident_type"`
	Severity    string                 `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SendIncident sends an incident to the gateway.
func (c *Client) SendIncident(ctx context.Context, inc *Incident) error {
	if c.apiEndpoint == "" || c.apiKey == "" {
		return fmt.Errorf("alert gateway client not configured")
	}

	url := fmt.Sprintf("%s/api/v1/incidents", c.apiEndpoint)
	return c.sendJSON(ctx, url, inc)
}

// sendJSON sends a JSON payload to the API.
func (c *Client) sendJSON(ctx context.Context, url string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("User-Agent", "autopilot-health-monitor/0.1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.log.WithFields(logrus.Fields{
		"url":    url,
		"status": resp.StatusCode,
	}).Debug("Successfully sent to alert gateway")

	return nil
}

// HealthCheck checks if the alert gateway is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiEndpoint == "" || c.apiKey == "" {
		return fmt.Errorf("alert gateway client not configured")
	}

	url := fmt.Sprintf("%s/health", c.apiEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}
