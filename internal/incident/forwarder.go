package incident

import (
	"context"

	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
	"github.com/invisible-tech/autopilot-health-monitor/pkg/alertgw"
)

// GatewayForwarder adapts the alert gateway client to the Forwarder contract.
type GatewayForwarder struct {
	Client *alertgw.Client
}

// ForwardIncident maps the incident to the gateway wire shape and sends it.
func (g *GatewayForwarder) ForwardIncident(ctx context.Context, inc *types.Incident) error {
	out := &alertgw.Incident{
		ID:          inc.ID,
		Timestamp:   inc.CreatedAt,
		Type:        string(inc.Type),
		Severity:    string(inc.Severity),
		Title:       inc.Title,
		Description: inc.Description,
		Metadata: map[string]interface{}{
			"source": "autopilot-health-monitor",
		},
	}
	if inc.Metrics != nil {
		out.Metadata["metrics_snapshot"] = inc.Metrics
	}
	if inc.Privacy != nil {
		out.Metadata["privacy_details"] = inc.Privacy
	}
	return g.Client.SendIncident(ctx, out)
}
