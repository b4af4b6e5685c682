// Package notify fans a new incident out to its recipient set and records
// each delivery attempt on the incident.
package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autopilot-health-monitor/internal/types"
)

// UserDirectory resolves the recipient set; it is queried fresh per dispatch.
type UserDirectory interface {
	FindUsersByRole(ctx context.Context, role string) ([]types.User, error)
}

// Sink delivers one notification payload to one recipient.
type Sink interface {
	Send(ctx context.Context, n types.Notification) error
}

// NotificationLog appends delivery attempts to a persisted incident.
type NotificationLog interface {
	AppendNotifications(ctx context.Context, incidentID string, entries []types.NotificationEntry) error
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Recipient string
	Success   bool
	Err       error
}

// Dispatcher sends incident notifications to all users holding any of the
// configured roles.
type Dispatcher struct {
	directory UserDirectory
	sink      Sink
	log       *logrus.Logger
	roles     []string
}

// NewDispatcher creates a Dispatcher notifying members of the given roles.
func NewDispatcher(directory UserDirectory, sink Sink, roles []string, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{directory: directory, sink: sink, log: log, roles: roles}
}

// Dispatch notifies every recipient about the incident and appends one log
// entry per recipient via logStore. A failed send to one recipient never
// blocks the others; failures are carried in the results and on the incident
// record rather than returned as an error. An empty recipient set logs a
// warning and returns no results.
func (d *Dispatcher) Dispatch(ctx context.Context, inc *types.Incident, logStore NotificationLog) []Result {
	recipients := d.recipients(ctx)
	if len(recipients) == 0 {
		d.log.WithField("incident_id", inc.ID).Warn("No notification recipients found, incident will not be announced")
		return nil
	}

	payload := types.Notification{
		Type:     "incident_created",
		Title:    inc.Title,
		Message:  inc.Description,
		Priority: string(inc.Severity),
		Metadata: map[string]string{
			"incident_id":   inc.ID,
			"incident_type": string(inc.Type),
			"severity":      string(inc.Severity),
		},
	}

	results := make([]Result, 0, len(recipients))
	entries := make([]types.NotificationEntry, 0, len(recipients))
	for _, user := range recipients {
		n := payload
		n.UserID = user.ID
		err := d.sink.Send(ctx, n)
		res := Result{Recipient: user.ID, Success: err == nil, Err: err}
		results = append(results, res)

		entry := types.NotificationEntry{
			Recipient: user.ID,
			SentAt:    time.Now().UTC(),
			Type:      payload.Type,
			Delivered: err == nil,
		}
		if err != nil {
			entry.Error = err.Error()
			d.log.WithError(err).WithFields(logrus.Fields{
				"incident_id": inc.ID,
				"recipient":   user.ID,
			}).Error("Failed to notify recipient")
		}
		entries = append(entries, entry)
	}

	inc.Notifications = append(inc.Notifications, entries...)
	if err := logStore.AppendNotifications(ctx, inc.ID, entries); err != nil {
		d.log.WithError(err).WithField("incident_id", inc.ID).Error("Failed to persist notification log")
	}

	delivered := 0
	for _, r := range results {
		if r.Success {
			delivered++
		}
	}
	d.log.WithFields(logrus.Fields{
		"incident_id": inc.ID,
		"recipients":  len(recipients),
		"delivered":   delivered,
	}).Info("Incident notifications dispatched")
	return results
}

// recipients resolves the union of users across the configured roles,
// de-duplicated by user ID. A directory error for one role degrades to the
// other roles rather than failing the dispatch.
func (d *Dispatcher) recipients(ctx context.Context) []types.User {
	seen := make(map[string]bool)
	var out []types.User
	for _, role := range d.roles {
		users, err := d.directory.FindUsersByRole(ctx, role)
		if err != nil {
			d.log.WithError(err).WithField("role", role).Error("Failed to resolve recipients for role")
			continue
		}
		for _, u := range users {
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			out = append(out, u)
		}
	}
	return out
}
