package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	natsclient "github.com/pesio-ai/be-hr-workflows/internal/nats"
)

// NotificationPublisher publishes HR workflow events to NATS JetStream for
// consumption by the be-plt-notifications service.
//
// Subject convention: notifications.hr.<event_type>
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt workflow
// operations. A nil NATS client disables publishing entirely.
type NotificationPublisher struct {
	nats *natsclient.Client
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats *natsclient.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// Notify publishes a workflow event. Subject: notifications.hr.<eventType>.
func (p *NotificationPublisher) Notify(ctx context.Context, recipients []string, eventType, resourceType, resourceID string, payload map[string]any) {
	if p == nil || p.nats == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		Recipients:   recipients,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IsActionable: true,
		Severity:     "info",
		Category:     "hr_workflow",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.hr.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", resourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", resourceID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
