package models

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event type enums emitted by the render pipeline.
const (
	EventJobCompleted       = "job.completed"
	EventJobFailedPermanent = "job.failed.permanent"
	EventJobRefunded        = "job.refunded"
	EventAutomationRun      = "automation.run"
)

// KnownWebhookEvent reports whether t is an event type the pipeline emits.
func KnownWebhookEvent(t string) bool {
	switch t {
	case EventJobCompleted, EventJobFailedPermanent, EventJobRefunded, EventAutomationRun:
		return true
	}
	return false
}

// WebhookEndpoint is a registered destination for event notifications.
// The secret signs delivery payloads so receivers can authenticate them.
type WebhookEndpoint struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
