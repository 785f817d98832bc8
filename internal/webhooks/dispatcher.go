package webhooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/renderowl/backend/internal/models"
)

// DeliveryArgs is the queued payload for one delivery attempt to one
// endpoint. Kind routes it to the webhook delivery worker.
type DeliveryArgs struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	ProjectID uuid.UUID       `json:"project_id"`
	URL       string          `json:"url"`
	Secret    string          `json:"secret,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func (DeliveryArgs) Kind() string { return "webhook_delivery" }

// EnqueueDeliveryFunc enqueues a delivery on the webhook queue. Provided
// by main as a closure over river.Client.Insert.
type EnqueueDeliveryFunc func(ctx context.Context, args DeliveryArgs) error

// EndpointSource resolves which endpoints receive an event.
type EndpointSource interface {
	ListActiveFor(ctx context.Context, projectID uuid.UUID, eventType string) ([]*models.WebhookEndpoint, error)
}

// Dispatcher fans events out to registered endpoints. It only enqueues:
// delivery, retries, and exhaustion belong to the webhook queue so an
// endpoint outage never blocks or rolls back the render pipeline.
type Dispatcher struct {
	endpoints EndpointSource
	enqueue   EnqueueDeliveryFunc
	log       *slog.Logger
}

func NewDispatcher(endpoints EndpointSource, enqueue EnqueueDeliveryFunc, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{endpoints: endpoints, enqueue: enqueue, log: log}
}

// NewEventID mints a prefixed event id.
func NewEventID() string {
	return "evt_" + uuid.NewString()
}

// Publish enqueues one delivery per subscribed endpoint. Failures are
// logged and dropped; the caller's pipeline must not observe them.
func (d *Dispatcher) Publish(ctx context.Context, projectID uuid.UUID, eventType string, payload any) {
	env := envelope{
		EventID:   NewEventID(),
		EventType: eventType,
		CreatedAt: time.Now().UTC(),
		Data:      payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		d.log.Error("webhook payload marshal failed", "event_type", eventType, "error", err)
		return
	}

	endpoints, err := d.endpoints.ListActiveFor(ctx, projectID, eventType)
	if err != nil {
		d.log.Error("webhook endpoint lookup failed", "project_id", projectID, "error", err)
		return
	}
	for _, ep := range endpoints {
		args := DeliveryArgs{
			EventID:   env.EventID,
			EventType: eventType,
			ProjectID: projectID,
			URL:       ep.URL,
			Secret:    ep.Secret,
			Payload:   body,
		}
		if err := d.enqueue(ctx, args); err != nil {
			d.log.Error("webhook delivery enqueue failed",
				"event_id", env.EventID, "url", ep.URL, "error", err)
		}
	}
}

// PublishDirect enqueues one delivery to an explicit URL, skipping the
// endpoint registry. Used for a job's own webhook_url; deliveries go out
// unsigned because there is no registered secret.
func (d *Dispatcher) PublishDirect(ctx context.Context, url string, projectID uuid.UUID, eventType string, payload any) {
	env := envelope{
		EventID:   NewEventID(),
		EventType: eventType,
		CreatedAt: time.Now().UTC(),
		Data:      payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		d.log.Error("webhook payload marshal failed", "event_type", eventType, "error", err)
		return
	}
	args := DeliveryArgs{
		EventID:   env.EventID,
		EventType: eventType,
		ProjectID: projectID,
		URL:       url,
		Payload:   body,
	}
	if err := d.enqueue(ctx, args); err != nil {
		d.log.Error("webhook delivery enqueue failed", "event_id", env.EventID, "url", url, "error", err)
	}
}

type envelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}
