package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/renderowl/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockEndpoints struct {
	endpoints []*models.WebhookEndpoint
}

func (m *mockEndpoints) ListActiveFor(_ context.Context, projectID uuid.UUID, eventType string) ([]*models.WebhookEndpoint, error) {
	var out []*models.WebhookEndpoint
	for _, e := range m.endpoints {
		if e.ProjectID != projectID || !e.Active {
			continue
		}
		if len(e.Events) == 0 {
			out = append(out, e)
			continue
		}
		for _, ev := range e.Events {
			if ev == eventType {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

type captureQueue struct {
	mu   sync.Mutex
	sent []DeliveryArgs
	err  error
}

func (q *captureQueue) enqueue(_ context.Context, args DeliveryArgs) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, args)
	return nil
}

func (q *captureQueue) all() []DeliveryArgs {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeliveryArgs, len(q.sent))
	copy(out, q.sent)
	return out
}

func endpoint(projectID uuid.UUID, url string, events ...string) *models.WebhookEndpoint {
	return &models.WebhookEndpoint{
		ID:        uuid.New(),
		ProjectID: projectID,
		URL:       url,
		Secret:    "whsec_" + url,
		Events:    events,
		Active:    true,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPublish_FansOutToSubscribedEndpoints(t *testing.T) {
	projectID := uuid.New()
	source := &mockEndpoints{endpoints: []*models.WebhookEndpoint{
		endpoint(projectID, "https://a.example.com"),                              // all events
		endpoint(projectID, "https://b.example.com", models.EventJobCompleted),    // subscribed
		endpoint(projectID, "https://c.example.com", models.EventJobRefunded),     // other event
		endpoint(uuid.New(), "https://d.example.com"),                             // other project
	}}
	queue := &captureQueue{}
	d := NewDispatcher(source, queue.enqueue, nil)

	d.Publish(context.Background(), projectID, models.EventJobCompleted, map[string]any{"job_id": "job_1"})

	sent := queue.all()
	if len(sent) != 2 {
		t.Fatalf("deliveries: got %d, want 2", len(sent))
	}
	// One envelope, one event id, fanned out to each endpoint with its
	// own secret.
	if sent[0].EventID != sent[1].EventID {
		t.Error("fan-out should share one event id")
	}
	for _, s := range sent {
		if s.EventType != models.EventJobCompleted {
			t.Errorf("event type: got %q", s.EventType)
		}
		if s.Secret == "" {
			t.Error("registry deliveries must carry the endpoint secret")
		}
		var env struct {
			EventID   string          `json:"event_id"`
			EventType string          `json:"event_type"`
			Data      json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(s.Payload, &env); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if env.EventID != s.EventID || env.EventType != s.EventType {
			t.Error("envelope should match delivery args")
		}
	}
}

func TestPublish_EnqueueFailureIsDropped(t *testing.T) {
	projectID := uuid.New()
	source := &mockEndpoints{endpoints: []*models.WebhookEndpoint{
		endpoint(projectID, "https://a.example.com"),
	}}
	queue := &captureQueue{err: fmt.Errorf("queue down")}
	d := NewDispatcher(source, queue.enqueue, nil)

	// Must not panic or propagate; the render pipeline never observes
	// webhook failures.
	d.Publish(context.Background(), projectID, models.EventJobCompleted, nil)
}

func TestPublishDirect_Unsigned(t *testing.T) {
	queue := &captureQueue{}
	d := NewDispatcher(&mockEndpoints{}, queue.enqueue, nil)
	projectID := uuid.New()

	d.PublishDirect(context.Background(), "https://override.example.com", projectID, models.EventJobFailedPermanent, map[string]any{"job_id": "job_9"})

	sent := queue.all()
	if len(sent) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(sent))
	}
	if sent[0].URL != "https://override.example.com" {
		t.Errorf("url: got %q", sent[0].URL)
	}
	if sent[0].Secret != "" {
		t.Error("direct deliveries have no registered secret")
	}
}
