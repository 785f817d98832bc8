package workers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/riverqueue/river"

	"github.com/renderowl/backend/internal/webhooks"
)

// WebhookStats counts delivery outcomes.
type WebhookStats interface {
	WebhookDelivered()
	WebhookExhausted()
}

// WebhookWorker delivers signed event notifications. Exhausted
// deliveries are logged and counted only; webhook failures are invisible
// to the billing path.
type WebhookWorker struct {
	river.WorkerDefaults[webhooks.DeliveryArgs]
	httpClient *http.Client
	stats      WebhookStats
	log        *slog.Logger
}

func NewWebhookWorker(stats WebhookStats, log *slog.Logger) *WebhookWorker {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookWorker{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		stats:      stats,
		log:        log,
	}
}

func (w *WebhookWorker) Work(ctx context.Context, job *river.Job[webhooks.DeliveryArgs]) error {
	args := job.Args

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, args.URL, bytes.NewReader(args.Payload))
	if err != nil {
		return w.fail(job, fmt.Errorf("build request: %w", err))
	}
	now := time.Now()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhooks.HeaderEventID, args.EventID)
	req.Header.Set(webhooks.HeaderTimestamp, fmt.Sprintf("%d", now.Unix()))
	if args.Secret != "" {
		req.Header.Set(webhooks.HeaderSignature, webhooks.Sign(args.Secret, now, args.Payload))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return w.fail(job, fmt.Errorf("deliver %s: %w", args.EventID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return w.fail(job, fmt.Errorf("deliver %s: endpoint returned %d", args.EventID, resp.StatusCode))
	}

	if w.stats != nil {
		w.stats.WebhookDelivered()
	}
	w.log.Info("webhook delivered", "event_id", args.EventID, "url", args.URL, "attempt", job.Attempt)
	return nil
}

func (w *WebhookWorker) fail(job *river.Job[webhooks.DeliveryArgs], err error) error {
	if job.Attempt >= job.MaxAttempts {
		if w.stats != nil {
			w.stats.WebhookExhausted()
		}
		w.log.Error("webhook delivery exhausted",
			"event_id", job.Args.EventID, "url", job.Args.URL, "attempts", job.Attempt, "error", err)
	} else {
		w.log.Warn("webhook delivery failed, queue will retry",
			"event_id", job.Args.EventID, "attempt", job.Attempt, "error", err)
	}
	return err
}
