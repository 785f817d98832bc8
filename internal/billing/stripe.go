// Package billing credits the ledger from Stripe payment events. It is
// a supplement to the render core: purchases and subscription grants
// flow in here, deductions and refunds stay in the render pipeline.
package billing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/renderowl/backend/internal/models"
)

// Metadata keys expected on Stripe objects created by the checkout flow.
const (
	metaUserID  = "renderowl_user_id"
	metaOrgID   = "renderowl_org_id"
	metaCredits = "renderowl_credits"
)

// Granter is the ledger subset billing needs.
type Granter interface {
	Grant(ctx context.Context, userID, orgID uuid.UUID, amount int, txType, description string) (*models.CreditTransaction, error)
}

// WebhookHandler verifies and applies Stripe webhook events.
type WebhookHandler struct {
	granter       Granter
	webhookSecret string
	log           *slog.Logger
}

func NewWebhookHandler(granter Granter, webhookSecret string, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{granter: granter, webhookSecret: webhookSecret, log: log}
}

// ServeHTTP handles POST /webhooks/stripe. Unhandled event types are
// acknowledged so Stripe stops retrying them.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.log.Warn("stripe webhook signature verification failed", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(r.Context(), &event)
	case "invoice.paid":
		err = h.handleInvoicePaid(r.Context(), &event)
	default:
		h.log.Debug("ignoring stripe event", "type", event.Type)
	}
	if err != nil {
		h.log.Error("stripe event handling failed", "type", event.Type, "event_id", event.ID, "error", err)
		http.Error(w, "event handling failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := sess.UnmarshalJSON(event.Data.Raw); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}
	userID, orgID, credits, err := granteeFromMetadata(sess.Metadata)
	if err != nil {
		return err
	}
	ct, err := h.granter.Grant(ctx, userID, orgID, credits, models.CreditTxPurchase,
		fmt.Sprintf("credit purchase via checkout %s", sess.ID))
	if err != nil {
		return err
	}
	h.log.Info("credits purchased",
		"user_id", userID, "credits", credits, "tx_id", ct.ID, "checkout_id", sess.ID)
	return nil
}

func (h *WebhookHandler) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := inv.UnmarshalJSON(event.Data.Raw); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	userID, orgID, credits, err := granteeFromMetadata(inv.Metadata)
	if err != nil {
		return err
	}
	ct, err := h.granter.Grant(ctx, userID, orgID, credits, models.CreditTxSubscriptionGrant,
		fmt.Sprintf("subscription grant via invoice %s", inv.ID))
	if err != nil {
		return err
	}
	h.log.Info("subscription credits granted",
		"user_id", userID, "credits", credits, "tx_id", ct.ID, "invoice_id", inv.ID)
	return nil
}

func granteeFromMetadata(meta map[string]string) (userID, orgID uuid.UUID, credits int, err error) {
	userID, err = uuid.Parse(meta[metaUserID])
	if err != nil {
		return uuid.Nil, uuid.Nil, 0, fmt.Errorf("missing or bad %s metadata", metaUserID)
	}
	orgID, err = uuid.Parse(meta[metaOrgID])
	if err != nil {
		return uuid.Nil, uuid.Nil, 0, fmt.Errorf("missing or bad %s metadata", metaOrgID)
	}
	credits, err = strconv.Atoi(meta[metaCredits])
	if err != nil || credits <= 0 {
		return uuid.Nil, uuid.Nil, 0, fmt.Errorf("missing or bad %s metadata", metaCredits)
	}
	return userID, orgID, credits, nil
}
