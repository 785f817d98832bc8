package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/renderowl/backend/internal/models"
	"github.com/renderowl/backend/internal/webhooks"
)

type CreateEndpointRequest struct {
	ProjectID string   `json:"project_id"`
	URL       string   `json:"url"`
	Events    []string `json:"events,omitempty"`
}

// CreateEndpointResponse carries the signing secret exactly once, at
// creation time. It is never returned by list endpoints.
type CreateEndpointResponse struct {
	Endpoint *models.WebhookEndpoint `json:"endpoint"`
	Secret   string                  `json:"secret"`
}

type WebhookEndpointHandler struct {
	repo *webhooks.Repository
	log  *slog.Logger
}

func NewWebhookEndpointHandler(repo *webhooks.Repository, log *slog.Logger) *WebhookEndpointHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookEndpointHandler{repo: repo, log: log}
}

func (h *WebhookEndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		http.Error(w, "invalid project_id", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}
	for _, ev := range req.Events {
		if !models.KnownWebhookEvent(ev) {
			http.Error(w, "unknown event type: "+ev, http.StatusBadRequest)
			return
		}
	}

	endpoint := &models.WebhookEndpoint{
		ID:        uuid.New(),
		ProjectID: projectID,
		URL:       req.URL,
		Secret:    newEndpointSecret(),
		Events:    req.Events,
		Active:    true,
	}
	if err := h.repo.Create(r.Context(), endpoint); err != nil {
		h.log.Error("create webhook endpoint failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, CreateEndpointResponse{Endpoint: endpoint, Secret: endpoint.Secret})
}

func (h *WebhookEndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		http.Error(w, "project_id query parameter required", http.StatusBadRequest)
		return
	}
	endpoints, err := h.repo.ListByProject(r.Context(), projectID)
	if err != nil {
		h.log.Error("list webhook endpoints failed", "project_id", projectID, "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (h *WebhookEndpointHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/webhook-endpoints/")
	raw = strings.TrimSuffix(raw, "/")
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid endpoint id", http.StatusBadRequest)
		return
	}
	if err := h.repo.Deactivate(r.Context(), id); err != nil {
		h.log.Error("deactivate webhook endpoint failed", "endpoint_id", id, "error", err)
		http.Error(w, "deactivate failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newEndpointSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return "whsec_" + hex.EncodeToString(buf)
}
