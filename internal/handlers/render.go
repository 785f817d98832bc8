package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/renderowl/backend/internal/middleware"
	"github.com/renderowl/backend/internal/render"
)

type SubmitRenderRequest struct {
	ProjectID         string          `json:"project_id"`
	Input             json.RawMessage `json:"input"`
	Engine            string          `json:"engine"`
	SceneCount        int             `json:"scene_count"`
	QualityMultiplier float64         `json:"quality_multiplier"`
	Priority          string          `json:"priority,omitempty"`
	WebhookURL        string          `json:"webhook_url,omitempty"`
}

type SubmitRenderResponse struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	CreditsDeducted int    `json:"credits_deducted"`
	Balance         int    `json:"balance"`
}

type RenderHandler struct {
	svc *render.Service
	log *slog.Logger
}

func NewRenderHandler(svc *render.Service, log *slog.Logger) *RenderHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RenderHandler{svc: svc, log: log}
}

func (h *RenderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req SubmitRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		http.Error(w, "invalid project_id", http.StatusBadRequest)
		return
	}

	result, err := h.svc.SubmitRenderJob(r.Context(), render.SubmitRequest{
		ProjectID:         projectID,
		OrgID:             ident.OrgID,
		UserID:            ident.UserID,
		Input:             req.Input,
		Engine:            req.Engine,
		SceneCount:        req.SceneCount,
		QualityMultiplier: req.QualityMultiplier,
		Priority:          req.Priority,
		WebhookURL:        req.WebhookURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, render.ErrInsufficientCredits):
			writeError(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this render")
		case errors.Is(err, render.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			h.log.Error("submit render failed", "error", err)
			writeError(w, http.StatusInternalServerError, "credit_operation_error", "submission failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, SubmitRenderResponse{
		JobID:           result.JobID,
		Status:          result.Status,
		CreditsDeducted: result.CreditsDeducted,
		Balance:         result.NewBalance,
	})
}

func (h *RenderHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	jobID = strings.TrimSuffix(jobID, "/")
	if jobID == "" {
		http.Error(w, "job id required", http.StatusBadRequest)
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, render.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.log.Error("get job failed", "job_id", jobID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *RenderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	jobID = strings.TrimSuffix(jobID, "/cancel")
	if jobID == "" {
		http.Error(w, "job id required", http.StatusBadRequest)
		return
	}
	result, err := h.svc.CancelRenderJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, render.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.log.Error("cancel job failed", "job_id", jobID, "error", err)
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *RenderHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		http.Error(w, "project_id query parameter required", http.StatusBadRequest)
		return
	}
	jobs, err := h.svc.ListByProject(r.Context(), projectID, 50)
	if err != nil {
		h.log.Error("list jobs failed", "project_id", projectID, "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// errorBody is the structured error payload: {code, message}. Only the
// enumerated codes leak; ledger internals never do.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
