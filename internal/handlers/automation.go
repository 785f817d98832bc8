package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/renderowl/backend/internal/automation"
	"github.com/renderowl/backend/internal/middleware"
	"github.com/renderowl/backend/internal/models"
)

type CreateAutomationRequest struct {
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Trigger   models.Trigger `json:"trigger"`
}

type AutomationHandler struct {
	repo  *automation.Repository
	sched *automation.Scheduler
	log   *slog.Logger
}

func NewAutomationHandler(repo *automation.Repository, sched *automation.Scheduler, log *slog.Logger) *AutomationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AutomationHandler{repo: repo, sched: sched, log: log}
}

func (h *AutomationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req CreateAutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		http.Error(w, "invalid project_id", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	switch req.Trigger.Type {
	case models.TriggerManual, models.TriggerWebhook, models.TriggerSchedule:
	default:
		http.Error(w, "invalid trigger type", http.StatusBadRequest)
		return
	}

	auto := &models.Automation{
		ID:        uuid.New(),
		ProjectID: projectID,
		OrgID:     ident.OrgID,
		UserID:    ident.UserID,
		Name:      req.Name,
		Trigger:   req.Trigger,
		Enabled:   true,
	}
	if err := h.repo.Create(r.Context(), auto); err != nil {
		h.log.Error("create automation failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}

	// Schedule-triggered automations go live immediately.
	if auto.Trigger.Type == models.TriggerSchedule {
		if _, err := h.sched.ScheduleAutomation(auto, ident.UserID); err != nil {
			if errors.Is(err, automation.ErrBadCronExpr) {
				http.Error(w, "invalid cron expression", http.StatusBadRequest)
				return
			}
			h.log.Error("schedule automation failed", "automation_id", auto.ID, "error", err)
			http.Error(w, "scheduling failed", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusCreated, auto)
}

func (h *AutomationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	auto, ok := h.load(w, r, "/schedule")
	if !ok {
		return
	}
	result, err := h.sched.ScheduleAutomation(auto, ident.UserID)
	if err != nil {
		switch {
		case errors.Is(err, automation.ErrInvalidTriggerType):
			http.Error(w, "automation trigger is not schedule", http.StatusBadRequest)
		case errors.Is(err, automation.ErrBadCronExpr):
			http.Error(w, "invalid cron expression", http.StatusBadRequest)
		default:
			h.log.Error("schedule failed", "automation_id", auto.ID, "error", err)
			http.Error(w, "scheduling failed", http.StatusInternalServerError)
		}
		return
	}
	// Keep the stored flag in sync with the live registration so boot
	// rehydration reconstructs exactly the schedules that were active.
	if err := h.repo.SetEnabled(r.Context(), auto.ID, true); err != nil {
		h.log.Error("enable flag update failed", "automation_id", auto.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AutomationHandler) Unschedule(w http.ResponseWriter, r *http.Request) {
	auto, ok := h.load(w, r, "/schedule")
	if !ok {
		return
	}
	h.sched.UnscheduleAutomation(auto.ID)
	if err := h.repo.SetEnabled(r.Context(), auto.ID, false); err != nil {
		h.log.Error("disable flag update failed", "automation_id", auto.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AutomationHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	auto, ok := h.load(w, r, "/trigger")
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		data = nil
	}
	if err := h.sched.TriggerNow(r.Context(), auto, ident.UserID, models.TriggerManual, data); err != nil {
		h.log.Error("trigger automation failed", "automation_id", auto.ID, "error", err)
		http.Error(w, "trigger failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *AutomationHandler) Runs(w http.ResponseWriter, r *http.Request) {
	auto, ok := h.load(w, r, "/runs")
	if !ok {
		return
	}
	runs, err := h.repo.ListRuns(r.Context(), auto.ID, 50)
	if err != nil {
		h.log.Error("list runs failed", "automation_id", auto.ID, "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// load resolves the {id} path segment into an automation row, writing the
// error response itself when it cannot.
func (h *AutomationHandler) load(w http.ResponseWriter, r *http.Request, suffix string) (*models.Automation, bool) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/automations/")
	raw = strings.TrimSuffix(raw, suffix)
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid automation id", http.StatusBadRequest)
		return nil, false
	}
	auto, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrAutomationNotFound) {
			http.Error(w, "automation not found", http.StatusNotFound)
			return nil, false
		}
		h.log.Error("load automation failed", "automation_id", id, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return nil, false
	}
	return auto, true
}
