package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/renderowl/backend/internal/deadletter"
	"github.com/renderowl/backend/internal/ledger"
	"github.com/renderowl/backend/internal/middleware"
	"github.com/renderowl/backend/internal/queue"
	"github.com/renderowl/backend/internal/render"
	"github.com/renderowl/backend/internal/workers"
)

// EnqueueUploadFunc enqueues a YouTube upload task on its queue.
type EnqueueUploadFunc func(ctx context.Context, args workers.YouTubeUploadArgs) error

// ReplayRenderFunc re-enqueues a permanently failed render job.
type ReplayRenderFunc func(ctx context.Context, jobID string) error

type OpsHandler struct {
	stats         *queue.StatsReader
	dead          *deadletter.Repository
	ledger        ledger.Service
	enqueueUpload EnqueueUploadFunc
	replayRender  ReplayRenderFunc
	log           *slog.Logger
}

func NewOpsHandler(stats *queue.StatsReader, dead *deadletter.Repository, ledgerSvc ledger.Service, enqueueUpload EnqueueUploadFunc, replayRender ReplayRenderFunc, log *slog.Logger) *OpsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OpsHandler{stats: stats, dead: dead, ledger: ledgerSvc, enqueueUpload: enqueueUpload, replayRender: replayRender, log: log}
}

func (h *OpsHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Read(r.Context())
	if err != nil {
		h.log.Error("read queue stats failed", "error", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *OpsHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.dead.List(r.Context(), limit)
	if err != nil {
		h.log.Error("list dead letters failed", "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *OpsHandler) ResolveRefund(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/dead-letters/")
	raw = strings.TrimSuffix(raw, "/resolve-refund")
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid entry id", http.StatusBadRequest)
		return
	}
	if err := h.dead.ResolveRefund(r.Context(), id); err != nil {
		if errors.Is(err, deadletter.ErrEntryNotFound) {
			http.Error(w, "no pending refund for entry", http.StatusNotFound)
			return
		}
		h.log.Error("resolve refund failed", "entry_id", id, "error", err)
		http.Error(w, "resolve failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Replay re-enqueues a dead-lettered render job and stamps the entry.
// Entries from other queues have their own retry paths and are not
// replayable here.
func (h *OpsHandler) Replay(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/dead-letters/")
	raw = strings.TrimSuffix(raw, "/replay")
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid entry id", http.StatusBadRequest)
		return
	}
	entry, err := h.dead.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, deadletter.ErrEntryNotFound) {
			http.Error(w, "entry not found", http.StatusNotFound)
			return
		}
		h.log.Error("load dead letter failed", "entry_id", id, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if entry.ReplayedAt != nil {
		http.Error(w, "entry already replayed", http.StatusConflict)
		return
	}
	if entry.QueueName != queue.QueueRender {
		http.Error(w, "only render jobs can be replayed", http.StatusUnprocessableEntity)
		return
	}
	if err := h.replayRender(r.Context(), entry.JobID); err != nil {
		if errors.Is(err, render.ErrNotReplayable) {
			http.Error(w, "job is not in a replayable state", http.StatusConflict)
			return
		}
		h.log.Error("replay failed", "entry_id", id, "job_id", entry.JobID, "error", err)
		http.Error(w, "replay failed", http.StatusInternalServerError)
		return
	}
	if err := h.dead.MarkReplayed(r.Context(), id); err != nil {
		h.log.Warn("replay succeeded but entry stamp failed", "entry_id", id, "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": entry.JobID, "status": "queued"})
}

func (h *OpsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), ident.UserID, ident.OrgID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			http.Error(w, "no credit balance for user", http.StatusNotFound)
			return
		}
		h.log.Error("get balance failed", "user_id", ident.UserID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *OpsHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.ledger.ListTransactions(r.Context(), ident.UserID, ident.OrgID, limit)
	if err != nil {
		h.log.Error("list transactions failed", "user_id", ident.UserID, "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

type UploadRequest struct {
	ProjectID   string   `json:"project_id"`
	VideoURL    string   `json:"video_url"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Privacy     string   `json:"privacy,omitempty"`
}

func (h *OpsHandler) QueueUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		http.Error(w, "invalid project_id", http.StatusBadRequest)
		return
	}
	if req.VideoURL == "" || req.Title == "" {
		http.Error(w, "video_url and title required", http.StatusBadRequest)
		return
	}
	switch req.Privacy {
	case "", "private", "unlisted", "public":
	default:
		http.Error(w, "invalid privacy", http.StatusBadRequest)
		return
	}

	args := workers.YouTubeUploadArgs{
		TaskID:      workers.NewYouTubeTaskID(),
		ProjectID:   projectID,
		VideoURL:    req.VideoURL,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Privacy:     req.Privacy,
	}
	if err := h.enqueueUpload(r.Context(), args); err != nil {
		h.log.Error("enqueue upload failed", "task_id", args.TaskID, "error", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": args.TaskID, "status": "queued"})
}
