package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/renderowl/backend/internal/ledger"
	"github.com/renderowl/backend/internal/models"
	"github.com/renderowl/backend/internal/queue"
)

// Admission errors. All fail fast with no side effect: a rejected
// submission leaves no job and no transaction behind.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInsufficientCredits = ledger.ErrInsufficientCredits
	ErrCreditOperation     = errors.New("credit operation failed")
)

// ErrNotReplayable is returned when a replay targets a job that is not
// in the failed state.
var ErrNotReplayable = errors.New("job is not in a replayable state")

// SubmitRequest is a render submission.
type SubmitRequest struct {
	ProjectID         uuid.UUID
	OrgID             uuid.UUID
	UserID            uuid.UUID
	Input             json.RawMessage
	Engine            string
	SceneCount        int
	QualityMultiplier float64
	Priority          string // defaults to normal
	WebhookURL        string
}

// SubmitResult reports an admitted job.
type SubmitResult struct {
	JobID           string
	Status          string
	QueueHandle     int64
	CreditsDeducted int
	NewBalance      int
}

// CancelResult reports a cancellation outcome. A job already claimed by
// a worker yields {Success: false, Refunded: 0}, not an error.
type CancelResult struct {
	Success  bool `json:"success"`
	Refunded int  `json:"refunded"`
}

// Ledger is the credit ledger subset admission and compensation need.
type Ledger interface {
	DeductTx(ctx context.Context, tx pgx.Tx, userID, orgID uuid.UUID, amount int, jobID, jobType, description string) (*models.CreditTransaction, error)
	Refund(ctx context.Context, originalTxID uuid.UUID, reason, description string) (*models.CreditTransaction, error)
}

// Store is the render job repository subset the service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, j *models.RenderJob, riverJobID int64) error
	GetByID(ctx context.Context, jobID string) (*models.RenderJob, int64, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.RenderJob, error)
	ClaimProcessing(ctx context.Context, jobID string) (bool, error)
	MarkCompleted(ctx context.Context, jobID, outputURL string) error
	MarkFailed(ctx context.Context, jobID string, jobErr models.JobError) error
	CancelIfWaiting(ctx context.Context, jobID string) (bool, error)
	RequeueFailedTx(ctx context.Context, tx pgx.Tx, jobID string, riverJobID int64) (bool, error)
}

// DeadLetters archives permanently failed jobs for offline inspection
// and replay.
type DeadLetters interface {
	Insert(ctx context.Context, jobID, queueName, errCode, errMessage string, payload json.RawMessage, refundPending bool) error
}

// Events publishes pipeline notifications to registered webhook
// endpoints. Publishing is fire-and-enqueue; delivery retries are the
// webhook subsystem's problem, never the render pipeline's.
type Events interface {
	Publish(ctx context.Context, projectID uuid.UUID, eventType string, payload any)
	PublishDirect(ctx context.Context, url string, projectID uuid.UUID, eventType string, payload any)
}

// Stats counts pipeline outcomes for operator visibility.
type Stats interface {
	JobSubmitted()
	JobCompleted()
	JobFailedPermanent()
	JobRefunded()
	CompensationFailed()
}

// InsertRenderTxFunc enqueues a render job within the given transaction
// and returns the queue handle. Provided by main as a closure over
// river.Client.InsertTx.
type InsertRenderTxFunc func(ctx context.Context, tx pgx.Tx, jobID string, priority string) (int64, error)

// CancelQueuedFunc asks the queue backend to drop a not-yet-claimed job.
type CancelQueuedFunc func(ctx context.Context, riverJobID int64) error

// Service is the admission controller and job lifecycle manager for
// render jobs.
type Service struct {
	store        Store
	ledger       Ledger
	deadLetters  DeadLetters
	events       Events
	stats        Stats
	insertRender InsertRenderTxFunc
	cancelQueued CancelQueuedFunc
	validator    *InputValidator
	pricing      CostParams
	log          *slog.Logger
}

// Deps wires a render Service.
type Deps struct {
	Store        Store
	Ledger       Ledger
	DeadLetters  DeadLetters
	Events       Events
	Stats        Stats
	InsertRender InsertRenderTxFunc
	CancelQueued CancelQueuedFunc
	Validator    *InputValidator
	Pricing      CostParams
	Log          *slog.Logger
}

func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Pricing == (CostParams{}) {
		d.Pricing = DefaultCostParams
	}
	return &Service{
		store:        d.Store,
		ledger:       d.Ledger,
		deadLetters:  d.DeadLetters,
		events:       d.Events,
		stats:        d.Stats,
		insertRender: d.InsertRender,
		cancelQueued: d.CancelQueued,
		validator:    d.Validator,
		pricing:      d.Pricing,
		log:          d.Log,
	}
}

// NewJobID mints a prefixed render job id.
func NewJobID() string {
	return "job_" + uuid.NewString()
}

// SubmitRenderJob converts a submission into a durably queued job. The
// deduction and the enqueue share one transaction: either the credits
// come off and the job is queued, or neither happens. The deduction runs
// first, so no job is ever enqueued without funds.
func (s *Service) SubmitRenderJob(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	cost, err := s.pricing.Cost(req.SceneCount, req.QualityMultiplier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Job id is minted before any side effect so every record of this
	// submission shares it.
	jobID := NewJobID()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreditOperation, err)
	}
	defer tx.Rollback(ctx)

	desc := fmt.Sprintf("render %s: %d scene(s), quality %.2fx", jobID, req.SceneCount, req.QualityMultiplier)
	ct, err := s.ledger.DeductTx(ctx, tx, req.UserID, req.OrgID, cost, jobID, queue.QueueRender, desc)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			return nil, ErrInsufficientCredits
		}
		return nil, fmt.Errorf("%w: %v", ErrCreditOperation, err)
	}

	handle, err := s.insertRender(ctx, tx, jobID, priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreditOperation, err)
	}

	job := &models.RenderJob{
		ID:              jobID,
		ProjectID:       req.ProjectID,
		OrgID:           req.OrgID,
		UserID:          req.UserID,
		Input:           req.Input,
		Engine:          req.Engine,
		Priority:        priority,
		WebhookURL:      req.WebhookURL,
		CreditTxID:      &ct.ID,
		CreditsDeducted: cost,
		Status:          models.JobStatusQueued,
	}
	if err := s.store.CreateTx(ctx, tx, job, handle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreditOperation, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreditOperation, err)
	}

	if s.stats != nil {
		s.stats.JobSubmitted()
	}
	s.log.Info("render job admitted", "job_id", jobID, "credits", cost, "priority", priority)
	return &SubmitResult{
		JobID:           jobID,
		Status:          models.JobStatusQueued,
		QueueHandle:     handle,
		CreditsDeducted: cost,
		NewBalance:      ct.BalanceAfter,
	}, nil
}

func (s *Service) validate(req SubmitRequest) error {
	if req.ProjectID == uuid.Nil || req.OrgID == uuid.Nil || req.UserID == uuid.Nil {
		return fmt.Errorf("%w: missing identifiers", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Engine) == "" {
		return fmt.Errorf("%w: engine required", ErrInvalidRequest)
	}
	switch req.Priority {
	case "", models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, req.Priority)
	}
	if s.validator != nil {
		if err := s.validator.Validate(req.Input); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

// CancelRenderJob cancels a job that has not yet been claimed by a
// worker and refunds its deduction. Claimed, finished, or already
// cancelled jobs yield {Success: false, Refunded: 0}; cancellation is
// cooperative and never preempts in-flight work.
func (s *Service) CancelRenderJob(ctx context.Context, jobID string) (*CancelResult, error) {
	job, riverJobID, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.CancelIfWaiting(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &CancelResult{Success: false, Refunded: 0}, nil
	}

	if s.cancelQueued != nil {
		if err := s.cancelQueued(ctx, riverJobID); err != nil {
			// The status row already says cancelled; the worker drops
			// the job at claim time if the backend still delivers it.
			s.log.Warn("queue cancel failed after status cancel", "job_id", jobID, "error", err)
		}
	}

	refunded := 0
	if job.CreditTxID != nil {
		ct, err := s.ledger.Refund(ctx, *job.CreditTxID, ledger.ReasonJobCancelled,
			fmt.Sprintf("refund for cancelled job %s", jobID))
		if err != nil {
			s.compensationFailure(jobID, err)
		} else {
			refunded = ct.Amount
			if s.stats != nil {
				s.stats.JobRefunded()
			}
			s.publish(ctx, job, models.EventJobRefunded, map[string]any{
				"job_id": jobID, "refunded": refunded, "reason": ledger.ReasonJobCancelled,
			})
		}
	}

	s.log.Info("render job cancelled", "job_id", jobID, "refunded", refunded)
	return &CancelResult{Success: true, Refunded: refunded}, nil
}

// ReplayJob re-enqueues a permanently failed job. Operator-initiated:
// the original deduction was already settled (refunded, or flagged for
// reconciliation) when the job failed, so no fresh deduction is taken.
func (s *Service) ReplayJob(ctx context.Context, jobID string) (*SubmitResult, error) {
	job, _, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, ErrNotReplayable
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	handle, err := s.insertRender(ctx, tx, jobID, job.Priority)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.RequeueFailedTx(ctx, tx, jobID, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotReplayable
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("render job replayed", "job_id", jobID, "queue_handle", handle)
	return &SubmitResult{JobID: jobID, Status: models.JobStatusQueued, QueueHandle: handle}, nil
}

// GetJob returns the current job record.
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.RenderJob, error) {
	job, _, err := s.store.GetByID(ctx, jobID)
	return job, err
}

// ListByProject lists recent jobs for a project.
func (s *Service) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.RenderJob, error) {
	return s.store.ListByProject(ctx, projectID, limit)
}

// MarkProcessing records a worker claiming the job. A false return means
// the job was cancelled or already handled; the worker must drop it.
func (s *Service) MarkProcessing(ctx context.Context, jobID string) (bool, error) {
	return s.store.ClaimProcessing(ctx, jobID)
}

// MarkCompleted finalizes a successful render. No credit action.
func (s *Service) MarkCompleted(ctx context.Context, jobID, outputURL string) error {
	if err := s.store.MarkCompleted(ctx, jobID, outputURL); err != nil {
		return err
	}
	if s.stats != nil {
		s.stats.JobCompleted()
	}
	job, _, err := s.store.GetByID(ctx, jobID)
	if err == nil {
		s.publish(ctx, job, models.EventJobCompleted, map[string]any{
			"job_id": jobID, "output_url": outputURL,
		})
	}
	s.log.Info("render job completed", "job_id", jobID)
	return nil
}

// RecordFailure handles a failed attempt. Intermediate failures are
// retried by the queue backend and never touch credits; only the final
// attempt compensates: refund first, then dead-letter, then events. A
// refund failure is logged and counted but does not re-fail the job and
// is not retried automatically.
func (s *Service) RecordFailure(ctx context.Context, jobID string, attempt, maxAttempts int, jobErr models.JobError) error {
	if attempt < maxAttempts {
		s.log.Warn("render attempt failed, queue will retry",
			"job_id", jobID, "attempt", attempt, "max_attempts", maxAttempts, "error", jobErr.Message)
		return nil
	}

	if err := s.store.MarkFailed(ctx, jobID, jobErr); err != nil {
		return err
	}
	if s.stats != nil {
		s.stats.JobFailedPermanent()
	}

	job, _, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	refundPending := false
	refunded := 0
	if job.CreditTxID != nil {
		desc := fmt.Sprintf("refund for failed job %s after %d attempt(s): %s", jobID, attempt, jobErr.Message)
		ct, rerr := s.ledger.Refund(ctx, *job.CreditTxID, ledger.ReasonJobFailed, desc)
		if rerr != nil {
			refundPending = true
			s.compensationFailure(jobID, rerr)
		} else {
			refunded = ct.Amount
			if s.stats != nil {
				s.stats.JobRefunded()
			}
		}
	}

	if err := s.deadLetters.Insert(ctx, jobID, queue.QueueRender, jobErr.Code, jobErr.Message, job.Input, refundPending); err != nil {
		s.log.Error("dead-letter write failed", "job_id", jobID, "error", err)
	}

	s.publish(ctx, job, models.EventJobFailedPermanent, map[string]any{
		"job_id": jobID, "error": jobErr, "attempts": attempt,
	})
	if refunded > 0 {
		s.publish(ctx, job, models.EventJobRefunded, map[string]any{
			"job_id": jobID, "refunded": refunded, "reason": ledger.ReasonJobFailed,
		})
	}

	s.log.Error("render job failed permanently",
		"job_id", jobID, "attempts", attempt, "error", jobErr.Message, "refund_pending", refundPending)
	return nil
}

// compensationFailure records a refund that could not be issued: the
// ledger may now be out of sync with the job state, so it must be loud.
func (s *Service) compensationFailure(jobID string, err error) {
	if s.stats != nil {
		s.stats.CompensationFailed()
	}
	s.log.Error("refund issuance failed, manual reconciliation required", "job_id", jobID, "error", err)
}

func (s *Service) publish(ctx context.Context, job *models.RenderJob, eventType string, payload map[string]any) {
	if s.events == nil || job == nil {
		return
	}
	s.events.Publish(ctx, job.ProjectID, eventType, payload)
	if job.WebhookURL != "" {
		s.events.PublishDirect(ctx, job.WebhookURL, job.ProjectID, eventType, payload)
	}
}
