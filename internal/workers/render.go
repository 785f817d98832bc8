package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/renderowl/backend/internal/models"
)

// RenderArgs carries only the job id; the durable job record is the
// source of truth for everything else.
type RenderArgs struct {
	JobID string `json:"job_id"`
}

func (RenderArgs) Kind() string { return "render_job" }

// RenderEngine is the external render collaborator. It resolves asset
// references, renders, and returns an output URL. Timeouts are its own.
type RenderEngine interface {
	Render(ctx context.Context, job *models.RenderJob) (outputURL string, err error)
}

// RenderJobService is the lifecycle contract the worker reports through.
type RenderJobService interface {
	GetJob(ctx context.Context, jobID string) (*models.RenderJob, error)
	MarkProcessing(ctx context.Context, jobID string) (bool, error)
	MarkCompleted(ctx context.Context, jobID, outputURL string) error
	RecordFailure(ctx context.Context, jobID string, attempt, maxAttempts int, jobErr models.JobError) error
}

type RenderWorker struct {
	river.WorkerDefaults[RenderArgs]
	jobs   RenderJobService
	engine RenderEngine
	log    *slog.Logger
}

func NewRenderWorker(jobs RenderJobService, engine RenderEngine, log *slog.Logger) *RenderWorker {
	if log == nil {
		log = slog.Default()
	}
	return &RenderWorker{jobs: jobs, engine: engine, log: log}
}

func (w *RenderWorker) Work(ctx context.Context, job *river.Job[RenderArgs]) error {
	jobID := job.Args.JobID

	claimed, err := w.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		// Cancelled or already finished between enqueue and claim.
		w.log.Info("render job not claimable, dropping", "job_id", jobID)
		return nil
	}

	rec, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	outputURL, renderErr := w.engine.Render(ctx, rec)
	if renderErr != nil {
		jobErr := models.JobError{Code: "render_error", Message: renderErr.Error()}
		if ferr := w.jobs.RecordFailure(ctx, jobID, job.Attempt, job.MaxAttempts, jobErr); ferr != nil {
			return fmt.Errorf("render failed (%v) and failure record failed: %w", renderErr, ferr)
		}
		// Consume the attempt; the queue retries with backoff until the
		// bound, then discards.
		return renderErr
	}

	return w.jobs.MarkCompleted(ctx, jobID, outputURL)
}
