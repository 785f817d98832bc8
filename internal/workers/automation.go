package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/renderowl/backend/internal/automation"
	"github.com/renderowl/backend/internal/models"
)

// RunRecorder is the append-only run history surface.
type RunRecorder interface {
	InsertRun(ctx context.Context, run *models.AutomationRun) error
	FinishRun(ctx context.Context, runID, status string) error
}

// AutomationExecutor runs the automation's pipeline (an external
// collaborator, like the render engine).
type AutomationExecutor interface {
	Execute(ctx context.Context, run *models.AutomationRun) error
}

// RunEvents publishes run outcomes to registered webhook endpoints.
type RunEvents interface {
	Publish(ctx context.Context, projectID uuid.UUID, eventType string, payload any)
}

// AutomationWorker records one run per firing and drives the executor.
// Execution failures consume retry attempts like any other job class; no
// credits are involved.
type AutomationWorker struct {
	river.WorkerDefaults[automation.RunArgs]
	runs     RunRecorder
	executor AutomationExecutor
	events   RunEvents
	log      *slog.Logger
}

func NewAutomationWorker(runs RunRecorder, executor AutomationExecutor, events RunEvents, log *slog.Logger) *AutomationWorker {
	if log == nil {
		log = slog.Default()
	}
	return &AutomationWorker{runs: runs, executor: executor, events: events, log: log}
}

func (w *AutomationWorker) Work(ctx context.Context, job *river.Job[automation.RunArgs]) error {
	args := job.Args

	run := &models.AutomationRun{
		RunID:        automation.NewRunID(),
		AutomationID: args.AutomationID,
		ProjectID:    args.ProjectID,
		OrgID:        args.OrgID,
		UserID:       args.UserID,
		TriggerData:  args.TriggerData,
		Status:       automation.RunStatusRunning,
	}
	if err := w.runs.InsertRun(ctx, run); err != nil {
		return fmt.Errorf("record run for automation %s: %w", args.AutomationID, err)
	}

	if err := w.executor.Execute(ctx, run); err != nil {
		if ferr := w.runs.FinishRun(ctx, run.RunID, automation.RunStatusFailed); ferr != nil {
			w.log.Error("finish run failed", "run_id", run.RunID, "error", ferr)
		}
		if job.Attempt >= job.MaxAttempts {
			w.publishOutcome(ctx, args, run.RunID, automation.RunStatusFailed)
		}
		return fmt.Errorf("automation %s run %s: %w", args.AutomationID, run.RunID, err)
	}

	if err := w.runs.FinishRun(ctx, run.RunID, automation.RunStatusCompleted); err != nil {
		return err
	}
	w.publishOutcome(ctx, args, run.RunID, automation.RunStatusCompleted)
	w.log.Info("automation run completed",
		"automation_id", args.AutomationID, "run_id", run.RunID, "trigger", args.TriggerType)
	return nil
}

func (w *AutomationWorker) publishOutcome(ctx context.Context, args automation.RunArgs, runID, status string) {
	if w.events == nil {
		return
	}
	w.events.Publish(ctx, args.ProjectID, models.EventAutomationRun, map[string]any{
		"automation_id": args.AutomationID,
		"run_id":        runID,
		"status":        status,
	})
}
