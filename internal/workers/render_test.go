package workers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/renderowl/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type failureRecord struct {
	Attempt     int
	MaxAttempts int
	Err         models.JobError
}

type mockJobService struct {
	mu        sync.Mutex
	claimable bool
	job       *models.RenderJob
	completed []string
	failures  []failureRecord
}

func (m *mockJobService) GetJob(_ context.Context, jobID string) (*models.RenderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil || m.job.ID != jobID {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	cp := *m.job
	return &cp, nil
}

func (m *mockJobService) MarkProcessing(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimable, nil
}

func (m *mockJobService) MarkCompleted(_ context.Context, jobID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, jobID)
	return nil
}

func (m *mockJobService) RecordFailure(_ context.Context, _ string, attempt, maxAttempts int, jobErr models.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failureRecord{Attempt: attempt, MaxAttempts: maxAttempts, Err: jobErr})
	return nil
}

type stubEngine struct {
	outputURL string
	err       error
	calls     int
}

func (e *stubEngine) Render(_ context.Context, _ *models.RenderJob) (string, error) {
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	return e.outputURL, nil
}

func renderJob(attempt, maxAttempts int, jobID string) *river.Job[RenderArgs] {
	return &river.Job[RenderArgs]{
		JobRow: &rivertype.JobRow{Attempt: attempt, MaxAttempts: maxAttempts},
		Args:   RenderArgs{JobID: jobID},
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRenderWorker_Success(t *testing.T) {
	svc := &mockJobService{
		claimable: true,
		job:       &models.RenderJob{ID: "job_1", Status: models.JobStatusProcessing},
	}
	engine := &stubEngine{outputURL: "https://cdn.example.com/out.mp4"}
	w := NewRenderWorker(svc, engine, nil)

	if err := w.Work(context.Background(), renderJob(1, 3, "job_1")); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(svc.completed) != 1 || svc.completed[0] != "job_1" {
		t.Errorf("completed: got %v, want [job_1]", svc.completed)
	}
	if len(svc.failures) != 0 {
		t.Errorf("failures: got %d, want 0", len(svc.failures))
	}
}

// A job cancelled between enqueue and claim is dropped without error so
// the queue does not retry it.
func TestRenderWorker_DropsUnclaimableJob(t *testing.T) {
	svc := &mockJobService{claimable: false}
	engine := &stubEngine{}
	w := NewRenderWorker(svc, engine, nil)

	if err := w.Work(context.Background(), renderJob(1, 3, "job_1")); err != nil {
		t.Fatalf("Work should drop silently: %v", err)
	}
	if engine.calls != 0 {
		t.Error("engine must not run for an unclaimable job")
	}
}

// A render failure is recorded with the attempt counters and returned so
// the queue schedules the retry.
func TestRenderWorker_FailureConsumesAttempt(t *testing.T) {
	svc := &mockJobService{
		claimable: true,
		job:       &models.RenderJob{ID: "job_1", Status: models.JobStatusProcessing},
	}
	engine := &stubEngine{err: fmt.Errorf("scene graph invalid")}
	w := NewRenderWorker(svc, engine, nil)

	err := w.Work(context.Background(), renderJob(2, 3, "job_1"))
	if err == nil {
		t.Fatal("Work must return the render error so the queue retries")
	}
	if len(svc.failures) != 1 {
		t.Fatalf("failures: got %d, want 1", len(svc.failures))
	}
	f := svc.failures[0]
	if f.Attempt != 2 || f.MaxAttempts != 3 {
		t.Errorf("attempt counters: got %d/%d, want 2/3", f.Attempt, f.MaxAttempts)
	}
	if f.Err.Code != "render_error" {
		t.Errorf("error code: got %q, want render_error", f.Err.Code)
	}
	if len(svc.completed) != 0 {
		t.Error("failed work must not mark the job completed")
	}
}
