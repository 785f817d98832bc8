package automation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderowl/backend/internal/models"
)

// ErrAutomationNotFound is returned when an automation id does not exist.
var ErrAutomationNotFound = errors.New("automation not found")

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, a *models.Automation) error {
	trigger, err := json.Marshal(a.Trigger)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO automations (id, project_id, org_id, user_id, name, trigger, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, a.ID, a.ProjectID, a.OrgID, a.UserID, a.Name, trigger, a.Enabled).Scan(&a.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Automation, error) {
	var (
		a       models.Automation
		trigger []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, project_id, org_id, user_id, name, trigger, enabled, created_at
		FROM automations WHERE id = $1
	`, id).Scan(&a.ID, &a.ProjectID, &a.OrgID, &a.UserID, &a.Name, &trigger, &a.Enabled, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAutomationNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(trigger, &a.Trigger); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE automations SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

// ListEnabledScheduled returns every enabled schedule-triggered
// automation. The scheduler's registrations are in-memory, so the
// process rehydrates them from this list at boot.
func (r *Repository) ListEnabledScheduled(ctx context.Context) ([]*models.Automation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, org_id, user_id, name, trigger, enabled, created_at
		FROM automations
		WHERE enabled AND trigger->>'type' = $1
	`, models.TriggerSchedule)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Automation
	for rows.Next() {
		var (
			a       models.Automation
			trigger []byte
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.OrgID, &a.UserID, &a.Name, &trigger, &a.Enabled, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(trigger, &a.Trigger); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

// InsertRun appends a run record. History is append-only, keyed by
// automation id, one run id per firing.
func (r *Repository) InsertRun(ctx context.Context, run *models.AutomationRun) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO automation_runs (run_id, automation_id, project_id, org_id, user_id, trigger_data, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING started_at
	`, run.RunID, run.AutomationID, run.ProjectID, run.OrgID, run.UserID, run.TriggerData, run.Status).
		Scan(&run.StartedAt)
}

func (r *Repository) FinishRun(ctx context.Context, runID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE automation_runs SET status = $1, finished_at = now() WHERE run_id = $2
	`, status, runID)
	return err
}

func (r *Repository) ListRuns(ctx context.Context, automationID uuid.UUID, limit int) ([]*models.AutomationRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT run_id, automation_id, project_id, org_id, user_id, trigger_data, status, started_at, finished_at
		FROM automation_runs WHERE automation_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, automationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AutomationRun
	for rows.Next() {
		var run models.AutomationRun
		if err := rows.Scan(&run.RunID, &run.AutomationID, &run.ProjectID, &run.OrgID, &run.UserID, &run.TriggerData, &run.Status, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		list = append(list, &run)
	}
	return list, rows.Err()
}

// NewRunID mints a prefixed run id.
func NewRunID() string {
	return "run_" + uuid.NewString()
}
