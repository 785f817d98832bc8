package render

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderowl/backend/internal/models"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts a render job row inside the admission transaction.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, j *models.RenderJob, riverJobID int64) error {
	return tx.QueryRow(ctx, `
		INSERT INTO render_jobs
			(id, project_id, org_id, user_id, input, engine, priority, webhook_url,
			 credit_tx_id, credits_deducted, status, river_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, j.ID, j.ProjectID, j.OrgID, j.UserID, j.Input, j.Engine, j.Priority, j.WebhookURL,
		j.CreditTxID, j.CreditsDeducted, j.Status, riverJobID).
		Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, jobID string) (*models.RenderJob, int64, error) {
	var (
		j          models.RenderJob
		riverJobID int64
		errJSON    []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, project_id, org_id, user_id, input, engine, priority, webhook_url,
		       credit_tx_id, credits_deducted, status, error, output_url, river_job_id,
		       created_at, updated_at, completed_at
		FROM render_jobs WHERE id = $1
	`, jobID).Scan(&j.ID, &j.ProjectID, &j.OrgID, &j.UserID, &j.Input, &j.Engine, &j.Priority, &j.WebhookURL,
		&j.CreditTxID, &j.CreditsDeducted, &j.Status, &errJSON, &j.OutputURL, &riverJobID,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrJobNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	if len(errJSON) > 0 {
		var je models.JobError
		if uerr := json.Unmarshal(errJSON, &je); uerr == nil {
			j.Error = &je
		}
	}
	return &j, riverJobID, nil
}

func (r *Repository) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.RenderJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, org_id, user_id, engine, priority, credits_deducted, status, output_url,
		       created_at, updated_at, completed_at
		FROM render_jobs WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.RenderJob
	for rows.Next() {
		var j models.RenderJob
		if err := rows.Scan(&j.ID, &j.ProjectID, &j.OrgID, &j.UserID, &j.Engine, &j.Priority, &j.CreditsDeducted, &j.Status, &j.OutputURL,
			&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
			return nil, err
		}
		list = append(list, &j)
	}
	return list, rows.Err()
}

// ClaimProcessing moves queued -> processing. Retry attempts re-claim a
// job already in processing. Returns false when the job was cancelled or
// finished; the worker must then drop it without touching credits.
func (r *Repository) ClaimProcessing(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE render_jobs SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN ($3, $1)
	`, models.JobStatusProcessing, jobID, models.JobStatusQueued)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkCompleted(ctx context.Context, jobID, outputURL string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE render_jobs SET status = $1, output_url = $2, completed_at = now(), updated_at = now()
		WHERE id = $3
	`, models.JobStatusCompleted, outputURL, jobID)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, jobID string, jobErr models.JobError) error {
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE render_jobs SET status = $1, error = $2, completed_at = now(), updated_at = now()
		WHERE id = $3
	`, models.JobStatusFailed, errJSON, jobID)
	return err
}

// RequeueFailedTx resets a permanently failed job back to queued inside
// the replay transaction and points it at its new queue entry. Returns
// false when the job is not in the failed state.
func (r *Repository) RequeueFailedTx(ctx context.Context, tx pgx.Tx, jobID string, riverJobID int64) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE render_jobs
		SET status = $1, error = NULL, output_url = NULL, completed_at = NULL,
		    river_job_id = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, models.JobStatusQueued, riverJobID, jobID, models.JobStatusFailed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelIfWaiting moves pending/queued -> cancelled in one conditional
// UPDATE. A job already claimed by a worker is left untouched and false
// is returned, so in-flight work is never preempted.
func (r *Repository) CancelIfWaiting(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE render_jobs SET status = $1, completed_at = now(), updated_at = now()
		WHERE id = $2 AND status IN ($3, $4)
	`, models.JobStatusCancelled, jobID, models.JobStatusPending, models.JobStatusQueued)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
