package webhooks

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderowl/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, e *models.WebhookEndpoint) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO webhook_endpoints (id, project_id, url, secret, events, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING created_at
	`, e.ID, e.ProjectID, e.URL, e.Secret, e.Events).Scan(&e.CreatedAt)
}

func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE webhook_endpoints SET active = FALSE WHERE id = $1`, id)
	return err
}

// ListActiveFor returns active endpoints of a project subscribed to the
// given event type. An empty events list subscribes to everything.
func (r *Repository) ListActiveFor(ctx context.Context, projectID uuid.UUID, eventType string) ([]*models.WebhookEndpoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, url, secret, events, active, created_at
		FROM webhook_endpoints
		WHERE project_id = $1 AND active AND (events = '{}' OR $2 = ANY(events))
	`, projectID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WebhookEndpoint
	for rows.Next() {
		var e models.WebhookEndpoint
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.URL, &e.Secret, &e.Events, &e.Active, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.WebhookEndpoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, url, secret, events, active, created_at
		FROM webhook_endpoints WHERE project_id = $1 ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WebhookEndpoint
	for rows.Next() {
		var e models.WebhookEndpoint
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.URL, &e.Secret, &e.Events, &e.Active, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
