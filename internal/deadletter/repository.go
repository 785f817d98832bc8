// Package deadletter stores jobs that exhausted their retries. It is a
// durable, inspectable table, not a log stream, so operators can replay
// entries or reconcile a pending refund by hand.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEntryNotFound is returned when a dead-letter entry does not exist.
var ErrEntryNotFound = errors.New("dead-letter entry not found")

// Entry is one dead-lettered job.
type Entry struct {
	ID            uuid.UUID       `json:"id"`
	JobID         string          `json:"job_id"`
	QueueName     string          `json:"queue"`
	ErrorCode     string          `json:"error_code"`
	ErrorMessage  string          `json:"error_message"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RefundPending bool            `json:"refund_pending"`
	ReplayedAt    *time.Time      `json:"replayed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, jobID, queueName, errCode, errMessage string, payload json.RawMessage, refundPending bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, job_id, queue, error_code, error_message, payload, refund_pending)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), jobID, queueName, errCode, errMessage, payload, refundPending)
	return err
}

func (r *Repository) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, queue, error_code, error_message, payload, refund_pending, replayed_at, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.JobID, &e.QueueName, &e.ErrorCode, &e.ErrorMessage, &e.Payload, &e.RefundPending, &e.ReplayedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	var e Entry
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, queue, error_code, error_message, payload, refund_pending, replayed_at, created_at
		FROM dead_letters WHERE id = $1
	`, id).Scan(&e.ID, &e.JobID, &e.QueueName, &e.ErrorCode, &e.ErrorMessage, &e.Payload, &e.RefundPending, &e.ReplayedAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkReplayed stamps an entry after an operator resubmits the job.
func (r *Repository) MarkReplayed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE dead_letters SET replayed_at = now() WHERE id = $1 AND replayed_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ResolveRefund clears the refund_pending flag once an operator has
// reconciled the ledger for the entry's job.
func (r *Repository) ResolveRefund(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE dead_letters SET refund_pending = FALSE WHERE id = $1 AND refund_pending
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}
