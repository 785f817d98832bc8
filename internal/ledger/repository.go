package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderowl/backend/internal/models"
)

var (
	errInsufficientCredits = errors.New("insufficient_credits")
	errUserNotFound        = errors.New("user_not_found")
	errTxNotFound          = errors.New("transaction_not_found")
	errAlreadyRefunded     = errors.New("already_refunded")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DeductTx runs inside the caller's transaction. The balance check and
// the deduction are a single conditional UPDATE so two concurrent
// submissions from the same user can never both observe sufficient
// balance and overdraw.
func (r *Repository) DeductTx(ctx context.Context, tx pgx.Tx, userID, orgID uuid.UUID, amount int, jobID, jobType, description string) (*models.CreditTransaction, error) {
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE credit_balances
		SET available = available - $1, updated_at = now()
		WHERE user_id = $2 AND org_id = $3 AND available >= $1
		RETURNING available
	`, amount, userID, orgID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if probeErr := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM credit_balances WHERE user_id = $1 AND org_id = $2)
		`, userID, orgID).Scan(&exists); probeErr != nil {
			return nil, probeErr
		}
		if !exists {
			return nil, errUserNotFound
		}
		return nil, errInsufficientCredits
	}
	if err != nil {
		return nil, err
	}

	ct := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		OrgID:        orgID,
		Type:         models.CreditTxDeduction,
		Amount:       -amount,
		BalanceAfter: newBalance,
		Status:       models.CreditTxCompleted,
		JobID:        &jobID,
		Description:  description,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_transactions
			(id, user_id, org_id, tx_type, amount, balance_after, status, job_id, job_class, description, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING created_at, completed_at
	`, ct.ID, userID, orgID, ct.Type, ct.Amount, newBalance, ct.Status, jobID, jobType, description).
		Scan(&ct.CreatedAt, &ct.CompletedAt)
	if err != nil {
		return nil, err
	}
	return ct, nil
}

// Refund runs in its own transaction: it locks the original deduction,
// rejects a second refund of the same transaction, returns the credits,
// and marks the original reversed.
func (r *Repository) Refund(ctx context.Context, originalTxID uuid.UUID, reason, description string) (*models.CreditTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		userID, orgID uuid.UUID
		amount        int
		status        string
		jobID         *string
	)
	err = tx.QueryRow(ctx, `
		SELECT user_id, org_id, amount, status, job_id
		FROM credit_transactions
		WHERE id = $1 AND tx_type = $2
		FOR UPDATE
	`, originalTxID, models.CreditTxDeduction).Scan(&userID, &orgID, &amount, &status, &jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errTxNotFound
	}
	if err != nil {
		return nil, err
	}
	if status == models.CreditTxReversed {
		return nil, errAlreadyRefunded
	}

	refundAmount := -amount // deductions are stored negative
	var newBalance int
	err = tx.QueryRow(ctx, `
		UPDATE credit_balances
		SET available = available + $1, updated_at = now()
		WHERE user_id = $2 AND org_id = $3
		RETURNING available
	`, refundAmount, userID, orgID).Scan(&newBalance)
	if err != nil {
		return nil, err
	}

	ct := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		OrgID:        orgID,
		Type:         models.CreditTxRefund,
		Amount:       refundAmount,
		BalanceAfter: newBalance,
		Status:       models.CreditTxCompleted,
		JobID:        jobID,
		Description:  description,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_transactions
			(id, user_id, org_id, tx_type, amount, balance_after, status, job_id, reason, ref_tx_id, description, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING created_at, completed_at
	`, ct.ID, userID, orgID, ct.Type, refundAmount, newBalance, ct.Status, jobID, reason, originalTxID, description).
		Scan(&ct.CreatedAt, &ct.CompletedAt)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE credit_transactions SET status = $1 WHERE id = $2
	`, models.CreditTxReversed, originalTxID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ct, nil
}

// Grant credits an account (purchase, bonus, adjustment,
// subscription_grant) in its own transaction.
func (r *Repository) Grant(ctx context.Context, userID, orgID uuid.UUID, amount int, txType, description string) (*models.CreditTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var newBalance int
	err = tx.QueryRow(ctx, `
		UPDATE credit_balances
		SET available = available + $1, total_lifetime = total_lifetime + $1, updated_at = now()
		WHERE user_id = $2 AND org_id = $3
		RETURNING available
	`, amount, userID, orgID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, err
	}

	ct := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		OrgID:        orgID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: newBalance,
		Status:       models.CreditTxCompleted,
		Description:  description,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_transactions
			(id, user_id, org_id, tx_type, amount, balance_after, status, description, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING created_at, completed_at
	`, ct.ID, userID, orgID, txType, amount, newBalance, ct.Status, description).
		Scan(&ct.CreatedAt, &ct.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ct, nil
}

func (r *Repository) GetBalance(ctx context.Context, userID, orgID uuid.UUID) (*models.CreditBalance, error) {
	var b models.CreditBalance
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, org_id, available, pending_deductions, total_lifetime, plan_tier
		FROM credit_balances WHERE user_id = $1 AND org_id = $2
	`, userID, orgID).Scan(&b.UserID, &b.OrgID, &b.Available, &b.PendingDeductions, &b.TotalLifetime, &b.PlanTier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) ListTransactions(ctx context.Context, userID, orgID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, org_id, tx_type, amount, balance_after, status, job_id, description, created_at, completed_at
		FROM credit_transactions
		WHERE user_id = $1 AND org_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var ct models.CreditTransaction
		if err := rows.Scan(&ct.ID, &ct.UserID, &ct.OrgID, &ct.Type, &ct.Amount, &ct.BalanceAfter, &ct.Status, &ct.JobID, &ct.Description, &ct.CreatedAt, &ct.CompletedAt); err != nil {
			return nil, err
		}
		list = append(list, &ct)
	}
	return list, rows.Err()
}
