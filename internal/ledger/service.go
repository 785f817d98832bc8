package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/renderowl/backend/internal/models"
)

// Service is the credit ledger contract. Deduction is atomic
// check-and-deduct: a single operation, never separate read-then-write.
// DeductTx participates in the caller's transaction so admission can
// make "deduct then enqueue" all-or-nothing.
type Service interface {
	DeductTx(ctx context.Context, tx pgx.Tx, userID, orgID uuid.UUID, amount int, jobID, jobType, description string) (*models.CreditTransaction, error)
	Refund(ctx context.Context, originalTxID uuid.UUID, reason, description string) (*models.CreditTransaction, error)
	Grant(ctx context.Context, userID, orgID uuid.UUID, amount int, txType, description string) (*models.CreditTransaction, error)
	GetBalance(ctx context.Context, userID, orgID uuid.UUID) (*models.CreditBalance, error)
	ListTransactions(ctx context.Context, userID, orgID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

// Refund reasons recorded on compensation transactions.
const (
	ReasonJobCancelled = "job_cancelled"
	ReasonJobFailed    = "job_failed"
)

type service struct {
	repo *Repository
}

func NewService(repo *Repository) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) DeductTx(ctx context.Context, tx pgx.Tx, userID, orgID uuid.UUID, amount int, jobID, jobType, description string) (*models.CreditTransaction, error) {
	return s.repo.DeductTx(ctx, tx, userID, orgID, amount, jobID, jobType, description)
}

func (s *service) Refund(ctx context.Context, originalTxID uuid.UUID, reason, description string) (*models.CreditTransaction, error) {
	return s.repo.Refund(ctx, originalTxID, reason, description)
}

func (s *service) Grant(ctx context.Context, userID, orgID uuid.UUID, amount int, txType, description string) (*models.CreditTransaction, error) {
	return s.repo.Grant(ctx, userID, orgID, amount, txType, description)
}

func (s *service) GetBalance(ctx context.Context, userID, orgID uuid.UUID) (*models.CreditBalance, error) {
	return s.repo.GetBalance(ctx, userID, orgID)
}

func (s *service) ListTransactions(ctx context.Context, userID, orgID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	return s.repo.ListTransactions(ctx, userID, orgID, limit)
}

// Sentinel errors matching the ledger error codes exposed to callers.
var (
	ErrInsufficientCredits = errInsufficientCredits
	ErrUserNotFound        = errUserNotFound
	ErrTransactionNotFound = errTxNotFound
	ErrAlreadyRefunded     = errAlreadyRefunded
)
