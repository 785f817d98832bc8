package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderowl/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account with a personal org and seeds its credit
// balance row, all in one transaction so a partially created account can
// never submit.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName string) (*models.Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var acc models.Account
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, display_name, plan_tier)
		VALUES ($1, $2, $3, $4)
		RETURNING id, org_id, created_at
	`, email, passwordHash, displayName, models.PlanFree).Scan(&acc.ID, &acc.OrgID, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO credit_balances (user_id, org_id, available, pending_deductions, total_lifetime, plan_tier)
		VALUES ($1, $2, 0, 0, 0, $3)
	`, acc.ID, acc.OrgID, models.PlanFree)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	acc.Email = email
	acc.DisplayName = displayName
	acc.PlanTier = models.PlanFree
	return &acc, nil
}

// CreateAPIKey stores the SHA-256 hash of a minted key. The plaintext
// key never touches the database.
func (r *Repository) CreateAPIKey(ctx context.Context, userID, orgID uuid.UUID, name, keyHash string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, org_id, name, key_hash)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), userID, orgID, name, keyHash)
	return err
}

// GetIdentityByKeyHash resolves an API key hash to its owner. Returns
// uuid.Nil identifiers when no key matches.
func (r *Repository) GetIdentityByKeyHash(ctx context.Context, keyHash string) (userID, orgID uuid.UUID, err error) {
	err = r.pool.QueryRow(ctx, `
		UPDATE api_keys SET last_used_at = now() WHERE key_hash = $1
		RETURNING user_id, org_id
	`, keyHash).Scan(&userID, &orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, uuid.Nil, nil
	}
	return userID, orgID, err
}

// GetByEmail returns the account and password hash for login. Returns
// nil account when not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, string, error) {
	var (
		acc          models.Account
		passwordHash string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, org_id, email, display_name, plan_tier, password_hash, created_at
		FROM accounts WHERE email = $1
	`, email).Scan(&acc.ID, &acc.OrgID, &acc.Email, &acc.DisplayName, &acc.PlanTier, &passwordHash, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return &acc, passwordHash, nil
}
