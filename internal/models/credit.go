package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction type enums.
const (
	CreditTxPurchase          = "purchase"
	CreditTxDeduction         = "deduction"
	CreditTxRefund            = "refund"
	CreditTxBonus             = "bonus"
	CreditTxAdjustment        = "adjustment"
	CreditTxSubscriptionGrant = "subscription_grant"
)

// Credit transaction status enums.
const (
	CreditTxPending   = "pending"
	CreditTxCompleted = "completed"
	CreditTxFailed    = "failed"
	CreditTxReversed  = "reversed"
)

// CreditTransaction is an immutable record of a balance change. Once
// completed, the only permitted mutation is completed -> reversed, via a
// refund transaction referencing it.
type CreditTransaction struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	OrgID        uuid.UUID  `json:"org_id"`
	Type         string     `json:"type"`
	Amount       int        `json:"amount"` // signed: deductions are negative
	BalanceAfter int        `json:"balance_after"`
	Status       string     `json:"status"`
	JobID        *string    `json:"job_id,omitempty"`
	AutomationID *uuid.UUID `json:"automation_id,omitempty"`
	Description  string     `json:"description"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// CreditBalance is the per (user, org) aggregate. Available never goes
// negative; the ledger rejects any deduction that would violate that
// before a job is admitted.
type CreditBalance struct {
	UserID            uuid.UUID `json:"user_id"`
	OrgID             uuid.UUID `json:"org_id"`
	Available         int       `json:"available"`
	PendingDeductions int       `json:"pending_deductions"`
	TotalLifetime     int       `json:"total_lifetime"`
	PlanTier          string    `json:"plan_tier"`
}
