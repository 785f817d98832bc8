package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan tier enums.
const (
	PlanFree    = "free"
	PlanCreator = "creator"
	PlanStudio  = "studio"
)

// Account is a user identity on the platform. Every account belongs to
// exactly one organization (personal orgs share the account id).
type Account struct {
	ID          uuid.UUID `json:"id"`
	OrgID       uuid.UUID `json:"org_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	PlanTier    string    `json:"plan_tier"`
	CreatedAt   time.Time `json:"created_at"`
}
