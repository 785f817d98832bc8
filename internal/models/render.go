package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Render job status enums.
const (
	JobStatusPending    = "pending"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Render job priority tiers. Higher priority runs no later than lower of
// equal submission time; within a tier the queue is FIFO.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// JobError is the structured error retained on a permanently failed job.
// No raw ledger or queue internals leak through it.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RenderJob is the durable record of a render submission. Created by the
// admission path, mutated by the lifecycle manager on every transition.
// Terminal states: completed, failed, cancelled.
type RenderJob struct {
	ID              string          `json:"id"` // prefixed: job_<uuid>
	ProjectID       uuid.UUID       `json:"project_id"`
	OrgID           uuid.UUID       `json:"org_id"`
	UserID          uuid.UUID       `json:"user_id"`
	Input           json.RawMessage `json:"input"`
	Engine          string          `json:"engine"`
	Priority        string          `json:"priority"`
	WebhookURL      string          `json:"webhook_url,omitempty"` // per-job override
	CreditTxID      *uuid.UUID      `json:"credit_tx_id,omitempty"`
	CreditsDeducted int             `json:"credits_deducted"`
	Status          string          `json:"status"`
	Error           *JobError       `json:"error,omitempty"`
	OutputURL       string          `json:"output_url,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}
