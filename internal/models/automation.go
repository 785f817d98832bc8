package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Automation trigger type enums.
const (
	TriggerManual   = "manual"
	TriggerWebhook  = "webhook"
	TriggerSchedule = "schedule"
)

// Automation is a registered recurring or event-driven pipeline owned by a
// project. Only schedule-triggered automations are registered with the
// queue backend; manual and webhook triggers fire on demand.
type Automation struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	OrgID     uuid.UUID `json:"org_id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Trigger   Trigger   `json:"trigger"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Trigger describes how an automation fires. CronExpr is required when
// Type is schedule.
type Trigger struct {
	Type     string `json:"type"`
	CronExpr string `json:"cron_expr,omitempty"`
}

// AutomationRun is one execution attempt of an automation. One run id per
// firing; history is append-only, keyed by automation id.
type AutomationRun struct {
	RunID        string          `json:"run_id"` // prefixed: run_<uuid>
	AutomationID uuid.UUID       `json:"automation_id"`
	ProjectID    uuid.UUID       `json:"project_id"`
	OrgID        uuid.UUID       `json:"org_id"`
	UserID       uuid.UUID       `json:"user_id"`
	TriggerData  json.RawMessage `json:"trigger_data,omitempty"`
	Status       string          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}
