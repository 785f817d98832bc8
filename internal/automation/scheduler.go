// Package automation maintains a 1:1 mapping between enabled
// schedule-triggered automations and recurring registrations in the
// queue backend, and records one run per firing.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/renderowl/backend/internal/models"
)

var (
	// ErrInvalidTriggerType is returned when scheduling an automation
	// whose trigger is not schedule-based.
	ErrInvalidTriggerType = errors.New("invalid trigger type")
	// ErrBadCronExpr is returned for an unparseable cron expression.
	ErrBadCronExpr = errors.New("invalid cron expression")
)

// RunArgs is the queued payload for one automation firing. Kind routes
// it to the automation worker.
type RunArgs struct {
	AutomationID uuid.UUID       `json:"automation_id"`
	ProjectID    uuid.UUID       `json:"project_id"`
	OrgID        uuid.UUID       `json:"org_id"`
	UserID       uuid.UUID       `json:"user_id"`
	TriggerType  string          `json:"trigger_type"`
	TriggerData  json.RawMessage `json:"trigger_data,omitempty"`
}

func (RunArgs) Kind() string { return "automation_run" }

// Registry is the queue backend's recurring-registration surface.
// Registrations are keyed by the handle the backend returns; the
// scheduler owns the automation-id-to-handle mapping.
type Registry interface {
	Register(schedule cron.Schedule, args RunArgs) (handle int, err error)
	Unregister(handle int)
}

// EnqueueRunFunc enqueues a one-off automation run (manual or webhook
// trigger) on the automation queue.
type EnqueueRunFunc func(ctx context.Context, args RunArgs) error

// ScheduleResult reports a successful registration.
type ScheduleResult struct {
	AutomationID uuid.UUID `json:"automation_id"`
	NextRunAt    time.Time `json:"next_run_at"`
}

// Scheduler registers and unregisters recurring automations. All
// operations are idempotent: re-scheduling replaces the prior
// registration, and unscheduling an unknown automation is a no-op.
type Scheduler struct {
	registry   Registry
	enqueueRun EnqueueRunFunc
	log        *slog.Logger

	mu      sync.Mutex
	handles map[uuid.UUID]int
}

func NewScheduler(registry Registry, enqueueRun EnqueueRunFunc, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		registry:   registry,
		enqueueRun: enqueueRun,
		log:        log,
		handles:    make(map[uuid.UUID]int),
	}
}

// ScheduleAutomation registers a recurring run for a schedule-triggered
// automation. Calling it again for the same automation id replaces the
// existing registration instead of duplicating it.
func (s *Scheduler) ScheduleAutomation(auto *models.Automation, userID uuid.UUID) (*ScheduleResult, error) {
	if auto.Trigger.Type != models.TriggerSchedule {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTriggerType, auto.Trigger.Type)
	}
	schedule, err := cron.ParseStandard(auto.Trigger.CronExpr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCronExpr, err)
	}

	args := RunArgs{
		AutomationID: auto.ID,
		ProjectID:    auto.ProjectID,
		OrgID:        auto.OrgID,
		UserID:       userID,
		TriggerType:  models.TriggerSchedule,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.handles[auto.ID]; ok {
		s.registry.Unregister(prev)
		delete(s.handles, auto.ID)
	}
	handle, err := s.registry.Register(schedule, args)
	if err != nil {
		return nil, err
	}
	s.handles[auto.ID] = handle

	next := schedule.Next(time.Now())
	s.log.Info("automation scheduled", "automation_id", auto.ID, "cron", auto.Trigger.CronExpr, "next_run_at", next)
	return &ScheduleResult{AutomationID: auto.ID, NextRunAt: next}, nil
}

// UnscheduleAutomation removes the recurring registration. Unscheduling
// an automation that is not scheduled is a no-op, not an error.
func (s *Scheduler) UnscheduleAutomation(automationID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.handles[automationID]
	if !ok {
		return
	}
	s.registry.Unregister(handle)
	delete(s.handles, automationID)
	s.log.Info("automation unscheduled", "automation_id", automationID)
}

// TriggerNow fires an automation once, outside its schedule (manual or
// webhook trigger).
func (s *Scheduler) TriggerNow(ctx context.Context, auto *models.Automation, userID uuid.UUID, triggerType string, data json.RawMessage) error {
	switch triggerType {
	case models.TriggerManual, models.TriggerWebhook:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTriggerType, triggerType)
	}
	return s.enqueueRun(ctx, RunArgs{
		AutomationID: auto.ID,
		ProjectID:    auto.ProjectID,
		OrgID:        auto.OrgID,
		UserID:       userID,
		TriggerType:  triggerType,
		TriggerData:  data,
	})
}

// Scheduled reports whether an automation currently holds a recurring
// registration.
func (s *Scheduler) Scheduled(automationID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[automationID]
	return ok
}
