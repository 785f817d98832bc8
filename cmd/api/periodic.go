package main

import (
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/robfig/cron/v3"

	"github.com/renderowl/backend/internal/automation"
	"github.com/renderowl/backend/internal/queue"
)

// periodicRegistry adapts River's periodic-job bundle to the scheduler's
// Registry interface. Handles are River periodic-job handles.
type periodicRegistry struct {
	get         func() *river.Client[pgx.Tx]
	maxAttempts int
}

func (p *periodicRegistry) Register(schedule cron.Schedule, args automation.RunArgs) (int, error) {
	job := river.NewPeriodicJob(schedule, func() (river.JobArgs, *river.InsertOpts) {
		return args, &river.InsertOpts{
			Queue:       queue.QueueAutomation,
			MaxAttempts: p.maxAttempts,
		}
	}, nil)
	handle := p.get().PeriodicJobs().Add(job)
	return int(handle), nil
}

func (p *periodicRegistry) Unregister(handle int) {
	p.get().PeriodicJobs().Remove(rivertype.PeriodicJobHandle(handle))
}
