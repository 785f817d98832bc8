package queue

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClassStats is one queue's counters by job state.
type ClassStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats is the per-class observability snapshot.
type Stats struct {
	Render     ClassStats `json:"render"`
	Automation ClassStats `json:"automation"`
	YouTube    ClassStats `json:"youtube"`
	Webhook    ClassStats `json:"webhook"`
}

// StatsReader aggregates river's job table by queue and state. Waiting
// covers jobs not yet claimed (available, scheduled, retryable, pending);
// failed covers discarded jobs.
type StatsReader struct {
	pool *pgxpool.Pool
}

func NewStatsReader(pool *pgxpool.Pool) *StatsReader {
	return &StatsReader{pool: pool}
}

func (r *StatsReader) Read(ctx context.Context) (*Stats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT queue,
		       COUNT(*) FILTER (WHERE state IN ('available', 'scheduled', 'retryable', 'pending')),
		       COUNT(*) FILTER (WHERE state = 'running'),
		       COUNT(*) FILTER (WHERE state = 'completed'),
		       COUNT(*) FILTER (WHERE state = 'discarded')
		FROM river_job
		WHERE queue IN ($1, $2, $3, $4)
		GROUP BY queue
	`, QueueRender, QueueAutomation, QueueYouTube, QueueWebhook)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			name string
			cs   ClassStats
		)
		if err := rows.Scan(&name, &cs.Waiting, &cs.Active, &cs.Completed, &cs.Failed); err != nil {
			return nil, err
		}
		switch name {
		case QueueRender:
			stats.Render = cs
		case QueueAutomation:
			stats.Automation = cs
		case QueueYouTube:
			stats.YouTube = cs
		case QueueWebhook:
			stats.Webhook = cs
		}
	}
	return &stats, rows.Err()
}
