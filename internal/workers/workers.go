// Package workers holds the per-class queue workers and the
// start/stop pair the process owner drives them with.
package workers

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// Running is the set of started worker machinery. It is returned by
// Start, owned by the caller, and handed back to Stop; nothing here is
// mutated from the outside after startup.
type Running struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start launches job fetching and working on the given client and
// returns the running set.
func Start(ctx context.Context, client *river.Client[pgx.Tx], log *slog.Logger) (*Running, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("queue workers started")
	return &Running{client: client, log: log}, nil
}

// Stop drains in-flight jobs and shuts the workers down.
func Stop(ctx context.Context, r *Running) error {
	if r == nil {
		return nil
	}
	if err := r.client.Stop(ctx); err != nil {
		return err
	}
	r.log.Info("queue workers stopped")
	return nil
}
