// Package schema applies the application tables at startup. Statements
// are idempotent; the queue backend's own tables are migrated separately
// by rivermigrate.
package schema

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS accounts (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	org_id        UUID NOT NULL DEFAULT gen_random_uuid(),
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	plan_tier     TEXT NOT NULL DEFAULT 'free',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id           UUID PRIMARY KEY,
	user_id      UUID NOT NULL,
	org_id       UUID NOT NULL,
	name         TEXT NOT NULL,
	key_hash     TEXT NOT NULL UNIQUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS credit_balances (
	user_id            UUID NOT NULL,
	org_id             UUID NOT NULL,
	available          INTEGER NOT NULL DEFAULT 0 CHECK (available >= 0),
	pending_deductions INTEGER NOT NULL DEFAULT 0,
	total_lifetime     INTEGER NOT NULL DEFAULT 0,
	plan_tier          TEXT NOT NULL DEFAULT 'free',
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, org_id)
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id            UUID PRIMARY KEY,
	user_id       UUID NOT NULL,
	org_id        UUID NOT NULL,
	tx_type       TEXT NOT NULL,
	amount        INTEGER NOT NULL,
	balance_after INTEGER NOT NULL,
	status        TEXT NOT NULL,
	job_id        TEXT,
	job_class     TEXT,
	reason        TEXT,
	ref_tx_id     UUID,
	description   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS credit_transactions_user_idx
	ON credit_transactions (user_id, org_id, created_at DESC);

CREATE TABLE IF NOT EXISTS render_jobs (
	id               TEXT PRIMARY KEY,
	project_id       UUID NOT NULL,
	org_id           UUID NOT NULL,
	user_id          UUID NOT NULL,
	input            JSONB NOT NULL,
	engine           TEXT NOT NULL,
	priority         TEXT NOT NULL DEFAULT 'normal',
	webhook_url      TEXT NOT NULL DEFAULT '',
	credit_tx_id     UUID,
	credits_deducted INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	error            JSONB,
	output_url       TEXT,
	river_job_id     BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS render_jobs_project_idx
	ON render_jobs (project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS automations (
	id         UUID PRIMARY KEY,
	project_id UUID NOT NULL,
	org_id     UUID NOT NULL,
	user_id    UUID NOT NULL,
	name       TEXT NOT NULL,
	trigger    JSONB NOT NULL,
	enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS automation_runs (
	run_id        TEXT PRIMARY KEY,
	automation_id UUID NOT NULL,
	project_id    UUID NOT NULL,
	org_id        UUID NOT NULL,
	user_id       UUID NOT NULL,
	trigger_data  JSONB,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS automation_runs_automation_idx
	ON automation_runs (automation_id, started_at DESC);

CREATE TABLE IF NOT EXISTS webhook_endpoints (
	id         UUID PRIMARY KEY,
	project_id UUID NOT NULL,
	url        TEXT NOT NULL,
	secret     TEXT NOT NULL,
	events     TEXT[] NOT NULL DEFAULT '{}',
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS webhook_endpoints_project_idx
	ON webhook_endpoints (project_id);

CREATE TABLE IF NOT EXISTS dead_letters (
	id             UUID PRIMARY KEY,
	job_id         TEXT NOT NULL,
	queue          TEXT NOT NULL,
	error_code     TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT '',
	payload        JSONB,
	refund_pending BOOLEAN NOT NULL DEFAULT FALSE,
	replayed_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Apply creates any missing application tables.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, ddl)
	return err
}
