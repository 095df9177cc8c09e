// Package db owns the schema every other package's SQL assumes exists.
// EnsureSchema is idempotent and deliberately does not create hl_fills_raw's
// monthly partitions — partition provisioning is an explicit admin action
// (cmd/admin ensure-partition), never automatic, so a missing partition
// surfaces as a clear operator-facing error instead of silently growing an
// unbounded default partition.
package db

import (
	"context"
	"fmt"

	"github.com/fillsync/ingestor/pkg/db/postgres"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS wallets (
	wallet_id   BIGINT PRIMARY KEY,
	address     TEXT NOT NULL UNIQUE,
	is_active   BOOLEAN NOT NULL DEFAULT true,
	label       TEXT
);

CREATE TABLE IF NOT EXISTS org_wallets (
	org_id     UUID NOT NULL,
	wallet_id  BIGINT NOT NULL REFERENCES wallets(wallet_id) ON DELETE CASCADE,
	added_by   TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (org_id, wallet_id)
);

CREATE TABLE IF NOT EXISTS hl_ingest_cursor (
	org_id          UUID NOT NULL,
	wallet_id       BIGINT NOT NULL REFERENCES wallets(wallet_id) ON DELETE CASCADE,
	cursor_ts       TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	last_success_at TIMESTAMPTZ,
	status          TEXT NOT NULL DEFAULT 'ok' CHECK (status IN ('ok', 'error')),
	error_count     INT NOT NULL DEFAULT 0 CHECK (error_count >= 0),
	next_run_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (org_id, wallet_id)
);

CREATE TABLE IF NOT EXISTS jobs (
	id               BIGSERIAL PRIMARY KEY,
	org_id           UUID NOT NULL,
	type             TEXT NOT NULL CHECK (type IN ('ingest_wallet', 'rollup_wallet_day', 'rollup_global_day')),
	payload          JSONB NOT NULL,
	run_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	status           TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued', 'running', 'succeeded', 'failed', 'canceled')),
	attempts         INT NOT NULL DEFAULT 0,
	max_attempts     INT NOT NULL DEFAULT 10,
	locked_by        TEXT,
	locked_at        TIMESTAMPTZ,
	lock_expires_at  TIMESTAMPTZ,
	last_error       TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_claimable ON jobs (run_at) WHERE status IN ('queued', 'running');
CREATE INDEX IF NOT EXISTS idx_jobs_org_type_status ON jobs (org_id, type, status);

CREATE TABLE IF NOT EXISTS rate_limit_state (
	key                   TEXT PRIMARY KEY,
	tokens                DOUBLE PRECISION NOT NULL,
	last_refill           TIMESTAMPTZ NOT NULL,
	requests_this_minute  INT NOT NULL DEFAULT 0,
	weight_this_minute    INT NOT NULL DEFAULT 0,
	minute_start          TIMESTAMPTZ NOT NULL,
	is_rate_limited       BOOLEAN NOT NULL DEFAULT false,
	rate_limited_until    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS hl_fills_raw (
	org_id    UUID NOT NULL,
	wallet_id BIGINT NOT NULL REFERENCES wallets(wallet_id) ON DELETE CASCADE,
	fill_id   TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	coin      TEXT NOT NULL,
	side      CHAR(1) NOT NULL CHECK (side IN ('A', 'B')),
	px        NUMERIC NOT NULL,
	sz        NUMERIC NOT NULL,
	is_spot   BOOLEAN NOT NULL,
	is_perp   BOOLEAN NOT NULL,
	CHECK (is_spot != is_perp),
	PRIMARY KEY (org_id, wallet_id, fill_id, ts)
) PARTITION BY RANGE (ts);

CREATE TABLE IF NOT EXISTS wallet_day_metrics (
	org_id          UUID NOT NULL,
	wallet_id       BIGINT NOT NULL REFERENCES wallets(wallet_id) ON DELETE CASCADE,
	day             DATE NOT NULL,
	spot_volume_usd NUMERIC NOT NULL DEFAULT 0,
	perp_volume_usd NUMERIC NOT NULL DEFAULT 0,
	trades_count    INT NOT NULL DEFAULT 0,
	last_trade_ts   TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (org_id, wallet_id, day)
);

CREATE TABLE IF NOT EXISTS global_day_metrics (
	org_id                    UUID NOT NULL,
	day                       DATE NOT NULL,
	dau                       INT NOT NULL DEFAULT 0,
	spot_volume_usd           NUMERIC NOT NULL DEFAULT 0,
	perp_volume_usd           NUMERIC NOT NULL DEFAULT 0,
	avg_spot_volume_per_user  NUMERIC NOT NULL DEFAULT 0,
	avg_perp_volume_per_user  NUMERIC NOT NULL DEFAULT 0,
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (org_id, day)
);
`

// EnsureSchema creates every table this module needs, except hl_fills_raw's
// monthly partitions, and seeds the single rate_limit_state row.
func EnsureSchema(ctx context.Context, db *postgres.Client) error {
	if err := db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	err := db.Exec(ctx, `
		INSERT INTO rate_limit_state (key, tokens, last_refill, minute_start)
		VALUES ('global', 100, now(), now())
		ON CONFLICT (key) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("seed rate_limit_state: %w", err)
	}
	return nil
}

// EnsureMonthPartition creates the hl_fills_raw partition covering the
// given calendar month (month 1-12 of year), if it does not already exist. This is the
// only supported way a partition comes into existence; no code path creates
// one implicitly on insert failure.
func EnsureMonthPartition(ctx context.Context, db *postgres.Client, year int, month int) error {
	name := fmt.Sprintf("hl_fills_raw_%04d_%02d", year, month)
	from := fmt.Sprintf("%04d-%02d-01", year, month)

	nextYear, nextMonth := year, month+1
	if nextMonth > 12 {
		nextYear++
		nextMonth = 1
	}
	to := fmt.Sprintf("%04d-%02d-01", nextYear, nextMonth)

	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF hl_fills_raw FOR VALUES FROM ('%s') TO ('%s')`,
		postgres.SanitizeIdentifier(name), from, to)

	if err := db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	return nil
}
