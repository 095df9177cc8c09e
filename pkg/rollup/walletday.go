// Package rollup implements the two-stage derived-metrics pipeline:
// rollup_wallet_day aggregates raw fills into one row per wallet per day,
// rollup_global_day aggregates wallet-day rows into one row per org per day.
// Both are pure functions of their inputs — re-running either for the same
// (org, day) is byte-identical modulo updated_at.
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/google/uuid"
)

// WalletDayStore recomputes wallet_day_metrics from hl_fills_raw.
type WalletDayStore struct {
	db *postgres.Client
}

func NewWalletDayStore(db *postgres.Client) *WalletDayStore {
	return &WalletDayStore{db: db}
}

// Rebuild recomputes the wallet_day_metrics row for (org, wallet, day) from
// scratch by aggregating hl_fills_raw in [day, day+1). A day with zero
// matching fills writes a zeroed row rather than leaving a stale one.
func (s *WalletDayStore) Rebuild(ctx context.Context, orgID uuid.UUID, walletID int64, day time.Time) error {
	dayStart := day.UTC().Truncate(24 * time.Hour)

	err := s.db.Exec(ctx, `
		INSERT INTO wallet_day_metrics (org_id, wallet_id, day, spot_volume_usd, perp_volume_usd, trades_count, last_trade_ts, updated_at)
		SELECT
			$1, $2, $3::date,
			COALESCE(SUM(px * sz) FILTER (WHERE is_spot), 0),
			COALESCE(SUM(px * sz) FILTER (WHERE is_perp), 0),
			COUNT(*),
			MAX(ts),
			now()
		FROM hl_fills_raw
		WHERE org_id = $1 AND wallet_id = $2 AND ts >= $3 AND ts < $3::timestamptz + interval '1 day'
		ON CONFLICT (org_id, wallet_id, day) DO UPDATE SET
			spot_volume_usd = EXCLUDED.spot_volume_usd,
			perp_volume_usd = EXCLUDED.perp_volume_usd,
			trades_count = EXCLUDED.trades_count,
			last_trade_ts = EXCLUDED.last_trade_ts,
			updated_at = now()`,
		orgID, walletID, dayStart)
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

// Delete removes the wallet_day_metrics row for (org, wallet, day), used by
// the rebuild admin command before re-enqueueing.
func (s *WalletDayStore) Delete(ctx context.Context, orgID uuid.UUID, walletID int64, day time.Time) error {
	err := s.db.Exec(ctx, `
		DELETE FROM wallet_day_metrics WHERE org_id = $1 AND wallet_id = $2 AND day = $3::date`,
		orgID, walletID, day.UTC().Truncate(24*time.Hour))
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if postgres.IsCheckViolation(err) {
		return &ingesterr.ConstraintViolation{Cause: err}
	}
	return &ingesterr.DatabaseTransient{Cause: fmt.Errorf("rollup: %w", err)}
}
