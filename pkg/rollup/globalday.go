package rollup

import (
	"time"

	"context"

	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/google/uuid"
)

// GlobalDayStore recomputes global_day_metrics from wallet_day_metrics.
type GlobalDayStore struct {
	db *postgres.Client
}

func NewGlobalDayStore(db *postgres.Client) *GlobalDayStore {
	return &GlobalDayStore{db: db}
}

// Rebuild recomputes the global_day_metrics row for (org, day) by
// aggregating wallet_day_metrics for that day. dau counts only wallets with
// at least one trade that day; per-user averages are 0 when dau is 0 rather
// than a division error.
func (s *GlobalDayStore) Rebuild(ctx context.Context, orgID uuid.UUID, day time.Time) error {
	dayStart := day.UTC().Truncate(24 * time.Hour)

	err := s.db.Exec(ctx, `
		INSERT INTO global_day_metrics (org_id, day, dau, spot_volume_usd, perp_volume_usd,
			avg_spot_volume_per_user, avg_perp_volume_per_user, updated_at)
		SELECT
			$1, $2::date,
			COUNT(*) FILTER (WHERE trades_count > 0),
			COALESCE(SUM(spot_volume_usd), 0),
			COALESCE(SUM(perp_volume_usd), 0),
			CASE WHEN COUNT(*) FILTER (WHERE trades_count > 0) = 0 THEN 0
				ELSE COALESCE(SUM(spot_volume_usd), 0) / COUNT(*) FILTER (WHERE trades_count > 0) END,
			CASE WHEN COUNT(*) FILTER (WHERE trades_count > 0) = 0 THEN 0
				ELSE COALESCE(SUM(perp_volume_usd), 0) / COUNT(*) FILTER (WHERE trades_count > 0) END,
			now()
		FROM wallet_day_metrics
		WHERE org_id = $1 AND day = $2::date
		ON CONFLICT (org_id, day) DO UPDATE SET
			dau = EXCLUDED.dau,
			spot_volume_usd = EXCLUDED.spot_volume_usd,
			perp_volume_usd = EXCLUDED.perp_volume_usd,
			avg_spot_volume_per_user = EXCLUDED.avg_spot_volume_per_user,
			avg_perp_volume_per_user = EXCLUDED.avg_perp_volume_per_user,
			updated_at = now()`,
		orgID, dayStart)
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

// Delete removes the global_day_metrics row for (org, day).
func (s *GlobalDayStore) Delete(ctx context.Context, orgID uuid.UUID, day time.Time) error {
	err := s.db.Exec(ctx, `DELETE FROM global_day_metrics WHERE org_id = $1 AND day = $2::date`,
		orgID, day.UTC().Truncate(24*time.Hour))
	if err != nil {
		return classifyErr(err)
	}
	return nil
}
