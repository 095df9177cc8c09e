package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/google/uuid"
)

// Rebuild deletes the named derived rows for the given wallet (or every
// wallet linked to org, when walletID is nil) and days, then re-enqueues
// the rollup chain — exercising the determinism law as an operator tool
// rather than only as a test.
func (a *App) Rebuild(ctx context.Context, orgID uuid.UUID, walletID *int64, days []string) error {
	walletIDs := []int64{}
	if walletID != nil {
		walletIDs = append(walletIDs, *walletID)
	} else {
		rows, err := a.DB.Query(ctx, `SELECT wallet_id FROM org_wallets WHERE org_id = $1`, orgID)
		if err != nil {
			return fmt.Errorf("list org wallets: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan wallet id: %w", err)
			}
			walletIDs = append(walletIDs, id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list org wallets: %w", err)
		}
	}

	for _, id := range walletIDs {
		for _, d := range days {
			day, err := time.Parse("2006-01-02", d)
			if err != nil {
				return fmt.Errorf("invalid day %q: %w", d, err)
			}
			if err := a.WalletDay.Delete(ctx, orgID, id, day); err != nil {
				return fmt.Errorf("delete wallet_day_metrics for wallet %d day %s: %w", id, d, err)
			}
		}
		if _, err := a.Jobs.Enqueue(ctx, orgID, jobstore.JobTypeRollupWalletDay, jobstore.RollupWalletDayPayload{
			WalletID: id,
			Days:     days,
		}, time.Time{}); err != nil {
			return fmt.Errorf("enqueue rollup_wallet_day for wallet %d: %w", id, err)
		}
	}

	for _, d := range days {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			return fmt.Errorf("invalid day %q: %w", d, err)
		}
		if err := a.GlobalDay.Delete(ctx, orgID, day); err != nil {
			return fmt.Errorf("delete global_day_metrics for day %s: %w", d, err)
		}
	}

	fmt.Printf("rebuild scheduled for %d wallet(s), %d day(s)\n", len(walletIDs), len(days))
	return nil
}
