package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/google/uuid"
)

// Backfill resets a wallet's cursor to epoch and re-enqueues ingest_wallet,
// exercising the round-trip law that cancelling a wallet's pending jobs and
// re-registering it reproduces the full historical dataset.
func (a *App) Backfill(ctx context.Context, orgID uuid.UUID, walletID int64, address string) error {
	err := a.DB.Exec(ctx, `
		UPDATE hl_ingest_cursor SET cursor_ts = 'epoch', error_count = 0, status = 'ok', next_run_at = now()
		WHERE org_id = $1 AND wallet_id = $2`, orgID, walletID)
	if err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}

	id, err := a.Jobs.Enqueue(ctx, orgID, jobstore.JobTypeIngestWallet, jobstore.IngestWalletPayload{
		WalletID: walletID,
		Address:  address,
	}, time.Time{})
	if err != nil {
		return fmt.Errorf("enqueue backfill job: %w", err)
	}

	fmt.Printf("enqueued backfill ingest_wallet job %d for wallet %d\n", id, walletID)
	return nil
}
