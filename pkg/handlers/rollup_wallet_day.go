package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/fillsync/ingestor/pkg/rollup"
	"github.com/google/uuid"
)

// RollupWalletDay implements the rollup_wallet_day handler: recomputes
// wallet_day_metrics for each day in the payload, then enqueues
// rollup_global_day for the same org and days.
type RollupWalletDay struct {
	WalletDay *rollup.WalletDayStore
	Jobs      *jobstore.Store
}

// Run recomputes every day in the payload inside the handler's own scope;
// a malformed date string is a ConstraintViolation, since no retry fixes it.
func (h *RollupWalletDay) Run(ctx context.Context, orgID uuid.UUID, walletID int64, days []string) error {
	for _, d := range days {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			return &ingesterr.ConstraintViolation{Cause: fmt.Errorf("invalid day %q: %w", d, err)}
		}
		if err := h.WalletDay.Rebuild(ctx, orgID, walletID, day); err != nil {
			return err
		}
	}

	_, err := h.Jobs.Enqueue(ctx, orgID, jobstore.JobTypeRollupGlobalDay, jobstore.RollupGlobalDayPayload{
		Days: days,
	}, time.Time{})
	return err
}
