package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/fillsync/ingestor/pkg/rollup"
	"github.com/google/uuid"
)

// RollupGlobalDay implements the rollup_global_day handler: recomputes
// global_day_metrics for each day in the payload from wallet_day_metrics.
type RollupGlobalDay struct {
	GlobalDay *rollup.GlobalDayStore
}

func (h *RollupGlobalDay) Run(ctx context.Context, orgID uuid.UUID, days []string) error {
	for _, d := range days {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			return &ingesterr.ConstraintViolation{Cause: fmt.Errorf("invalid day %q: %w", d, err)}
		}
		if err := h.GlobalDay.Rebuild(ctx, orgID, day); err != nil {
			return err
		}
	}
	return nil
}
