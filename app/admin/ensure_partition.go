package admin

import (
	"context"
	"fmt"

	"github.com/fillsync/ingestor/pkg/db"
)

// EnsurePartition creates the hl_fills_raw partition for the given calendar
// month, if it does not already exist. Partition provisioning is never
// automatic — this is the only path by which one comes into existence.
func (a *App) EnsurePartition(ctx context.Context, year, month int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("invalid month %d", month)
	}
	if err := db.EnsureMonthPartition(ctx, &a.DB, year, month); err != nil {
		return err
	}
	fmt.Printf("ensured partition for %04d-%02d\n", year, month)
	return nil
}
