package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Monitor reports job counts by status for org, plus the count of running
// jobs whose lease has already expired.
func (a *App) Monitor(ctx context.Context, orgID uuid.UUID) error {
	counts, expired, err := a.Jobs.CountByStatus(ctx, orgID)
	if err != nil {
		return fmt.Errorf("count jobs by status: %w", err)
	}

	fmt.Printf("jobs for org %s:\n", orgID)
	for status, n := range counts {
		fmt.Printf("  %-10s %d\n", status, n)
	}
	fmt.Printf("  running jobs with expired lease: %d\n", expired)
	return nil
}
