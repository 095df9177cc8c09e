package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Recover manually invokes RecoverStuck once. Normal operation is
// self-healing — Claim already reclaims expired leases — so this exists
// purely for an operator who wants an immediate, out-of-band sweep.
func (a *App) Recover(ctx context.Context, orgID uuid.UUID) error {
	n, err := a.Jobs.RecoverStuck(ctx, orgID)
	if err != nil {
		return fmt.Errorf("recover stuck jobs: %w", err)
	}
	fmt.Printf("recovered %d abandoned job(s) for org %s\n", n, orgID)
	return nil
}
