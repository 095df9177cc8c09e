// Package governor implements the shared token-bucket rate limiter that
// every upstream call passes through before it is allowed to run. Two
// implementations share the Governor interface: DistributedGovernor, backed
// by a single locked Postgres row so every worker process observes the same
// bucket, and LocalGovernor, an in-memory fallback for single-worker
// deployments.
package governor

import (
	"context"
	"time"
)

// Governor is the shared rate limiter contract. Implementations must make
// Acquire atomic across every caller that shares the same backing state —
// across processes for DistributedGovernor, across goroutines for
// LocalGovernor.
type Governor interface {
	// Acquire blocks until cost tokens are available, deducts them, and
	// returns how long the caller waited.
	Acquire(ctx context.Context, cost int) (time.Duration, error)

	// TryAcquire deducts cost tokens without blocking if they are
	// immediately available. Distributed implementations always return
	// false, per the contract that non-blocking acquisition is never
	// supported once more than one worker may be running.
	TryAcquire(ctx context.Context, cost int) (bool, error)

	// ReportRateLimited records that the upstream rejected the last
	// request for being rate limited: it drains the bucket and blocks
	// further Acquire calls for 10 seconds.
	ReportRateLimited(ctx context.Context) error

	// AdjustForResponse debits the difference between the upstream's
	// actual response weight and the cost already charged when the
	// request was admitted.
	AdjustForResponse(ctx context.Context, itemsReturned int) error

	// AvailableRequests estimates, without mutating state, how many
	// cost-sized Acquire calls could succeed right now.
	AvailableRequests(ctx context.Context, cost int) (int, error)
}

// Params parameterizes the token bucket. Defaults are calibrated to the
// upstream's 1200-weight-per-minute ceiling with roughly 33% headroom.
type Params struct {
	MaxTokens   float64
	RefillRate  float64 // tokens per second
	DefaultCost int
}

// DefaultParams returns the calibrated production bucket parameters.
func DefaultParams() Params {
	return Params{
		MaxTokens:   100,
		RefillRate:  0.67,
		DefaultCost: 20,
	}
}

const rateLimitedCooldown = 10 * time.Second
const minuteWindow = 60 * time.Second

// responseWeight models the upstream's response-weighted pricing: a request
// returning itemsReturned fills costs max(0, 20 + floor(items/20)).
func responseWeight(itemsReturned int) int {
	w := 20 + itemsReturned/20
	if w < 0 {
		return 0
	}
	return w
}
