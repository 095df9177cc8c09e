package governor

import (
	"context"
	"math"
	"sync"
	"time"
)

// LocalGovernor implements Governor over in-process state guarded by a
// mutex, for the single-worker deployment mode where no other process can
// race it for the bucket. It is never correct to use when more than one
// worker process may be running against the same organization.
type LocalGovernor struct {
	params Params

	mu                 sync.Mutex
	tokens             float64
	lastRefill         time.Time
	requestsThisMinute int
	weightThisMinute   int
	minuteStart        time.Time
	isRateLimited      bool
	rateLimitedUntil   time.Time
}

// NewLocal builds a LocalGovernor starting with a full bucket.
func NewLocal(params Params) *LocalGovernor {
	now := time.Now()
	return &LocalGovernor{
		params:      params,
		tokens:      params.MaxTokens,
		lastRefill:  now,
		minuteStart: now,
	}
}

func (g *LocalGovernor) refillLocked(now time.Time) {
	elapsed := now.Sub(g.lastRefill).Seconds()
	if elapsed > 0 {
		g.tokens = math.Min(g.params.MaxTokens, g.tokens+elapsed*g.params.RefillRate)
	}
	g.lastRefill = now

	if now.Sub(g.minuteStart) >= minuteWindow {
		g.requestsThisMinute = 0
		g.weightThisMinute = 0
		g.minuteStart = now
	}
}

// Acquire blocks until cost tokens are available and deducts them.
func (g *LocalGovernor) Acquire(ctx context.Context, cost int) (time.Duration, error) {
	var waited time.Duration

	for {
		g.mu.Lock()
		now := time.Now()
		g.refillLocked(now)

		if g.isRateLimited && g.rateLimitedUntil.After(now) {
			sleepFor := g.rateLimitedUntil.Sub(now)
			g.mu.Unlock()
			select {
			case <-ctx.Done():
				return waited, ctx.Err()
			case <-time.After(sleepFor):
			}
			waited += sleepFor
			continue
		}
		if g.isRateLimited {
			g.isRateLimited = false
		}

		if g.tokens >= float64(cost) {
			g.tokens -= float64(cost)
			g.requestsThisMinute++
			g.weightThisMinute += cost
			g.mu.Unlock()
			return waited, nil
		}

		wait := math.Ceil((float64(cost) - g.tokens) / g.params.RefillRate)
		g.mu.Unlock()

		sleepFor := time.Duration(wait) * time.Second
		select {
		case <-ctx.Done():
			return waited, ctx.Err()
		case <-time.After(sleepFor):
		}
		waited += sleepFor
	}
}

// TryAcquire deducts cost tokens immediately if available, without blocking.
func (g *LocalGovernor) TryAcquire(ctx context.Context, cost int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.refillLocked(now)

	if g.isRateLimited && g.rateLimitedUntil.After(now) {
		return false, nil
	}
	if g.tokens < float64(cost) {
		return false, nil
	}

	g.tokens -= float64(cost)
	g.requestsThisMinute++
	g.weightThisMinute += cost
	return true, nil
}

// ReportRateLimited drains the bucket and blocks further Acquire calls for
// rateLimitedCooldown.
func (g *LocalGovernor) ReportRateLimited(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tokens = 0
	g.isRateLimited = true
	g.rateLimitedUntil = time.Now().Add(rateLimitedCooldown)
	return nil
}

// AdjustForResponse debits the difference between the upstream's actual
// response weight and the cost already charged.
func (g *LocalGovernor) AdjustForResponse(ctx context.Context, itemsReturned int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.refillLocked(now)

	diff := responseWeight(itemsReturned) - g.params.DefaultCost
	if diff <= 0 {
		return nil
	}

	g.tokens = math.Max(0, g.tokens-float64(diff))
	g.weightThisMinute += diff
	return nil
}

// AvailableRequests estimates how many cost-sized Acquire calls could
// succeed right now.
func (g *LocalGovernor) AvailableRequests(ctx context.Context, cost int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.refillLocked(now)

	if g.isRateLimited && g.rateLimitedUntil.After(now) {
		return 0, nil
	}
	if cost <= 0 {
		return 0, nil
	}
	return int(g.tokens) / cost, nil
}
