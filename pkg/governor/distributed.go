package governor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// stateKey is the fixed key of the single rate_limit_state row every worker
// process shares.
const stateKey = "global"

// DistributedGovernor implements Governor over a single Postgres row locked
// with SELECT ... FOR UPDATE for the duration of each decision. The lock is
// always released (transaction committed) before any sleep, per the
// invariant that the row lock is never held across a wait.
type DistributedGovernor struct {
	db     *postgres.Client
	params Params
	logger *zap.Logger
}

// NewDistributed builds a DistributedGovernor over db using params.
func NewDistributed(db *postgres.Client, params Params, logger *zap.Logger) *DistributedGovernor {
	return &DistributedGovernor{db: db, params: params, logger: logger}
}

type bucketRow struct {
	tokens             float64
	lastRefill         time.Time
	requestsThisMinute int
	weightThisMinute   int
	minuteStart        time.Time
	isRateLimited      bool
	rateLimitedUntil   *time.Time
}

func (g *DistributedGovernor) readAndRefill(ctx context.Context, tx pgx.Tx, now time.Time) (bucketRow, error) {
	var row bucketRow
	err := tx.QueryRow(ctx, `
		SELECT tokens, last_refill, requests_this_minute, weight_this_minute,
		       minute_start, is_rate_limited, rate_limited_until
		FROM rate_limit_state WHERE key = $1 FOR UPDATE`, stateKey).
		Scan(&row.tokens, &row.lastRefill, &row.requestsThisMinute, &row.weightThisMinute,
			&row.minuteStart, &row.isRateLimited, &row.rateLimitedUntil)
	if err != nil {
		return bucketRow{}, fmt.Errorf("read rate_limit_state: %w", err)
	}

	elapsed := now.Sub(row.lastRefill).Seconds()
	if elapsed > 0 {
		row.tokens = math.Min(g.params.MaxTokens, row.tokens+elapsed*g.params.RefillRate)
	}
	row.lastRefill = now

	if now.Sub(row.minuteStart) >= minuteWindow {
		row.requestsThisMinute = 0
		row.weightThisMinute = 0
		row.minuteStart = now
	}

	return row, nil
}

func (g *DistributedGovernor) persist(ctx context.Context, tx pgx.Tx, row bucketRow) error {
	_, err := tx.Exec(ctx, `
		UPDATE rate_limit_state SET
			tokens = $1, last_refill = $2, requests_this_minute = $3,
			weight_this_minute = $4, minute_start = $5, is_rate_limited = $6,
			rate_limited_until = $7
		WHERE key = $8`,
		row.tokens, row.lastRefill, row.requestsThisMinute, row.weightThisMinute,
		row.minuteStart, row.isRateLimited, row.rateLimitedUntil, stateKey)
	if err != nil {
		return fmt.Errorf("persist rate_limit_state: %w", err)
	}
	return nil
}

// Acquire blocks until cost tokens are available, deducts them, and returns
// total accumulated wait. It is a loop of short transactions, never a single
// long-held lock: each iteration reads, decides, commits, and only then
// sleeps if it must.
func (g *DistributedGovernor) Acquire(ctx context.Context, cost int) (time.Duration, error) {
	var waited time.Duration

	for {
		var sleepFor time.Duration
		acquired := false

		err := g.db.BeginFunc(ctx, func(tx pgx.Tx) error {
			now := time.Now()
			row, err := g.readAndRefill(ctx, tx, now)
			if err != nil {
				return err
			}

			if row.isRateLimited && row.rateLimitedUntil != nil && row.rateLimitedUntil.After(now) {
				sleepFor = row.rateLimitedUntil.Sub(now)
				return g.persist(ctx, tx, row)
			}
			if row.isRateLimited {
				row.isRateLimited = false
				row.rateLimitedUntil = nil
			}

			if row.tokens >= float64(cost) {
				row.tokens -= float64(cost)
				row.requestsThisMinute++
				row.weightThisMinute += cost
				acquired = true
				return g.persist(ctx, tx, row)
			}

			wait := math.Ceil((float64(cost) - row.tokens) / g.params.RefillRate)
			sleepFor = time.Duration(wait) * time.Second
			return g.persist(ctx, tx, row)
		})
		if err != nil {
			return waited, err
		}

		if acquired {
			return waited, nil
		}

		select {
		case <-ctx.Done():
			return waited, ctx.Err()
		case <-time.After(sleepFor):
		}
		waited += sleepFor
	}
}

// TryAcquire is never supported in distributed mode: a non-blocking
// acquisition cannot be made atomic across worker processes without the same
// round trip Acquire already pays for, so it always reports false.
func (g *DistributedGovernor) TryAcquire(ctx context.Context, cost int) (bool, error) {
	return false, nil
}

// ReportRateLimited drains the bucket and blocks further Acquire calls for
// rateLimitedCooldown.
func (g *DistributedGovernor) ReportRateLimited(ctx context.Context) error {
	return g.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		now := time.Now()
		row, err := g.readAndRefill(ctx, tx, now)
		if err != nil {
			return err
		}
		row.tokens = 0
		row.isRateLimited = true
		until := now.Add(rateLimitedCooldown)
		row.rateLimitedUntil = &until
		return g.persist(ctx, tx, row)
	})
}

// AdjustForResponse debits the difference between the upstream's actual
// response weight and the cost already charged for the call that produced
// it, from both the token bucket and the minute weight counter.
func (g *DistributedGovernor) AdjustForResponse(ctx context.Context, itemsReturned int) error {
	return g.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		now := time.Now()
		row, err := g.readAndRefill(ctx, tx, now)
		if err != nil {
			return err
		}

		diff := responseWeight(itemsReturned) - g.params.DefaultCost
		if diff < 0 {
			diff = 0
		}
		if diff == 0 {
			return g.persist(ctx, tx, row)
		}

		row.tokens = math.Max(0, row.tokens-float64(diff))
		row.weightThisMinute += diff
		return g.persist(ctx, tx, row)
	})
}

// AvailableRequests estimates how many cost-sized Acquire calls could
// succeed right now, without mutating any state.
func (g *DistributedGovernor) AvailableRequests(ctx context.Context, cost int) (int, error) {
	var available int
	err := g.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		now := time.Now()
		row, err := g.readAndRefill(ctx, tx, now)
		if err != nil {
			return err
		}
		if row.isRateLimited && row.rateLimitedUntil != nil && row.rateLimitedUntil.After(now) {
			available = 0
			return nil
		}
		if cost <= 0 {
			available = 0
			return nil
		}
		available = int(row.tokens) / cost
		return nil
	})
	if err != nil {
		return 0, err
	}
	return available, nil
}
