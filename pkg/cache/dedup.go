// Package cache is a best-effort accelerator for the Scheduler's
// already-has-a-pending-job dedup check. It is never a correctness
// dependency: a nil Cache, a connection error, or a cache miss all fall
// back to the Job Store's own query, so a Redis outage degrades
// performance, not correctness.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pendingSetTTL = 30 * time.Second

// Cache wraps a Redis connection used only to track which wallet IDs the
// Scheduler enqueued an ingest_wallet job for on its last tick.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// New connects to addr. Returns (nil, nil) when addr is empty, the
// documented "disabled" state (SPEC's REDIS_ADDR default).
func New(ctx context.Context, addr string, logger *zap.Logger) (*Cache, error) {
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger.Info("scheduler dedup cache connected", zap.String("addr", addr))
	return &Cache{client: client, logger: logger}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func pendingSetKey(orgID string) string {
	return "fillsync:pending_ingest:" + orgID
}

// ReplacePending overwrites org's cached set of pending wallet IDs with
// walletIDs. The Scheduler calls it once per tick with the wallets that tick
// enqueued, so the set is not every wallet with a pending job; failures
// are logged, not returned, since a stale or missing cache only costs an
// extra query on the next tick.
func (c *Cache) ReplacePending(ctx context.Context, orgID string, walletIDs []int64) {
	if c == nil {
		return
	}
	key := pendingSetKey(orgID)

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(walletIDs) > 0 {
		members := make([]interface{}, len(walletIDs))
		for i, id := range walletIDs {
			members[i] = id
		}
		pipe.SAdd(ctx, key, members...)
	}
	pipe.Expire(ctx, key, pendingSetTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("dedup cache refresh failed", zap.String("org_id", orgID), zap.Error(err))
	}
}

// IsPending reports whether walletID is in the cached pending set. The
// second return value is false whenever the cache cannot answer (disabled,
// miss, or error) — callers must treat false,false as "don't know, ask the
// Job Store," not "not pending." The set holds only what ReplacePending last
// wrote, so a wallet absent from it may still have a pending job.
func (c *Cache) IsPending(ctx context.Context, orgID string, walletID int64) (pending bool, known bool) {
	if c == nil {
		return false, false
	}

	key := pendingSetKey(orgID)
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil || exists == 0 {
		return false, false
	}

	isMember, err := c.client.SIsMember(ctx, key, walletID).Result()
	if err != nil {
		return false, false
	}
	return isMember, true
}
