// Package scheduler implements the periodic tick that creates new
// ingest_wallet jobs: classify every active wallet by recency, select up to
// maxJobsPerRun due wallets ordered hot-to-cold, and enqueue only as many as
// the Governor has capacity for.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/fillsync/ingestor/pkg/cache"
	"github.com/fillsync/ingestor/pkg/cursor"
	"github.com/fillsync/ingestor/pkg/governor"
	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/fillsync/ingestor/pkg/wallet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultMaxJobsPerRun = 50

// Scheduler runs one Tick per org per cron invocation.
type Scheduler struct {
	Wallets       *wallet.Store
	Cursors       *cursor.Store
	Jobs          *jobstore.Store
	Governor      governor.Governor
	Cache         *cache.Cache
	Logger        *zap.Logger
	MaxJobsPerRun int
}

type candidate struct {
	wallet.OrgWallet
	class     cursor.Class
	nextRunAt time.Time
}

// Tick runs one scheduling pass for org.
func (s *Scheduler) Tick(ctx context.Context, orgID uuid.UUID) error {
	maxJobs := s.MaxJobsPerRun
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobsPerRun
	}

	capacity, err := s.Governor.AvailableRequests(ctx, governor.DefaultParams().DefaultCost)
	if err != nil {
		return err
	}
	if capacity == 0 {
		s.Logger.Debug("scheduler tick skipped, no governor capacity", zap.String("org_id", orgID.String()))
		return nil
	}
	if capacity < maxJobs {
		maxJobs = capacity
	}

	wallets, err := s.Wallets.ListActiveForScheduling(ctx, orgID)
	if err != nil {
		return err
	}

	now := time.Now()
	candidates, err := s.dueCandidates(ctx, orgID, wallets, now)
	if err != nil {
		return err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].class != candidates[j].class {
			return candidates[i].class > candidates[j].class // Hot(2) > Warm(1) > Cold(0)
		}
		return candidates[i].nextRunAt.Before(candidates[j].nextRunAt)
	})

	var scheduled, skipped int
	queued := make([]int64, 0, len(candidates))

	for _, c := range candidates {
		if scheduled >= maxJobs {
			break
		}

		pending, known := false, false
		if s.Cache != nil {
			pending, known = s.Cache.IsPending(ctx, orgID.String(), c.WalletID)
		}
		// The cache holds only the wallets enqueued on the previous tick, so
		// only a positive answer skips the Job Store's dedup query.
		if !known || !pending {
			pending, err = s.hasPendingJob(ctx, orgID, c.WalletID)
			if err != nil {
				return err
			}
		}
		if pending {
			skipped++
			continue
		}

		_, err = s.Jobs.Enqueue(ctx, orgID, jobstore.JobTypeIngestWallet, jobstore.IngestWalletPayload{
			WalletID: c.WalletID,
			Address:  c.Address,
		}, time.Time{})
		if err != nil {
			return err
		}
		scheduled++
		queued = append(queued, c.WalletID)
	}

	if s.Cache != nil {
		s.Cache.ReplacePending(ctx, orgID.String(), queued)
	}

	s.Logger.Info("scheduler tick complete",
		zap.String("org_id", orgID.String()),
		zap.Int("scheduled", scheduled),
		zap.Int("skipped", skipped))
	return nil
}

func (s *Scheduler) dueCandidates(ctx context.Context, orgID uuid.UUID, wallets []wallet.OrgWallet, now time.Time) ([]candidate, error) {
	out := make([]candidate, 0, len(wallets))
	for _, w := range wallets {
		cur, err := s.Cursors.Get(ctx, orgID, w.WalletID)
		if err != nil {
			return nil, err
		}
		if cur.NextRunAt.After(now) {
			continue
		}
		out = append(out, candidate{
			OrgWallet: w,
			class:     cursor.Classify(w.LastTradeTs, now),
			nextRunAt: cur.NextRunAt,
		})
	}
	return out, nil
}

func (s *Scheduler) hasPendingJob(ctx context.Context, orgID uuid.UUID, walletID int64) (bool, error) {
	return s.Jobs.HasPendingIngestJob(ctx, orgID, walletID)
}
