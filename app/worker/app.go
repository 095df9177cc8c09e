// Package worker hosts the long-running process that claims jobs and
// dispatches them to the handler registry via a bounded goroutine pool.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/fillsync/ingestor/pkg/config"
	"github.com/fillsync/ingestor/pkg/cursor"
	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/fills"
	"github.com/fillsync/ingestor/pkg/governor"
	"github.com/fillsync/ingestor/pkg/handlers"
	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/fillsync/ingestor/pkg/rollup"
	"github.com/fillsync/ingestor/pkg/upstream"
	"github.com/fillsync/ingestor/pkg/wallet"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

const claimPollInterval = 2 * time.Second

// App hosts the claim loop and the pond pool that runs claimed jobs.
type App struct {
	DB       postgres.Client
	Jobs     *jobstore.Store
	Registry *handlers.Registry
	Pool     pond.Pool
	Cfg      config.Config
	Logger   *zap.Logger

	// inFlight guards against a worker process resubmitting a job it has
	// already dispatched to the pool but not yet completed, distinct from
	// the cross-process lease the Job Store already enforces.
	inFlight *xsync.Map[int64, struct{}]
}

// Initialize connects to Postgres and assembles the handler registry.
func Initialize(ctx context.Context, logger *zap.Logger, cfg config.Config) (*App, error) {
	db, err := postgres.New(ctx, logger, postgres.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	var gov governor.Governor
	if cfg.UseDistributedGovernor {
		gov = governor.NewDistributed(&db, governor.DefaultParams(), logger)
	} else {
		gov = governor.NewLocal(governor.DefaultParams())
	}

	jobs := jobstore.New(&db, logger)
	cursors := cursor.New(&db)
	fillsStore := fills.New(&db)
	walletDay := rollup.NewWalletDayStore(&db)
	globalDay := rollup.NewGlobalDayStore(&db)
	wallets := wallet.New(&db, jobs, cursors)
	upstreamClient := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamTimeout)

	registry := &handlers.Registry{
		IngestWallet: &handlers.IngestWallet{
			Governor: gov,
			Cursors:  cursors,
			Fills:    fillsStore,
			Upstream: upstreamClient,
			Jobs:     jobs,
			Wallets:  wallets,
			Logger:   logger,
		},
		RollupWalletDay: &handlers.RollupWalletDay{WalletDay: walletDay, Jobs: jobs},
		RollupGlobalDay: &handlers.RollupGlobalDay{GlobalDay: globalDay},
	}

	pool := pond.NewPool(cfg.WorkerConcurrency, pond.WithQueueSize(cfg.WorkerConcurrency*4))

	return &App{
		DB:       db,
		Jobs:     jobs,
		Registry: registry,
		Pool:     pool,
		Cfg:      cfg,
		Logger:   logger,
		inFlight: xsync.NewMap[int64, struct{}](),
	}, nil
}

// Run recovers abandoned leases once, then polls Claim on a fixed interval
// until ctx is canceled, submitting each claimed job to the pool.
func (a *App) Run(ctx context.Context) {
	if recovered, err := a.Jobs.RecoverStuck(ctx, a.Cfg.OrgID); err != nil {
		a.Logger.Warn("recover stuck jobs at startup failed", zap.Error(err))
	} else if recovered > 0 {
		a.Logger.Info("recovered abandoned jobs at startup", zap.Int64("count", recovered))
	}

	ticker := time.NewTicker(claimPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Logger.Info("worker shutting down, draining pool")
			a.Pool.StopAndWait()
			return
		case <-ticker.C:
			a.claimAndDispatch(ctx)
		}
	}
}

func (a *App) claimAndDispatch(ctx context.Context) {
	limit := a.Cfg.WorkerConcurrency

	jobs, err := a.Jobs.Claim(ctx, a.Cfg.OrgID, a.Cfg.WorkerID, limit, jobstore.DefaultLeaseSeconds)
	if err != nil {
		a.Logger.Error("claim failed", zap.Error(err))
		return
	}

	for _, job := range jobs {
		job := job
		if _, alreadyRunning := a.inFlight.LoadOrStore(job.ID, struct{}{}); alreadyRunning {
			continue
		}
		a.Pool.Submit(func() {
			defer a.inFlight.Delete(job.ID)
			a.runJob(ctx, job)
		})
	}
}

func (a *App) runJob(ctx context.Context, job jobstore.Job) {
	jobLogger := a.Logger.With(
		zap.Int64("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.String("org_id", job.OrgID.String()),
	)

	leaseCtx, cancel := context.WithTimeout(ctx, jobstore.DefaultLeaseSeconds*time.Second)
	defer cancel()

	err := a.Registry.Dispatch(leaseCtx, job)
	if err == nil {
		if completeErr := a.Jobs.Complete(ctx, job.ID); completeErr != nil {
			jobLogger.Error("failed to mark job complete", zap.Error(completeErr))
		}
		return
	}

	jobLogger.Warn("job handler failed", zap.Error(err), zap.Bool("fail_fast", ingesterr.FailFast(err)))
	if failErr := a.Jobs.Fail(ctx, job.ID, err); failErr != nil {
		jobLogger.Error("failed to record job failure", zap.Error(failErr))
	}
}
