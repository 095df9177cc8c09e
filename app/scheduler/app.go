// Package scheduler hosts the cron-driven process that periodically calls
// Scheduler.Tick for one org.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/cache"
	"github.com/fillsync/ingestor/pkg/config"
	"github.com/fillsync/ingestor/pkg/cursor"
	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/governor"
	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/fillsync/ingestor/pkg/scheduler"
	"github.com/fillsync/ingestor/pkg/wallet"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// App wires the Scheduler's dependencies and runs it on a cron tick.
type App struct {
	DB        postgres.Client
	Scheduler *scheduler.Scheduler
	Cron      *cron.Cron
	Cfg       config.Config
	Logger    *zap.Logger
}

// Initialize connects to Postgres, optionally to Redis, and builds the
// Scheduler and its cron.
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

	dedupCache, err := cache.New(ctx, cfg.RedisAddr, logger)
	if err != nil {
		logger.Warn("dedup cache unavailable, falling back to job store query every tick", zap.Error(err))
		dedupCache = nil
	}

	jobs := jobstore.New(&db, logger)
	cursors := cursor.New(&db)
	wallets := wallet.New(&db, jobs, cursors)

	sched := &scheduler.Scheduler{
		Wallets:       wallets,
		Cursors:       cursors,
		Jobs:          jobs,
		Governor:      gov,
		Cache:         dedupCache,
		Logger:        logger,
		MaxJobsPerRun: scheduler.DefaultMaxJobsPerRun,
	}

	app := &App{DB: db, Scheduler: sched, Cfg: cfg, Logger: logger}

	if err := app.setupCron(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) setupCron(ctx context.Context) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	spec := fmt.Sprintf("@every %ds", a.Cfg.SchedulerTickSeconds)
	_, err := a.Cron.AddFunc(spec, func() {
		tickCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		if err := a.Scheduler.Tick(tickCtx, a.Cfg.OrgID); err != nil {
			a.Logger.Error("scheduler tick failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register scheduler cron func: %w", err)
	}
	return nil
}

// Run starts the cron scheduler and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) {
	a.Cron.Start()
	defer a.Cron.Stop()
	<-ctx.Done()
	a.Logger.Info("scheduler shutting down")
}
