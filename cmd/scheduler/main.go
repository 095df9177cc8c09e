package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/fillsync/ingestor/app/scheduler"
	"github.com/fillsync/ingestor/pkg/config"
	"github.com/fillsync/ingestor/pkg/db"
	"github.com/fillsync/ingestor/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load(true)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	app, err := scheduler.Initialize(ctx, logging.ForOrg(logger, cfg.OrgID), cfg)
	if err != nil {
		logger.Fatal("unable to initialize scheduler", zap.Error(err))
	}

	if err := db.EnsureSchema(ctx, &app.DB); err != nil {
		logger.Fatal("unable to ensure schema", zap.Error(err))
	}

	app.Run(ctx)
}
