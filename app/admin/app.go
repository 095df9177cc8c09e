// Package admin hosts the one-shot operational CLI subcommands: monitor,
// recover, backfill, rebuild, and ensure-partition. None of these run
// continuously; each does its work and exits.
package admin

import (
	"context"
	"fmt"

	"github.com/fillsync/ingestor/pkg/cursor"
	"github.com/fillsync/ingestor/pkg/db"
	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/fillsync/ingestor/pkg/rollup"
	"github.com/fillsync/ingestor/pkg/wallet"
	"go.uber.org/zap"
)

// App wires the stores every admin subcommand needs.
type App struct {
	DB        postgres.Client
	Jobs      *jobstore.Store
	Cursors   *cursor.Store
	Wallets   *wallet.Store
	WalletDay *rollup.WalletDayStore
	GlobalDay *rollup.GlobalDayStore
	Logger    *zap.Logger
}

// Initialize connects to Postgres and ensures the schema exists — admin
// subcommands are often the first thing run against a fresh database.
func Initialize(ctx context.Context, logger *zap.Logger) (*App, error) {
	dbClient, err := postgres.New(ctx, logger, postgres.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.EnsureSchema(ctx, &dbClient); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	jobs := jobstore.New(&dbClient, logger)
	cursors := cursor.New(&dbClient)

	return &App{
		DB:        dbClient,
		Jobs:      jobs,
		Cursors:   cursors,
		Wallets:   wallet.New(&dbClient, jobs, cursors),
		WalletDay: rollup.NewWalletDayStore(&dbClient),
		GlobalDay: rollup.NewGlobalDayStore(&dbClient),
		Logger:    logger,
	}, nil
}
