package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fillsync/ingestor/app/admin"
	"github.com/fillsync/ingestor/pkg/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	app, err := admin.Initialize(ctx, logger)
	if err != nil {
		logger.Fatal("unable to initialize admin app", zap.Error(err))
	}

	if runErr := dispatch(ctx, app, os.Args[1], os.Args[2:]); runErr != nil {
		logger.Fatal("admin command failed", zap.Error(runErr))
	}
}

func dispatch(ctx context.Context, app *admin.App, cmd string, args []string) error {
	switch cmd {
	case "monitor":
		fs := flag.NewFlagSet("monitor", flag.ExitOnError)
		orgFlag := fs.String("org", "", "org UUID")
		fs.Parse(args)
		orgID, err := uuid.Parse(*orgFlag)
		if err != nil {
			return fmt.Errorf("invalid -org: %w", err)
		}
		return app.Monitor(ctx, orgID)

	case "recover":
		fs := flag.NewFlagSet("recover", flag.ExitOnError)
		orgFlag := fs.String("org", "", "org UUID")
		fs.Parse(args)
		orgID, err := uuid.Parse(*orgFlag)
		if err != nil {
			return fmt.Errorf("invalid -org: %w", err)
		}
		return app.Recover(ctx, orgID)

	case "backfill":
		fs := flag.NewFlagSet("backfill", flag.ExitOnError)
		orgFlag := fs.String("org", "", "org UUID")
		walletFlag := fs.Int64("wallet", 0, "wallet ID")
		addressFlag := fs.String("address", "", "wallet address")
		fs.Parse(args)
		orgID, err := uuid.Parse(*orgFlag)
		if err != nil {
			return fmt.Errorf("invalid -org: %w", err)
		}
		return app.Backfill(ctx, orgID, *walletFlag, *addressFlag)

	case "rebuild":
		fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
		orgFlag := fs.String("org", "", "org UUID")
		walletFlag := fs.String("wallet", "all", "wallet ID, or \"all\"")
		daysFlag := fs.String("days", "", "comma-separated YYYY-MM-DD list")
		fs.Parse(args)
		orgID, err := uuid.Parse(*orgFlag)
		if err != nil {
			return fmt.Errorf("invalid -org: %w", err)
		}
		days := strings.Split(*daysFlag, ",")

		var walletID *int64
		if *walletFlag != "all" {
			id, err := strconv.ParseInt(*walletFlag, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid -wallet: %w", err)
			}
			walletID = &id
		}
		return app.Rebuild(ctx, orgID, walletID, days)

	case "ensure-partition":
		fs := flag.NewFlagSet("ensure-partition", flag.ExitOnError)
		monthFlag := fs.String("month", "", "YYYY-MM")
		fs.Parse(args)
		year, month, err := parseYearMonth(*monthFlag)
		if err != nil {
			return err
		}
		return app.EnsurePartition(ctx, year, month)

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseYearMonth(s string) (int, int, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid -month %q, expected YYYY-MM: %w", s, err)
	}
	return t.Year(), int(t.Month()), nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin <monitor|recover|backfill|rebuild|ensure-partition> [flags]")
}
