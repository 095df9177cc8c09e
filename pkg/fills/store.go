package fills

import (
	"context"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Fill is one row of hl_fills_raw.
type Fill struct {
	OrgID    uuid.UUID
	WalletID int64
	FillID   string
	Ts       time.Time
	Coin     string
	Side     string
	Px       decimal.Decimal
	Sz       decimal.Decimal
	IsSpot   bool
	IsPerp   bool
}

// Store bulk-inserts raw fills.
type Store struct {
	db *postgres.Client
}

func New(db *postgres.Client) *Store {
	return &Store{db: db}
}

// InsertBatch inserts every fill in one round trip, skipping rows that
// already exist on the (org_id, wallet_id, fill_id, ts) key. Returns the
// set of distinct dates actually touched, for the caller to enqueue one
// rollup_wallet_day job covering exactly the days this run affected.
func (s *Store) InsertBatch(ctx context.Context, batch []Fill) (map[string]struct{}, error) {
	if len(batch) == 0 {
		return map[string]struct{}{}, nil
	}

	b := &pgx.Batch{}
	for _, f := range batch {
		b.Queue(`
			INSERT INTO hl_fills_raw (org_id, wallet_id, fill_id, ts, coin, side, px, sz, is_spot, is_perp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (org_id, wallet_id, fill_id, ts) DO NOTHING`,
			f.OrgID, f.WalletID, f.FillID, f.Ts, f.Coin, f.Side, f.Px, f.Sz, f.IsSpot, f.IsPerp)
	}

	results := s.db.GetExecutor(ctx).SendBatch(ctx, b)

	days := make(map[string]struct{})
	for _, f := range batch {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return nil, classifyErr(err)
		}
		days[f.Ts.UTC().Format("2006-01-02")] = struct{}{}
	}
	if err := results.Close(); err != nil {
		return nil, classifyErr(err)
	}
	return days, nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if postgres.IsUndefinedTable(err) {
		return &ingesterr.PartitionMissing{Cause: err}
	}
	if postgres.IsCheckViolation(err) {
		return &ingesterr.ConstraintViolation{Cause: err}
	}
	return &ingesterr.DatabaseTransient{Cause: fmt.Errorf("insert fills batch: %w", err)}
}
