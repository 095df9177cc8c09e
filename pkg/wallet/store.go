// Package wallet provides the minimal wallet reads and the registration/
// deactivation side effects the ingestion core depends on. Wallet
// registration endpoints themselves are an external collaborator; this
// package only implements what the Scheduler and Job Store need to react to
// a wallet's lifecycle.
package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/cursor"
	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/google/uuid"
)

// Wallet is one row of the wallets table.
type Wallet struct {
	WalletID int64
	Address  string
	IsActive bool
	Label    *string
}

// OrgWallet is one row of org_wallets, joined with the wallet's activity
// class inputs for the Scheduler.
type OrgWallet struct {
	OrgID       uuid.UUID
	WalletID    int64
	Address     string
	LastTradeTs *time.Time
}

// Store reads wallets and org_wallets, and runs the Deactivate side effect.
type Store struct {
	db      *postgres.Client
	jobs    *jobstore.Store
	cursors *cursor.Store
}

func New(db *postgres.Client, jobs *jobstore.Store, cursors *cursor.Store) *Store {
	return &Store{db: db, jobs: jobs, cursors: cursors}
}

// Register links wallet to org: ensures the wallets row exists, creates the
// org_wallets link, and seeds an ingest cursor at epoch so the Scheduler
// will pick it up on the next tick.
func (s *Store) Register(ctx context.Context, orgID uuid.UUID, walletID int64, address string, addedBy string) error {
	err := s.db.Exec(ctx, `
		INSERT INTO wallets (wallet_id, address, is_active)
		VALUES ($1, $2, true)
		ON CONFLICT (wallet_id) DO UPDATE SET is_active = true`,
		walletID, address)
	if err != nil {
		return classifyErr(err)
	}

	err = s.db.Exec(ctx, `
		INSERT INTO org_wallets (org_id, wallet_id, added_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, wallet_id) DO NOTHING`,
		orgID, walletID, addedBy)
	if err != nil {
		return classifyErr(err)
	}

	if err := s.cursors.Ensure(ctx, orgID, walletID); err != nil {
		return fmt.Errorf("ensure cursor for wallet %d: %w", walletID, err)
	}
	return nil
}

// Deactivate removes the wallet's org_wallets link for org and cancels its
// queued ingest jobs, exercising the Job Store's CancelWalletJobs per the
// backfill round-trip law: cancel-then-reregister must reproduce the full
// historical dataset. Running jobs are not canceled, and the wallets row
// (including is_active) is left unchanged.
func (s *Store) Deactivate(ctx context.Context, orgID uuid.UUID, walletID int64) (canceled int64, err error) {
	canceled, err = s.jobs.CancelWalletJobs(ctx, orgID, walletID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs for wallet %d: %w", walletID, err)
	}

	err = s.db.Exec(ctx, `DELETE FROM org_wallets WHERE org_id = $1 AND wallet_id = $2`, orgID, walletID)
	if err != nil {
		return canceled, classifyErr(err)
	}
	return canceled, nil
}

// ListActiveForScheduling returns every active wallet linked to org along
// with its most recent trade timestamp, for the Scheduler's classification
// pass.
func (s *Store) ListActiveForScheduling(ctx context.Context, orgID uuid.UUID) ([]OrgWallet, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ow.org_id, ow.wallet_id, w.address, wd.last_trade_ts
		FROM org_wallets ow
		JOIN wallets w ON w.wallet_id = ow.wallet_id
		LEFT JOIN LATERAL (
			SELECT max(last_trade_ts) AS last_trade_ts
			FROM wallet_day_metrics
			WHERE org_id = ow.org_id AND wallet_id = ow.wallet_id
		) wd ON true
		WHERE ow.org_id = $1 AND w.is_active`, orgID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []OrgWallet
	for rows.Next() {
		var ow OrgWallet
		if err := rows.Scan(&ow.OrgID, &ow.WalletID, &ow.Address, &ow.LastTradeTs); err != nil {
			return nil, fmt.Errorf("scan org wallet: %w", err)
		}
		out = append(out, ow)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}

// LastTradeTs returns the wallet's most recent trade timestamp, derived from
// wallet_day_metrics the same way ListActiveForScheduling derives it, or nil
// if the wallet has no rolled-up trades yet. The Fetcher uses this to
// classify activity post-run exactly as the Scheduler classifies it pre-run,
// so the two never disagree about how hot a wallet is.
func (s *Store) LastTradeTs(ctx context.Context, orgID uuid.UUID, walletID int64) (*time.Time, error) {
	var ts *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT max(last_trade_ts) FROM wallet_day_metrics WHERE org_id = $1 AND wallet_id = $2`,
		orgID, walletID).Scan(&ts)
	if err != nil {
		return nil, classifyErr(err)
	}
	return ts, nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if postgres.IsCheckViolation(err) {
		return &ingesterr.ConstraintViolation{Cause: err}
	}
	return &ingesterr.DatabaseTransient{Cause: err}
}
