// Package cursor owns the per-wallet ingest cursor: its high-water mark,
// the hot/warm/cold activity classification that drives the Scheduler's
// polling interval, and the UpdateCursor API the Fetcher calls after every
// run.
package cursor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/google/uuid"
)

// Class is a wallet's activity tier, derived from its most recent trade.
type Class int

const (
	Cold Class = iota
	Warm
	Hot
)

func (c Class) String() string {
	switch c {
	case Hot:
		return "hot"
	case Warm:
		return "warm"
	default:
		return "cold"
	}
}

// Base polling intervals per class.
const (
	HotInterval  = 60 * time.Second
	WarmInterval = 900 * time.Second
	ColdInterval = 3600 * time.Second
)

const (
	hotWindow  = 24 * time.Hour
	warmWindow = 168 * time.Hour
)

// Classify derives a wallet's activity tier from its last trade timestamp.
// A nil lastTradeTs (no trades recorded yet) classifies as Cold.
func Classify(lastTradeTs *time.Time, now time.Time) Class {
	if lastTradeTs == nil {
		return Cold
	}
	age := now.Sub(*lastTradeTs)
	switch {
	case age <= hotWindow:
		return Hot
	case age <= warmWindow:
		return Warm
	default:
		return Cold
	}
}

// Interval returns the base polling interval for class.
func (c Class) Interval() time.Duration {
	switch c {
	case Hot:
		return HotInterval
	case Warm:
		return WarmInterval
	default:
		return ColdInterval
	}
}

// Cursor is one row of hl_ingest_cursor.
type Cursor struct {
	OrgID         uuid.UUID
	WalletID      int64
	CursorTs      time.Time
	LastSuccessAt *time.Time
	Status        string
	ErrorCount    int
	NextRunAt     time.Time
}

// Store reads and mutates ingest cursors.
type Store struct {
	db *postgres.Client
}

func New(db *postgres.Client) *Store {
	return &Store{db: db}
}

// Ensure creates a cursor row for (org, wallet) at epoch if none exists,
// called at wallet registration.
func (s *Store) Ensure(ctx context.Context, orgID uuid.UUID, walletID int64) error {
	err := s.db.Exec(ctx, `
		INSERT INTO hl_ingest_cursor (org_id, wallet_id, cursor_ts, status, error_count, next_run_at)
		VALUES ($1, $2, 'epoch', 'ok', 0, now())
		ON CONFLICT (org_id, wallet_id) DO NOTHING`,
		orgID, walletID)
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

// Get reads a wallet's cursor.
func (s *Store) Get(ctx context.Context, orgID uuid.UUID, walletID int64) (Cursor, error) {
	var c Cursor
	c.OrgID = orgID
	c.WalletID = walletID
	err := s.db.QueryRow(ctx, `
		SELECT cursor_ts, last_success_at, status, error_count, next_run_at
		FROM hl_ingest_cursor WHERE org_id = $1 AND wallet_id = $2`,
		orgID, walletID,
	).Scan(&c.CursorTs, &c.LastSuccessAt, &c.Status, &c.ErrorCount, &c.NextRunAt)
	if err != nil {
		return Cursor{}, classifyErr(err)
	}
	return c, nil
}

// UpdateCursor applies the Fetcher's post-run report. On success, cursor_ts
// advances to newCursorTs (a zero value leaves cursor_ts unchanged, the
// "zero fills returned" case, and a value earlier than the stored one is
// ignored, so the cursor never moves backwards) and next_run_at is scheduled by the wallet's
// current activity class. On failure, error_count increments and
// next_run_at backs off using the cold base interval, since a failing
// wallet's trade recency is not a useful signal for how soon to retry.
func (s *Store) UpdateCursor(ctx context.Context, orgID uuid.UUID, walletID int64, success bool, newCursorTs time.Time, class Class) error {
	now := time.Now()

	if success {
		nextRunAt := now.Add(class.Interval())

		if newCursorTs.IsZero() {
			err := s.db.Exec(ctx, `
				UPDATE hl_ingest_cursor SET error_count = 0, status = 'ok',
					last_success_at = $1, next_run_at = $2
				WHERE org_id = $3 AND wallet_id = $4`,
				now, nextRunAt, orgID, walletID)
			return classifyErr(err)
		}

		err := s.db.Exec(ctx, `
			UPDATE hl_ingest_cursor SET error_count = 0, status = 'ok',
				cursor_ts = GREATEST(cursor_ts, $1), last_success_at = $2, next_run_at = $3
			WHERE org_id = $4 AND wallet_id = $5`,
			newCursorTs, now, nextRunAt, orgID, walletID)
		return classifyErr(err)
	}

	var errorCount int
	err := s.db.QueryRow(ctx, `
		UPDATE hl_ingest_cursor SET error_count = error_count + 1, status = 'error'
		WHERE org_id = $1 AND wallet_id = $2
		RETURNING error_count`, orgID, walletID).Scan(&errorCount)
	if err != nil {
		return classifyErr(err)
	}

	backoff := failureBackoff(errorCount)
	err = s.db.Exec(ctx, `
		UPDATE hl_ingest_cursor SET next_run_at = $1 WHERE org_id = $2 AND wallet_id = $3`,
		now.Add(backoff), orgID, walletID)
	return classifyErr(err)
}

// failureBackoff computes min(3600s, cold_base * 2^min(errorCount, 6)).
func failureBackoff(errorCount int) time.Duration {
	capped := errorCount
	if capped > 6 {
		capped = 6
	}
	d := time.Duration(float64(ColdInterval) * math.Pow(2, float64(capped)))
	if d > ColdInterval {
		d = ColdInterval
	}
	return d
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if postgres.IsNoRows(err) {
		return fmt.Errorf("cursor not found: %w", err)
	}
	return &ingesterr.DatabaseTransient{Cause: err}
}
