// Package handlers wires jobstore payloads to the Fetcher and rollup
// pipeline logic: one function per job type, each taking a decoded,
// validated payload and returning the error the dispatch loop classifies
// into a retry decision.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/cursor"
	"github.com/fillsync/ingestor/pkg/fills"
	"github.com/fillsync/ingestor/pkg/governor"
	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/fillsync/ingestor/pkg/upstream"
	"github.com/fillsync/ingestor/pkg/wallet"
	"go.uber.org/zap"
)

const overlapWindow = 10 * time.Minute

// IngestWallet implements the ingest_wallet handler (the Fetcher): reads
// the wallet's cursor, calls the upstream with a 10-minute overlap window,
// inserts any new fills idempotently, advances the cursor, and enqueues
// a rollup_wallet_day job for the days touched.
type IngestWallet struct {
	Governor governor.Governor
	Cursors  *cursor.Store
	Fills    *fills.Store
	Upstream *upstream.Client
	Jobs     *jobstore.Store
	Wallets  *wallet.Store
	Classify fills.ClassPredicate
	Logger   *zap.Logger
}

// Run executes one ingest_wallet job.
func (h *IngestWallet) Run(ctx context.Context, orgID, address string, walletID int64) error {
	orgUUID, err := parseOrgID(orgID)
	if err != nil {
		return &ingesterr.ConstraintViolation{Cause: err}
	}

	cur, err := h.Cursors.Get(ctx, orgUUID, walletID)
	if err != nil {
		return err
	}

	startMillis := cur.CursorTs.UnixMilli() - overlapWindow.Milliseconds()
	if startMillis < 0 {
		startMillis = 0
	}

	lastTradeTs, err := h.Wallets.LastTradeTs(ctx, orgUUID, walletID)
	if err != nil {
		return err
	}
	class := cursor.Classify(lastTradeTs, time.Now())

	if _, err := h.Governor.Acquire(ctx, governor.DefaultParams().DefaultCost); err != nil {
		return fmt.Errorf("acquire governor capacity: %w", err)
	}

	upstreamFills, fetchErr := h.Upstream.FetchFills(ctx, address, startMillis)
	if fetchErr != nil {
		var rateLimited *ingesterr.RateLimited
		if errors.As(fetchErr, &rateLimited) {
			if reportErr := h.Governor.ReportRateLimited(ctx); reportErr != nil {
				h.Logger.Warn("failed to report rate limit to governor", zap.Error(reportErr))
			}
		}
		if upErr := h.Cursors.UpdateCursor(ctx, orgUUID, walletID, false, time.Time{}, class); upErr != nil {
			h.Logger.Warn("failed to record cursor failure", zap.Error(upErr))
		}
		return fetchErr
	}

	if err := h.Governor.AdjustForResponse(ctx, len(upstreamFills)); err != nil {
		h.Logger.Warn("failed to adjust governor for response size", zap.Error(err))
	}

	if len(upstreamFills) == 0 {
		return h.Cursors.UpdateCursor(ctx, orgUUID, walletID, true, time.Time{}, class)
	}

	batch := make([]fills.Fill, 0, len(upstreamFills))
	var maxTs time.Time
	for _, f := range upstreamFills {
		isSpot, isPerp := h.classify()(f.Coin)
		ts := time.UnixMilli(f.TimeMillis).UTC()
		if ts.After(maxTs) {
			maxTs = ts
		}
		batch = append(batch, fills.Fill{
			OrgID:    orgUUID,
			WalletID: walletID,
			FillID:   upstream.DeriveFillID(f),
			Ts:       ts,
			Coin:     f.Coin,
			Side:     f.Side,
			Px:       f.Px,
			Sz:       f.Sz,
			IsSpot:   isSpot,
			IsPerp:   isPerp,
		})
	}

	days, insertErr := h.Fills.InsertBatch(ctx, batch)
	if insertErr != nil {
		if upErr := h.Cursors.UpdateCursor(ctx, orgUUID, walletID, false, time.Time{}, class); upErr != nil {
			h.Logger.Warn("failed to record cursor failure", zap.Error(upErr))
		}
		return insertErr
	}

	if err := h.Cursors.UpdateCursor(ctx, orgUUID, walletID, true, maxTs, class); err != nil {
		return err
	}

	if len(days) == 0 {
		return nil
	}
	dayList := make([]string, 0, len(days))
	for d := range days {
		dayList = append(dayList, d)
	}

	_, err = h.Jobs.Enqueue(ctx, orgUUID, jobstore.JobTypeRollupWalletDay, jobstore.RollupWalletDayPayload{
		WalletID: walletID,
		Days:     dayList,
	}, time.Time{})
	return err
}

func (h *IngestWallet) classify() fills.ClassPredicate {
	if h.Classify != nil {
		return h.Classify
	}
	return fills.ClassifyCoin
}
