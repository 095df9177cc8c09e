package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fillsync/ingestor/pkg/cursor"
	"github.com/fillsync/ingestor/pkg/db"
	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/fills"
	"github.com/fillsync/ingestor/pkg/governor"
	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/fillsync/ingestor/pkg/upstream"
	"github.com/fillsync/ingestor/pkg/wallet"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type ingestWalletFixture struct {
	handler *IngestWallet
	cursors *cursor.Store
	jobs    *jobstore.Store
	db      postgres.Client
	orgID   uuid.UUID
}

// newIngestWalletFixture wires a real IngestWallet handler against a real
// test Postgres and an httptest server standing in for the upstream. The
// server's response is produced by respond, called once per request with
// the number of requests seen so far (including this one).
func newIngestWalletFixture(t *testing.T, walletID int64, partitionMonth time.Time, respond func(requestNum int, w http.ResponseWriter, r *http.Request)) *ingestWalletFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("POSTGRES_TEST_URL")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_URL not set, skipping integration test")
	}

	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(int(requestCount.Add(1)), w, r)
	}))
	t.Cleanup(server.Close)

	t.Setenv("POSTGRES_URL", dsn)
	client, err := postgres.New(context.Background(), zap.NewNop(), postgres.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx, &client))
	require.NoError(t, db.EnsureMonthPartition(ctx, &client, partitionMonth.Year(), int(partitionMonth.Month())))
	require.NoError(t, client.Exec(ctx, `INSERT INTO wallets (wallet_id, address) VALUES ($1, $2) ON CONFLICT DO NOTHING`, walletID, "0xtest"))

	jobs := jobstore.New(&client, zap.NewNop())
	cursors := cursor.New(&client)
	fillsStore := fills.New(&client)
	wallets := wallet.New(&client, jobs, cursors)
	orgID := uuid.New()
	require.NoError(t, client.Exec(ctx, `INSERT INTO org_wallets (org_id, wallet_id, added_by) VALUES ($1, $2, 'test') ON CONFLICT DO NOTHING`, orgID, walletID))
	require.NoError(t, cursors.Ensure(ctx, orgID, walletID))

	return &ingestWalletFixture{
		handler: &IngestWallet{
			Governor: governor.NewLocal(governor.DefaultParams()),
			Cursors:  cursors,
			Fills:    fillsStore,
			Upstream: upstream.New(server.URL, 5*time.Second),
			Jobs:     jobs,
			Wallets:  wallets,
			Logger:   zap.NewNop(),
		},
		cursors: cursors,
		jobs:    jobs,
		db:      client,
		orgID:   orgID,
	}
}

func wireFillJSON(id int, tid, coin, side, px, sz string, ts time.Time) string {
	return fmt.Sprintf(`{"time":%d,"coin":%q,"side":%q,"px":%q,"sz":%q,"hash":"0xhash%d","tid":%q}`,
		ts.UnixMilli(), coin, side, px, sz, id, tid)
}

func TestIngestWallet_Run_HappyPathInsertsFillsAndEnqueuesRollup(t *testing.T) {
	day := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	f := newIngestWalletFixture(t, 200, day, func(_ int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[%s,%s]`,
			wireFillJSON(1, "t1", "BTC", "B", "50000", "1", day),
			wireFillJSON(2, "t2", "ETH", "A", "3000", "2", day.Add(time.Hour)))
	})
	ctx := context.Background()

	err := f.handler.Run(ctx, f.orgID.String(), "0xtest", 200)
	require.NoError(t, err)

	var fillCount int
	require.NoError(t, f.db.QueryRow(ctx, `SELECT count(*) FROM hl_fills_raw WHERE org_id = $1 AND wallet_id = 200`, f.orgID).Scan(&fillCount))
	assert.Equal(t, 2, fillCount)

	cur, err := f.cursors.Get(ctx, f.orgID, 200)
	require.NoError(t, err)
	assert.True(t, cur.CursorTs.Equal(day.Add(time.Hour)))
	assert.Equal(t, "ok", cur.Status)

	counts, _, err := f.jobs.CountByStatus(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[jobstore.StatusQueued], "a rollup_wallet_day job should have been enqueued for the touched day")
}

func TestIngestWallet_Run_ZeroFillsAdvancesSuccessWithoutRollupJob(t *testing.T) {
	day := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	f := newIngestWalletFixture(t, 201, day, func(_ int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	})
	ctx := context.Background()

	before, err := f.cursors.Get(ctx, f.orgID, 201)
	require.NoError(t, err)

	require.NoError(t, f.handler.Run(ctx, f.orgID.String(), "0xtest", 201))

	after, err := f.cursors.Get(ctx, f.orgID, 201)
	require.NoError(t, err)
	assert.True(t, before.CursorTs.Equal(after.CursorTs), "zero fills must not move the cursor")
	assert.Equal(t, "ok", after.Status)

	counts, _, err := f.jobs.CountByStatus(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[jobstore.StatusQueued])
}

func TestIngestWallet_Run_AppliesOverlapWindowOnSubsequentRun(t *testing.T) {
	day := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	var gotStartMillis []int64
	f := newIngestWalletFixture(t, 202, day, func(n int, w http.ResponseWriter, r *http.Request) {
		var req struct {
			StartTime int64 `json:"startTime"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotStartMillis = append(gotStartMillis, req.StartTime)

		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			fmt.Fprintf(w, `[%s]`, wireFillJSON(1, "t1", "BTC", "B", "50000", "1", day))
		} else {
			fmt.Fprint(w, `[]`)
		}
	})
	ctx := context.Background()

	require.NoError(t, f.handler.Run(ctx, f.orgID.String(), "0xtest", 202))
	require.NoError(t, f.handler.Run(ctx, f.orgID.String(), "0xtest", 202))

	require.Len(t, gotStartMillis, 2)
	expectedSecondStart := day.UnixMilli() - overlapWindow.Milliseconds()
	assert.Equal(t, expectedSecondStart, gotStartMillis[1], "the second run must re-request the 10-minute overlap window behind the advanced cursor")
}

func TestIngestWallet_Run_IdempotentReRunDoesNotDuplicateFills(t *testing.T) {
	day := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	f := newIngestWalletFixture(t, 203, day, func(_ int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[%s]`, wireFillJSON(1, "t1", "BTC", "B", "50000", "1", day))
	})
	ctx := context.Background()

	require.NoError(t, f.handler.Run(ctx, f.orgID.String(), "0xtest", 203))
	require.NoError(t, f.handler.Run(ctx, f.orgID.String(), "0xtest", 203))

	var fillCount int
	require.NoError(t, f.db.QueryRow(ctx, `SELECT count(*) FROM hl_fills_raw WHERE org_id = $1 AND wallet_id = 203`, f.orgID).Scan(&fillCount))
	assert.Equal(t, 1, fillCount, "re-fetching the same fill via the overlap window must not duplicate it")
}

func TestIngestWallet_Run_ClassifiesFromWalletDayMetricsNotCursorLastSuccess(t *testing.T) {
	day := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	f := newIngestWalletFixture(t, 204, day, func(_ int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	})
	ctx := context.Background()

	// Seed wallet_day_metrics with a trade far in the past, so the wallet's
	// real activity class is Cold even though the cursor is about to record
	// a fresh last_success_at.
	staleTrade := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, f.db.Exec(ctx, `
		INSERT INTO wallet_day_metrics (org_id, wallet_id, day, spot_volume_usd, perp_volume_usd, trades_count, last_trade_ts, updated_at)
		VALUES ($1, $2, $3::date, 0, 0, 1, $4, now())`,
		f.orgID, 204, staleTrade, staleTrade))

	require.NoError(t, f.handler.Run(ctx, f.orgID.String(), "0xtest", 204))

	cur, err := f.cursors.Get(ctx, f.orgID, 204)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(cursor.ColdInterval), cur.NextRunAt, 5*time.Second,
		"a wallet whose last real trade is 30 days old must be scheduled on the cold interval, not pinned hot by a freshly-set last_success_at")
}

func TestIngestWallet_Run_UpstreamServerErrorRecordsFailureWithoutAdvancingCursor(t *testing.T) {
	day := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	f := newIngestWalletFixture(t, 205, day, func(_ int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "internal error")
	})
	ctx := context.Background()

	before, err := f.cursors.Get(ctx, f.orgID, 205)
	require.NoError(t, err)

	err = f.handler.Run(ctx, f.orgID.String(), "0xtest", 205)
	require.Error(t, err)

	after, err := f.cursors.Get(ctx, f.orgID, 205)
	require.NoError(t, err)
	assert.True(t, before.CursorTs.Equal(after.CursorTs))
	assert.Equal(t, "error", after.Status)
	assert.Equal(t, 1, after.ErrorCount)
}
