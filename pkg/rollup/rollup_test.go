package rollup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fillsync/ingestor/pkg/db"
	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/fills"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T, walletID int64, day time.Time) (postgres.Client, uuid.UUID) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("POSTGRES_TEST_URL")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_URL not set, skipping integration test")
	}

	t.Setenv("POSTGRES_URL", dsn)
	client, err := postgres.New(context.Background(), zap.NewNop(), postgres.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx, &client))
	require.NoError(t, db.EnsureMonthPartition(ctx, &client, day.Year(), int(day.Month())))
	require.NoError(t, client.Exec(ctx, `INSERT INTO wallets (wallet_id, address) VALUES ($1, $2) ON CONFLICT DO NOTHING`, walletID, "0xrollup"))

	return client, uuid.New()
}

func TestWalletDayRebuild_AggregatesFillsIntoOneRow(t *testing.T) {
	day := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	client, orgID := newTestDB(t, 200, day)
	ctx := context.Background()

	fillStore := fills.New(&client)
	_, err := fillStore.InsertBatch(ctx, []fills.Fill{
		{OrgID: orgID, WalletID: 200, FillID: "1", Ts: day.Add(1 * time.Hour), Coin: "BTC", Side: "B", Px: decimal.NewFromInt(10), Sz: decimal.NewFromInt(2), IsPerp: true},
		{OrgID: orgID, WalletID: 200, FillID: "2", Ts: day.Add(2 * time.Hour), Coin: "PURR/USDC", Side: "A", Px: decimal.NewFromInt(5), Sz: decimal.NewFromInt(4), IsSpot: true},
	})
	require.NoError(t, err)

	walletDay := NewWalletDayStore(&client)
	require.NoError(t, walletDay.Rebuild(ctx, orgID, 200, day))

	var perpVol, spotVol decimal.Decimal
	var trades int
	err = client.QueryRow(ctx, `SELECT perp_volume_usd, spot_volume_usd, trades_count FROM wallet_day_metrics WHERE org_id = $1 AND wallet_id = $2 AND day = $3`,
		orgID, 200, day).Scan(&perpVol, &spotVol, &trades)
	require.NoError(t, err)

	assert.True(t, perpVol.Equal(decimal.NewFromInt(20)))
	assert.True(t, spotVol.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 2, trades)
}

func TestWalletDayRebuild_ZeroFillsWritesZeroedRow(t *testing.T) {
	day := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	client, orgID := newTestDB(t, 201, day)
	ctx := context.Background()

	walletDay := NewWalletDayStore(&client)
	require.NoError(t, walletDay.Rebuild(ctx, orgID, 201, day))

	var trades int
	err := client.QueryRow(ctx, `SELECT trades_count FROM wallet_day_metrics WHERE org_id = $1 AND wallet_id = $2 AND day = $3`,
		orgID, 201, day).Scan(&trades)
	require.NoError(t, err)
	assert.Equal(t, 0, trades)
}

func TestGlobalDayRebuild_AveragesOnlyActiveWallets(t *testing.T) {
	day := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	client, orgID := newTestDB(t, 202, day)
	ctx := context.Background()

	require.NoError(t, client.Exec(ctx, `INSERT INTO wallets (wallet_id, address) VALUES (203, '0xidle') ON CONFLICT DO NOTHING`))
	require.NoError(t, client.Exec(ctx, `
		INSERT INTO wallet_day_metrics (org_id, wallet_id, day, spot_volume_usd, perp_volume_usd, trades_count)
		VALUES ($1, 202, $2, 100, 200, 5), ($1, 203, $2, 0, 0, 0)`, orgID, day))

	globalDay := NewGlobalDayStore(&client)
	require.NoError(t, globalDay.Rebuild(ctx, orgID, day))

	var dau int
	var avgSpot, avgPerp decimal.Decimal
	err := client.QueryRow(ctx, `SELECT dau, avg_spot_volume_per_user, avg_perp_volume_per_user FROM global_day_metrics WHERE org_id = $1 AND day = $2`,
		orgID, day).Scan(&dau, &avgSpot, &avgPerp)
	require.NoError(t, err)

	assert.Equal(t, 1, dau)
	assert.True(t, avgSpot.Equal(decimal.NewFromInt(100)))
	assert.True(t, avgPerp.Equal(decimal.NewFromInt(200)))
}

func TestWalletDayDelete(t *testing.T) {
	day := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	client, orgID := newTestDB(t, 204, day)
	ctx := context.Background()

	walletDay := NewWalletDayStore(&client)
	require.NoError(t, walletDay.Rebuild(ctx, orgID, 204, day))
	require.NoError(t, walletDay.Delete(ctx, orgID, 204, day))

	var count int
	err := client.QueryRow(ctx, `SELECT count(*) FROM wallet_day_metrics WHERE org_id = $1 AND wallet_id = $2 AND day = $3`,
		orgID, 204, day).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
