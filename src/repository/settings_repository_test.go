package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/model"
)

func TestRiskSettings_SeededDefaults(t *testing.T) {
	repo := (&RiskSettingsRepository{}).WithDB(newSQLiteDB(t))

	s, err := repo.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.False(t, s.TradingEnabled)
	assert.True(t, s.IsPaper())
	assert.Equal(t, model.AggressivenessBalanced, s.Aggressiveness)
	assert.Equal(t, 5, s.MaxOpenPositions)
}

func TestVenueConnection_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := (&VenueConnectionRepository{}).WithDB(newSQLiteDB(t))

	require.NoError(t, repo.Upsert(ctx, &model.VenueConnection{Venue: "Kraken", APIKeyHash: "k1", Connected: true}))
	require.NoError(t, repo.Upsert(ctx, &model.VenueConnection{Venue: "kraken", APIKeyHash: "k2", Connected: true}))
	require.NoError(t, repo.Upsert(ctx, &model.VenueConnection{Venue: "phemex", Connected: false}))

	got, err := repo.GetByVenue(ctx, "KRAKEN")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "k2", got.APIKeyHash)

	conns, err := repo.ListConnected(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "kraken", conns[0].Venue)

	missing, err := repo.GetByVenue(ctx, "binance")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSignalRepository_FindRecent(t *testing.T) {
	db := newSQLiteDB(t)
	require.NoError(t, db.AutoMigrate(&externalmodel.Signal{}))

	now := time.Now().UTC()
	rows := []externalmodel.Signal{
		{Venue: "binance", Symbol: "BTC/USDT", Score: 40, CreatedAt: now},
		{Venue: "binance", Symbol: "ETH/USDT", Score: 70, CreatedAt: now},
		{Venue: "kraken", Symbol: "BTC/USD", Score: 90, CreatedAt: now},
		{Venue: "binance", Symbol: "SOL/USDT", Score: 99, CreatedAt: now.Add(-2 * time.Hour)},
	}
	require.NoError(t, db.Create(&rows).Error)

	repo := (&SignalRepository{}).WithDB(db)
	got, err := repo.FindRecent(context.Background(), []string{"binance"}, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ETH/USDT", got[0].Symbol)
	assert.Equal(t, "BTC/USDT", got[1].Symbol)
}

func TestOrderExecutionLogRepository(t *testing.T) {
	ctx := context.Background()
	repo := (&OrderExecutionLogRepository{}).WithDB(newSQLiteDB(t))

	for _, purpose := range []string{model.OrderPurposeEntry, model.OrderPurposeTakeProfit} {
		require.NoError(t, repo.Create(ctx, &model.OrderExecutionLog{
			PositionID: 3, Venue: "binance", Purpose: purpose,
			Status: model.OrderExecutionStatusAccepted, RequestedAt: time.Now().UTC(),
		}))
	}

	logs, err := repo.FindByPosition(ctx, 3)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.OrderPurposeEntry, logs[0].Purpose)
}
