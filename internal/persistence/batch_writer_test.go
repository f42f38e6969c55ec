package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/pkg/db"
)

func TestBatchWriterFlushesOnClose(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	bw := NewBatchWriter(database, 100, time.Hour)
	ctx := context.Background()
	require.NoError(t, bw.RecordTrade(ctx, db.Trade{ID: "t1", Symbol: "AAPL", Action: "BUY", Qty: 1, Price: 10, Attempts: 1}))
	require.NoError(t, bw.RecordShadowTrade(ctx, db.ShadowTrade{ID: "s1", Strategy: "ma_cross", Symbol: "AAPL", Action: "BUY", Qty: 1, Price: 10}))
	assert.Equal(t, 2, bw.Pending())

	require.NoError(t, bw.Close())
	assert.Equal(t, 0, bw.Pending())

	trades, err := database.ListTrades(ctx, "AAPL", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	m := bw.GetMetrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Equal(t, 2, m.LastBatchSize)
}

func TestBatchWriterRollsBackWholeBatch(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	bw := NewBatchWriter(database, 100, time.Hour)
	defer bw.Close()
	ctx := context.Background()
	require.NoError(t, bw.RecordTrade(ctx, db.Trade{ID: "dup", Symbol: "AAPL", Action: "BUY", Qty: 1, Price: 10}))
	require.NoError(t, bw.RecordTrade(ctx, db.Trade{ID: "dup", Symbol: "AAPL", Action: "BUY", Qty: 1, Price: 10}))

	assert.Error(t, bw.Flush())
	trades, err := database.ListTrades(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, uint64(1), bw.GetMetrics().TotalErrors)
}
