package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaex/novaex/pkg/candle"
)

func memStore(t *testing.T) *PebbleStore {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	s := NewPebbleStoreWithDB(db, 9*time.Hour)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndLoadTrades(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	// 05:03 UTC = 14:03 KST, trading day 20251216
	ts := time.Date(2025, 12, 16, 5, 3, 0, 0, time.UTC).UnixMilli()

	require.NoError(t, s.Put(ctx, "NVA", ts, 100, 5, "buyer1", "seller1", "B1", "A1"))
	require.NoError(t, s.Put(ctx, "NVA", ts+10, 101, 2, "buyer2", "seller1", "B2", "A1"))

	trades, err := s.TradesByDay("NVA", "20251216")
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, uint64(100), trades[0].Price)
	assert.Equal(t, uint64(5), trades[0].Quantity)
	assert.Equal(t, "buyer1", trades[0].BuyerID)
	assert.Equal(t, "seller1", trades[0].SellerID)
	assert.Equal(t, "20251216", trades[0].Date)
	// sorted by timestamp within the partition
	assert.Less(t, trades[0].Timestamp, trades[1].Timestamp)
}

func TestTradesPartitionedByDay(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	day1 := time.Date(2025, 12, 16, 5, 0, 0, 0, time.UTC).UnixMilli()
	// 15:30 UTC is already 00:30 KST on the 17th
	day2 := time.Date(2025, 12, 16, 15, 30, 0, 0, time.UTC).UnixMilli()

	require.NoError(t, s.Put(ctx, "NVA", day1, 100, 1, "b", "s", "B1", "A1"))
	require.NoError(t, s.Put(ctx, "NVA", day2, 101, 1, "b", "s", "B2", "A2"))

	first, err := s.TradesByDay("NVA", "20251216")
	require.NoError(t, err)
	second, err := s.TradesByDay("NVA", "20251217")
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
}

func bar(tm string, o, h, l, c, v uint64) candle.Candle {
	return candle.Candle{Symbol: "NVA", Time: tm, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestBatchPutCandles(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	saved, err := s.BatchPutCandles(ctx, "NVA", "1m", []candle.Candle{
		bar("202512161403", 100, 110, 95, 105, 10),
		bar("202512161404", 105, 107, 104, 106, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	epoch, err := bar("202512161403", 0, 0, 0, 0, 0).Epoch(9 * time.Hour)
	require.NoError(t, err)

	o, h, l, c, v, ok, err := s.GetCandle("NVA", "1m", epoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint64{100, 110, 95, 105, 10}, []uint64{o, h, l, c, v})
}

func TestCandleUpsertIsIdempotentForReplays(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	batch := []candle.Candle{bar("202512161403", 100, 110, 95, 105, 10)}

	_, err := s.BatchPutCandles(ctx, "NVA", "1m", batch)
	require.NoError(t, err)
	_, err = s.BatchPutCandles(ctx, "NVA", "1m", batch)
	require.NoError(t, err)

	epoch, err := batch[0].Epoch(9 * time.Hour)
	require.NoError(t, err)

	o, h, l, c, v, ok, err := s.GetCandle("NVA", "1m", epoch)
	require.NoError(t, err)
	require.True(t, ok)
	// applying the same batch twice leaves the stored row unchanged
	assert.Equal(t, []uint64{100, 110, 95, 105, 10}, []uint64{o, h, l, c, v})
}

func TestCandleUpsertMergesNewData(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	_, err := s.BatchPutCandles(ctx, "NVA", "5m", []candle.Candle{bar("202512161400", 100, 110, 95, 105, 10)})
	require.NoError(t, err)

	// later pass over the same window with different extremes
	_, err = s.BatchPutCandles(ctx, "NVA", "5m", []candle.Candle{bar("202512161400", 102, 115, 98, 108, 4)})
	require.NoError(t, err)

	epoch, err := bar("202512161400", 0, 0, 0, 0, 0).Epoch(9 * time.Hour)
	require.NoError(t, err)

	o, h, l, c, v, ok, err := s.GetCandle("NVA", "5m", epoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(100), o) // open keeps the first value
	assert.Equal(t, uint64(115), h) // high widened
	assert.Equal(t, uint64(95), l)  // low kept
	assert.Equal(t, uint64(108), c) // close replaced
	assert.Equal(t, uint64(14), v)  // volume summed
}
