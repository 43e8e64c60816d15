package kv

import (
	"context"
	"time"
)

// Store is the cache surface the engine and aggregator depend on. The
// production implementation is Redis; tests substitute in-memory fakes.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)

	LPush(ctx context.Context, key, value string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// UpdateCandle applies one trade to the live 1m candle for the symbol,
	// atomically rolling the previous minute onto the closed-candle buffer.
	UpdateCandle(ctx context.Context, symbol string, price, qty uint64, epochSec int64) error

	SaveSnapshot(ctx context.Context, symbol, data string) error
	LoadSnapshot(ctx context.Context, symbol string) (string, bool, error)
}

// Key layout shared by the engine, the streamer and the aggregator.
const (
	SnapshotPrefix    = "snapshot:"
	DepthPrefix       = "depth:"
	OHLCPrefix        = "ohlc:"
	TickerPrefix      = "ticker:"
	PrevDayPrefix     = "prev:"
	LiveCandlePrefix  = "candle:1m:"
	ClosedCandles     = "candle:closed:1m:"
	TimestampSuffix   = ":timestamp"
	ClosedCandleLimit = 1000
)
