package candle

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/novaex/novaex/pkg/kv"
)

// CandleSink is the durable candle table. BatchPutCandles must upsert keyed
// by (symbol, interval, epoch) with a max/min/sum merge so replays are safe.
type CandleSink interface {
	BatchPutCandles(ctx context.Context, symbol, interval string, candles []Candle) (int, error)
}

// BlobSink archives complete clock hours of 1m candles to cold storage.
type BlobSink interface {
	PutCandles(ctx context.Context, symbol, interval string, candles []Candle) error
}

// hourLen is the number of 1m candles in a complete clock hour; archival and
// trim only happen in whole-hour units.
const hourLen = 60

// Aggregator polls the closed-candle buffers, rolls 1m bars up to every
// configured timeframe, upserts them durably, and archives complete hours to
// the blob store before trimming only the processed tail of the buffer.
type Aggregator struct {
	store kv.Store
	sink  CandleSink
	blobs BlobSink
	log   *zap.SugaredLogger

	poll time.Duration

	// buffer length per symbol at the previous tick; unchanged length means
	// nothing new closed, so the symbol is skipped
	lastCounts map[string]int
}

func NewAggregator(store kv.Store, sink CandleSink, blobs BlobSink, poll time.Duration, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		store:      store,
		sink:       sink,
		blobs:      blobs,
		log:        log,
		poll:       poll,
		lastCounts: make(map[string]int),
	}
}

// Run polls until the context is cancelled. Tick errors are logged and the
// loop continues.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	a.log.Infow("aggregator_started", "poll_ms", a.poll.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			a.log.Info("aggregator_stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				a.log.Errorw("aggregator_tick_failed", "err", err)
			}
		}
	}
}

// Tick processes every symbol with a closed-candle buffer.
func (a *Aggregator) Tick(ctx context.Context) error {
	keys, err := a.store.Keys(ctx, kv.ClosedCandles+"*")
	if err != nil {
		return err
	}

	for _, key := range keys {
		symbol := strings.TrimPrefix(key, kv.ClosedCandles)
		if err := a.processSymbol(ctx, symbol, key); err != nil {
			a.log.Errorw("symbol_processing_failed", "symbol", symbol, "err", err)
		}
	}
	return nil
}

func (a *Aggregator) processSymbol(ctx context.Context, symbol, key string) error {
	raw, err := a.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		a.lastCounts[symbol] = 0
		return nil
	}
	if a.lastCounts[symbol] == len(raw) {
		return nil
	}
	a.lastCounts[symbol] = len(raw)

	closed := a.decode(symbol, raw)
	if len(closed) == 0 {
		return nil
	}

	a.log.Infow("processing_closed_candles", "symbol", symbol, "count", len(closed))

	aggregated := Aggregate(closed)
	for _, tf := range Timeframes {
		candles := aggregated[tf.Interval]
		if len(candles) == 0 {
			continue
		}
		saved, err := a.sink.BatchPutCandles(ctx, symbol, tf.Interval, candles)
		if err != nil {
			a.log.Errorw("candle_store_failed", "symbol", symbol, "interval", tf.Interval, "err", err)
			continue
		}
		a.log.Infow("candles_saved", "symbol", symbol, "interval", tf.Interval, "count", saved)
	}

	if len(closed) < hourLen {
		a.log.Debugw("waiting_for_full_hour", "symbol", symbol, "count", len(closed))
		return nil
	}

	processed := a.archiveHours(ctx, symbol, closed)
	if processed > 0 {
		// drop only the archived oldest entries from the tail; a DEL would
		// lose the still-open hour
		if err := a.store.LTrim(ctx, key, 0, -int64(processed+1)); err != nil {
			return err
		}
		a.lastCounts[symbol] = len(raw) - processed
		a.log.Debugw("buffer_trimmed", "symbol", symbol, "trimmed", processed)
	}
	return nil
}

// archiveHours writes each complete clock hour (exactly 60 bars) to the blob
// store and returns how many candles were archived.
func (a *Aggregator) archiveHours(ctx context.Context, symbol string, closed []Candle) int {
	hourly := make(map[string][]Candle)
	for _, c := range closed {
		if len(c.Time) < 10 {
			continue
		}
		hourKey := c.Time[:10]
		hourly[hourKey] = append(hourly[hourKey], c)
	}

	hours := make([]string, 0, len(hourly))
	for h := range hourly {
		hours = append(hours, h)
	}
	sort.Strings(hours)

	processed := 0
	for _, hour := range hours {
		candles := hourly[hour]
		if len(candles) != hourLen {
			continue
		}
		sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
		if err := a.blobs.PutCandles(ctx, symbol, "1m", candles); err != nil {
			a.log.Errorw("blob_archive_failed", "symbol", symbol, "hour", hour, "err", err)
			continue
		}
		a.log.Infow("hour_archived", "symbol", symbol, "hour", hour, "count", len(candles))
		processed += len(candles)
	}
	return processed
}

// decode parses buffer entries newest-first, stamping the symbol onto each.
// Malformed entries are dropped with a warning.
func (a *Aggregator) decode(symbol string, raw []string) []Candle {
	candles := make([]Candle, 0, len(raw))
	for _, entry := range raw {
		var c Candle
		if err := json.Unmarshal([]byte(entry), &c); err != nil {
			a.log.Warnw("bad_candle_entry", "symbol", symbol, "err", err)
			continue
		}
		c.Symbol = symbol
		candles = append(candles, c)
	}
	return candles
}
