package marketdata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/novaex/novaex/pkg/engine"
	"github.com/novaex/novaex/pkg/kv"
	"github.com/novaex/novaex/pkg/obs"
	"github.com/novaex/novaex/pkg/stream"
	"github.com/novaex/novaex/pkg/util"
)

// TradeRecorder is the durable trade sink.
type TradeRecorder interface {
	Put(ctx context.Context, symbol string, tsMillis int64, price, qty uint64, buyerID, sellerID, buyerOrder, sellerOrder string) error
}

// Pusher delivers per-user notifications; Push must only enqueue.
type Pusher interface {
	Push(userID string, payload interface{})
}

// Publisher emits events to the outbound topics.
type Publisher interface {
	PublishFill(ctx context.Context, taker, maker *engine.Order, qty, price uint64)
	PublishTrade(ctx context.Context, symbol string, qty, price uint64)
	PublishOrderStatus(ctx context.Context, o *engine.Order, status, reason string) stream.StatusEvent
	PublishDepth(ctx context.Context, symbol string, record interface{})
}

// Handler receives every listener event from every book and fans it out:
// order statuses to users, fills to the durable store and fill topic, day
// aggregate and candle updates to the cache, depth records to the cache and
// depth topic. It runs on the matching thread; everything it calls either
// only enqueues (notifier) or is a bounded-timeout network call.
type Handler struct {
	store    kv.Store
	trades   TradeRecorder
	producer Publisher
	notifier Pusher
	metrics  *obs.Metrics
	clock    util.Clock
	log      *zap.SugaredLogger

	ctx           context.Context
	sessionOffset time.Duration

	mu   sync.Mutex
	days map[string]*DayAggregate
}

func NewHandler(ctx context.Context, store kv.Store, trades TradeRecorder, producer Publisher, notifier Pusher, metrics *obs.Metrics, clock util.Clock, sessionOffset time.Duration, log *zap.SugaredLogger) *Handler {
	return &Handler{
		store:         store,
		trades:        trades,
		producer:      producer,
		notifier:      notifier,
		metrics:       metrics,
		clock:         clock,
		log:           log,
		ctx:           ctx,
		sessionOffset: sessionOffset,
		days:          make(map[string]*DayAggregate),
	}
}

// Listener wires the handler's methods into a book callback record.
func (h *Handler) Listener() engine.Listener {
	return engine.Listener{
		OnAccept:        h.onAccept,
		OnReject:        h.onReject,
		OnCancel:        h.onCancel,
		OnCancelReject:  h.onCancelReject,
		OnReplace:       h.onReplace,
		OnReplaceReject: h.onReplaceReject,
		OnFill:          h.onFill,
		OnTrade:         h.onTrade,
		OnDepthChange:   h.onDepthChange,
		OnBBOChange:     h.onBBOChange,
	}
}

func (h *Handler) status(o *engine.Order, status, reason string) {
	ev := h.producer.PublishOrderStatus(h.ctx, o, status, reason)
	h.notifier.Push(o.UserID, ev)
}

func (h *Handler) onAccept(o *engine.Order) {
	h.metrics.OrdersAccepted.Inc()
	h.status(o, "ACCEPTED", "")
}

func (h *Handler) onReject(o *engine.Order, reason string) {
	h.log.Warnw("order_rejected", "order_id", o.ID, "symbol", o.Symbol, "reason", reason)
	h.metrics.OrdersRejected.Inc()
	h.status(o, "REJECTED", reason)
}

func (h *Handler) onCancel(o *engine.Order, reason string) {
	h.status(o, "CANCELLED", reason)
}

func (h *Handler) onCancelReject(o *engine.Order, reason string) {
	h.log.Warnw("cancel_rejected", "order_id", o.ID, "reason", reason)
	h.status(o, "CANCEL_REJECTED", reason)
}

func (h *Handler) onReplace(o *engine.Order, qtyDelta int64, newPrice uint64) {
	h.status(o, "REPLACED", "")
}

func (h *Handler) onReplaceReject(o *engine.Order, reason string) {
	h.log.Warnw("replace_rejected", "order_id", o.ID, "reason", reason)
	h.status(o, "REPLACE_REJECTED", reason)
}

// onFill is the single source of truth for fill bookkeeping: it advances
// both orders' fill state, then updates the day aggregate, cache snapshots,
// the live candle, the durable trade record, the fill topic and both users.
// Sink failures never prevent the user notifications.
func (h *Handler) onFill(taker, maker *engine.Order, qty, price uint64) {
	cost := qty * price
	if err := taker.Fill(qty, cost, 0); err != nil {
		h.log.Errorw("taker_fill_failed", "order_id", taker.ID, "err", err)
	}
	if err := maker.Fill(qty, cost, 0); err != nil {
		h.log.Errorw("maker_fill_failed", "order_id", maker.ID, "err", err)
	}

	now := h.clock.Now()
	symbol := taker.Symbol

	day := h.applyToDay(symbol, price, qty, now.Unix())
	h.writeDaySnapshots(symbol, day)

	if err := h.store.UpdateCandle(h.ctx, symbol, price, qty, now.Unix()); err != nil {
		h.log.Warnw("candle_update_failed", "symbol", symbol, "err", err)
	}

	buyer, seller := taker, maker
	if !taker.IsBuy() {
		buyer, seller = maker, taker
	}
	h.recordTrade(symbol, now.UnixMilli(), price, qty, buyer, seller)

	h.metrics.FillsPublished.Inc()
	h.producer.PublishFill(h.ctx, taker, maker, qty, price)

	fill := stream.StatusEvent{
		Event:     "ORDER_STATUS",
		Symbol:    symbol,
		Status:    "FILLED",
		Timestamp: now.UnixMilli(),
	}
	takerEv := fill
	takerEv.OrderID = taker.ID
	takerEv.UserID = taker.UserID
	h.notifier.Push(taker.UserID, takerEv)

	makerEv := fill
	makerEv.OrderID = maker.ID
	makerEv.UserID = maker.UserID
	h.notifier.Push(maker.UserID, makerEv)
}

// onTrade stays redundant with onFill by design: counters and the trade
// topic only, never volume or aggregate updates.
func (h *Handler) onTrade(b *engine.Book, qty, price uint64) {
	h.metrics.TradesExecuted.Inc()
	h.producer.PublishTrade(h.ctx, b.Symbol(), qty, price)
}

// depthRecord is the compact cache/stream form consumed by the depth
// broadcaster: e=event, s=symbol, t=ms, b/a=[price,qty] ladders, c=change
// rate, yc=previous day change rate, p=last price.
type depthRecord struct {
	E  string      `json:"e"`
	S  string      `json:"s"`
	T  int64       `json:"t"`
	B  [][2]uint64 `json:"b"`
	A  [][2]uint64 `json:"a"`
	C  float64     `json:"c"`
	YC float64     `json:"yc"`
	P  uint64      `json:"p"`
}

const depthRecordLevels = 20

func (h *Handler) onDepthChange(b *engine.Book, d *engine.Depth) {
	symbol := b.Symbol()

	h.mu.Lock()
	var c, yc float64
	var last uint64
	if day := h.days[symbol]; day != nil {
		c, yc, last = day.ChangeRate, day.PrevChangeRate, day.Last
	}
	h.mu.Unlock()

	rec := depthRecord{
		E:  "d",
		S:  symbol,
		T:  h.clock.Now().UnixMilli(),
		B:  compactLevels(d.Bids),
		A:  compactLevels(d.Asks),
		C:  c,
		YC: yc,
		P:  last,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		h.log.Errorw("depth_marshal_failed", "symbol", symbol, "err", err)
		return
	}
	if err := h.store.Set(h.ctx, kv.DepthPrefix+symbol, string(data)); err != nil {
		h.log.Warnw("depth_write_failed", "symbol", symbol, "err", err)
	}
	h.producer.PublishDepth(h.ctx, symbol, rec)
}

// onBBOChange delegates to the depth path; BBO is a strict subset of depth.
func (h *Handler) onBBOChange(b *engine.Book, d *engine.Depth) {
	h.onDepthChange(b, d)
}

func compactLevels(levels []engine.DepthLevel) [][2]uint64 {
	n := len(levels)
	if n > depthRecordLevels {
		n = depthRecordLevels
	}
	out := make([][2]uint64, 0, n)
	for _, l := range levels[:n] {
		out = append(out, [2]uint64{l.Price, l.Qty})
	}
	return out
}

// applyToDay rolls the aggregate if the trading day changed, then folds the
// trade in. Returns a copy for snapshot writing outside the lock.
func (h *Handler) applyToDay(symbol string, price, qty uint64, epochSec int64) DayAggregate {
	today := kv.DayKey(epochSec, h.sessionOffset)

	h.mu.Lock()
	defer h.mu.Unlock()

	day := h.days[symbol]
	if day == nil {
		day = &DayAggregate{TradingDay: today}
		h.days[symbol] = day
	}
	if day.TradingDay != today {
		h.rollLocked(symbol, day, today)
	}
	day.ApplyTrade(price, qty)
	return *day
}

// rollLocked persists the closing day to prev:<symbol> and zeroes the
// aggregate. Caller holds h.mu.
func (h *Handler) rollLocked(symbol string, day *DayAggregate, today string) {
	prev := prevDayRecord{
		Symbol:     symbol,
		Date:       day.TradingDay,
		Open:       day.Open,
		High:       day.High,
		Low:        day.Low,
		Close:      day.Last,
		ChangeRate: day.ChangeRate,
	}
	if data, err := json.Marshal(prev); err == nil {
		if err := h.store.Set(h.ctx, kv.PrevDayPrefix+symbol, string(data)); err != nil {
			h.log.Warnw("prev_day_write_failed", "symbol", symbol, "err", err)
		}
	}
	h.log.Infow("trading_day_rolled", "symbol", symbol, "from", day.TradingDay, "to", today)
	day.roll(today)
}

// RollDay is the day-boundary timer entry: rolls every aggregate whose
// trading day is behind the session-local date.
func (h *Handler) RollDay() {
	today := kv.DayKey(h.clock.Now().Unix(), h.sessionOffset)

	h.mu.Lock()
	defer h.mu.Unlock()

	for symbol, day := range h.days {
		if day.TradingDay != today {
			h.rollLocked(symbol, day, today)
		}
	}
}

// Day returns a copy of the aggregate for a symbol.
func (h *Handler) Day(symbol string) (DayAggregate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.days[symbol]
	if !ok {
		return DayAggregate{}, false
	}
	return *d, true
}

type ohlcRecord struct {
	Symbol     string `json:"symbol"`
	Open       uint64 `json:"open"`
	High       uint64 `json:"high"`
	Low        uint64 `json:"low"`
	Close      uint64 `json:"close"`
	Volume     uint64 `json:"volume"`
	TradingDay string `json:"trading_day"`
}

type tickerRecord struct {
	Symbol         string  `json:"symbol"`
	Price          uint64  `json:"price"`
	Open           uint64  `json:"open"`
	High           uint64  `json:"high"`
	Low            uint64  `json:"low"`
	Volume         uint64  `json:"volume"`
	ChangeRate     float64 `json:"change_rate"`
	PrevChangeRate float64 `json:"prev_change_rate"`
	Timestamp      int64   `json:"timestamp"`
}

func (h *Handler) writeDaySnapshots(symbol string, day DayAggregate) {
	ohlc := ohlcRecord{
		Symbol:     symbol,
		Open:       day.Open,
		High:       day.High,
		Low:        day.Low,
		Close:      day.Last,
		Volume:     day.Volume,
		TradingDay: day.TradingDay,
	}
	if data, err := json.Marshal(ohlc); err == nil {
		if err := h.store.Set(h.ctx, kv.OHLCPrefix+symbol, string(data)); err != nil {
			h.log.Warnw("ohlc_write_failed", "symbol", symbol, "err", err)
		}
	}

	ticker := tickerRecord{
		Symbol:         symbol,
		Price:          day.Last,
		Open:           day.Open,
		High:           day.High,
		Low:            day.Low,
		Volume:         day.Volume,
		ChangeRate:     day.ChangeRate,
		PrevChangeRate: day.PrevChangeRate,
		Timestamp:      h.clock.Now().UnixMilli(),
	}
	if data, err := json.Marshal(ticker); err == nil {
		if err := h.store.Set(h.ctx, kv.TickerPrefix+symbol, string(data)); err != nil {
			h.log.Warnw("ticker_write_failed", "symbol", symbol, "err", err)
		}
	}
}

// recordTrade writes the durable trade row, retrying once on transient
// failure before failing forward.
func (h *Handler) recordTrade(symbol string, tsMillis int64, price, qty uint64, buyer, seller *engine.Order) {
	err := h.trades.Put(h.ctx, symbol, tsMillis, price, qty, buyer.UserID, seller.UserID, buyer.ID, seller.ID)
	if err == nil {
		return
	}
	h.log.Warnw("trade_store_retry", "symbol", symbol, "err", err)
	time.Sleep(50 * time.Millisecond)
	if err := h.trades.Put(h.ctx, symbol, tsMillis, price, qty, buyer.UserID, seller.UserID, buyer.ID, seller.ID); err != nil {
		h.log.Errorw("trade_store_failed", "symbol", symbol, "err", err)
	}
}
