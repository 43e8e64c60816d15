package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/novaex/novaex/pkg/engine"
)

// Topics names the outbound streams.
type Topics struct {
	Fills  string
	Trades string
	Status string
	Depth  string
}

// Producer publishes engine events to the outbound streams, keyed by symbol.
// Publish failures are logged and skipped; downstream consumers reconcile.
type Producer struct {
	client *redis.Client
	topics Topics
	log    *zap.SugaredLogger
}

func NewProducer(client *redis.Client, topics Topics, log *zap.SugaredLogger) *Producer {
	return &Producer{client: client, topics: topics, log: log.With("component", "producer")}
}

func (p *Producer) publish(ctx context.Context, stream, symbol string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Errorw("publish_marshal_failed", "stream", stream, "err", err)
		return
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"symbol": symbol, "data": string(data)},
	}).Err()
	if err != nil {
		p.log.Warnw("publish_failed", "stream", stream, "symbol", symbol, "err", err)
	}
}

type fillParty struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	FullyFilled bool   `json:"fully_filled"`
}

type fillEvent struct {
	Event          string    `json:"event"`
	Symbol         string    `json:"symbol"`
	TradeID        string    `json:"trade_id"`
	OrderID        string    `json:"order_id"`
	MatchedOrderID string    `json:"matched_order_id"`
	BuyerID        string    `json:"buyer_id"`
	SellerID       string    `json:"seller_id"`
	Buyer          fillParty `json:"buyer"`
	Seller         fillParty `json:"seller"`
	FillQty        uint64    `json:"fill_qty"`
	FillPrice      uint64    `json:"fill_price"`
	Timestamp      int64     `json:"timestamp"`
}

// PublishFill emits one execution with both participants resolved to
// buyer/seller.
func (p *Producer) PublishFill(ctx context.Context, taker, maker *engine.Order, qty, price uint64) {
	buyer, seller := taker, maker
	if !taker.IsBuy() {
		buyer, seller = maker, taker
	}
	p.publish(ctx, p.topics.Fills, taker.Symbol, fillEvent{
		Event:          "FILL",
		Symbol:         taker.Symbol,
		TradeID:        taker.ID + "_" + maker.ID,
		OrderID:        taker.ID,
		MatchedOrderID: maker.ID,
		BuyerID:        buyer.UserID,
		SellerID:       seller.UserID,
		Buyer:          fillParty{OrderID: buyer.ID, UserID: buyer.UserID, FullyFilled: buyer.OpenQty() == 0},
		Seller:         fillParty{OrderID: seller.ID, UserID: seller.UserID, FullyFilled: seller.OpenQty() == 0},
		FillQty:        qty,
		FillPrice:      price,
		Timestamp:      time.Now().UnixMilli(),
	})
}

type tradeEvent struct {
	Event     string `json:"event"`
	Symbol    string `json:"symbol"`
	Quantity  uint64 `json:"quantity"`
	Price     uint64 `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

func (p *Producer) PublishTrade(ctx context.Context, symbol string, qty, price uint64) {
	p.publish(ctx, p.topics.Trades, symbol, tradeEvent{
		Event:     "TRADE",
		Symbol:    symbol,
		Quantity:  qty,
		Price:     price,
		Timestamp: time.Now().UnixMilli(),
	})
}

// StatusEvent is the compact order status record shared with the notifier.
type StatusEvent struct {
	Event     string `json:"event"`
	Symbol    string `json:"symbol"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (p *Producer) PublishOrderStatus(ctx context.Context, o *engine.Order, status, reason string) StatusEvent {
	ev := StatusEvent{
		Event:     "ORDER_STATUS",
		Symbol:    o.Symbol,
		OrderID:   o.ID,
		UserID:    o.UserID,
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	}
	p.publish(ctx, p.topics.Status, o.Symbol, ev)
	return ev
}

// PublishDepth mirrors the compact depth record onto the legacy depth topic.
func (p *Producer) PublishDepth(ctx context.Context, symbol string, record interface{}) {
	p.publish(ctx, p.topics.Depth, symbol, record)
}
