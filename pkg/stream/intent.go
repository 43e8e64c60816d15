package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/novaex/novaex/pkg/engine"
)

const (
	ActionAdd     = "ADD"
	ActionCancel  = "CANCEL"
	ActionReplace = "REPLACE"
)

type intentConditions struct {
	AllOrNone         bool `json:"all_or_none"`
	ImmediateOrCancel bool `json:"immediate_or_cancel"`
}

// OrderIntent is one inbound stream record. Side may arrive as the string
// "side" or the boolean "is_buy"; both are accepted.
type OrderIntent struct {
	Action     string           `json:"action"`
	OrderID    string           `json:"order_id"`
	UserID     string           `json:"user_id"`
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side,omitempty"`
	IsBuy      *bool            `json:"is_buy,omitempty"`
	Price      uint64           `json:"price"`
	Quantity   uint64           `json:"quantity"`
	StopPrice  uint64           `json:"stop_price"`
	Conditions intentConditions `json:"conditions"`
	Timestamp  int64            `json:"timestamp"`
	QtyDelta   int64            `json:"qty_delta,omitempty"`
	NewPrice   uint64           `json:"new_price,omitempty"`
}

// ParseIntent decodes and validates a record. Unknown fields are refused so
// malformed producers surface immediately instead of silently dropping data.
func ParseIntent(data []byte) (*OrderIntent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var in OrderIntent
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}

	if in.Action == "" {
		in.Action = ActionAdd
	}
	switch in.Action {
	case ActionAdd, ActionCancel, ActionReplace:
	default:
		return nil, fmt.Errorf("unknown action %q", in.Action)
	}
	if in.OrderID == "" {
		return nil, fmt.Errorf("missing order_id")
	}
	if in.Symbol == "" {
		return nil, fmt.Errorf("missing symbol")
	}
	return &in, nil
}

// Order materializes the intent into an order entity.
func (in *OrderIntent) Order() *engine.Order {
	side := engine.Buy
	if in.IsBuy != nil {
		if !*in.IsBuy {
			side = engine.Sell
		}
	} else if in.Side == "SELL" || in.Side == "sell" {
		side = engine.Sell
	}

	var cond engine.Conditions
	if in.Conditions.AllOrNone {
		cond |= engine.CondAON
	}
	if in.Conditions.ImmediateOrCancel {
		cond |= engine.CondIOC
	}

	ts := in.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	return &engine.Order{
		ID:         in.OrderID,
		UserID:     in.UserID,
		Symbol:     in.Symbol,
		Side:       side,
		Price:      in.Price,
		StopPrice:  in.StopPrice,
		Qty:        in.Quantity,
		Conditions: cond,
		Timestamp:  ts,
	}
}
