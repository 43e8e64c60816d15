package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Conditions is a bitset of order execution constraints.
type Conditions uint8

const (
	CondAON Conditions = 1 << iota // all-or-none
	CondIOC                        // immediate-or-cancel
)

func (c Conditions) AllOrNone() bool         { return c&CondAON != 0 }
func (c Conditions) ImmediateOrCancel() bool { return c&CondIOC != 0 }

// Order is an order intent plus its running fill state. Price 0 marks a
// market order. Quantities and prices are fixed-point integers.
type Order struct {
	ID         string
	UserID     string
	Symbol     string
	Side       Side
	Price      uint64
	StopPrice  uint64
	Qty        uint64
	FilledQty  uint64
	FilledCost uint64
	Conditions Conditions
	Timestamp  int64 // ms since epoch at arrival, defines time priority
}

func (o *Order) IsBuy() bool     { return o.Side == Buy }
func (o *Order) IsMarket() bool  { return o.Price == 0 }
func (o *Order) OpenQty() uint64 { return o.Qty - o.FilledQty }

// Fill applies an execution to the order's running fill state. FilledQty and
// FilledCost only ever advance; a fill beyond the open quantity is refused.
func (o *Order) Fill(qty, cost uint64, _ uint64) error {
	if qty > o.OpenQty() {
		return fmt.Errorf("fill qty %d exceeds open qty %d for order %s", qty, o.OpenQty(), o.ID)
	}
	o.FilledQty += qty
	o.FilledCost += cost
	return nil
}

type orderJSON struct {
	OrderID    string         `json:"order_id"`
	UserID     string         `json:"user_id"`
	Symbol     string         `json:"symbol"`
	Side       string         `json:"side"`
	Price      uint64         `json:"price"`
	Quantity   uint64         `json:"quantity"`
	FilledQty  uint64         `json:"filled_qty"`
	FilledCost uint64         `json:"filled_cost"`
	StopPrice  uint64         `json:"stop_price"`
	Conditions conditionsJSON `json:"conditions"`
	Timestamp  int64          `json:"timestamp"`
}

type conditionsJSON struct {
	AllOrNone         bool `json:"all_or_none"`
	ImmediateOrCancel bool `json:"immediate_or_cancel"`
}

func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Symbol:     o.Symbol,
		Side:       o.Side.String(),
		Price:      o.Price,
		Quantity:   o.Qty,
		FilledQty:  o.FilledQty,
		FilledCost: o.FilledCost,
		StopPrice:  o.StopPrice,
		Conditions: conditionsJSON{
			AllOrNone:         o.Conditions.AllOrNone(),
			ImmediateOrCancel: o.Conditions.ImmediateOrCancel(),
		},
		Timestamp: o.Timestamp,
	})
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var j orderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	side := Buy
	if j.Side == "SELL" || j.Side == "sell" {
		side = Sell
	}
	var cond Conditions
	if j.Conditions.AllOrNone {
		cond |= CondAON
	}
	if j.Conditions.ImmediateOrCancel {
		cond |= CondIOC
	}
	ts := j.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	*o = Order{
		ID:         j.OrderID,
		UserID:     j.UserID,
		Symbol:     j.Symbol,
		Side:       side,
		Price:      j.Price,
		StopPrice:  j.StopPrice,
		Qty:        j.Quantity,
		FilledQty:  j.FilledQty,
		FilledCost: j.FilledCost,
		Conditions: cond,
		Timestamp:  ts,
	}
	return nil
}
