package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Core owns the symbol registry and serializes every mutating operation,
// including the synchronous listener dispatch it triggers, under one
// exclusive lock. The background snapshot pass takes the same lock and is
// serialization-only, so it stays short.
type Core struct {
	mu sync.Mutex

	listener  Listener
	selfTrade SelfTradePolicy

	books  map[string]*Book
	orders map[string]map[string]*Order

	ordersProcessed atomic.Uint64
	tradesExecuted  atomic.Uint64
}

func NewCore(l Listener) *Core {
	c := &Core{
		books:  make(map[string]*Book),
		orders: make(map[string]map[string]*Order),
	}
	c.listener = c.wrap(l)
	return c
}

// SetSelfTradePolicy installs the policy on every existing book and on books
// created afterwards.
func (c *Core) SetSelfTradePolicy(p SelfTradePolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfTrade = p
	for _, b := range c.books {
		b.SetSelfTradePolicy(p)
	}
}

// wrap chains registry maintenance onto the caller's listener: fully filled
// and residual-cancelled orders leave the order map, and the trade counter
// advances on every execution.
func (c *Core) wrap(l Listener) Listener {
	w := l
	w.OnFill = func(taker, maker *Order, qty, price uint64) {
		if l.OnFill != nil {
			l.OnFill(taker, maker, qty, price)
		}
		c.dropIfDone(taker)
		c.dropIfDone(maker)
	}
	w.OnTrade = func(b *Book, qty, price uint64) {
		c.tradesExecuted.Add(1)
		if l.OnTrade != nil {
			l.OnTrade(b, qty, price)
		}
	}
	w.OnCancel = func(o *Order, reason string) {
		if l.OnCancel != nil {
			l.OnCancel(o, reason)
		}
		c.drop(o)
	}
	w.OnReject = func(o *Order, reason string) {
		if l.OnReject != nil {
			l.OnReject(o, reason)
		}
		c.drop(o)
	}
	return w
}

func (c *Core) dropIfDone(o *Order) {
	if o.OpenQty() == 0 {
		c.drop(o)
	}
}

func (c *Core) drop(o *Order) {
	if m, ok := c.orders[o.Symbol]; ok {
		delete(m, o.ID)
	}
}

func (c *Core) getOrCreateBook(symbol string) *Book {
	if b, ok := c.books[symbol]; ok {
		return b
	}
	b := NewBook(symbol, c.listener)
	b.SetSelfTradePolicy(c.selfTrade)
	c.books[symbol] = b
	c.orders[symbol] = make(map[string]*Order)
	return b
}

// AddOrder admits an order into the book for its symbol, creating the book
// lazily. Fails when the order ID already exists for the symbol.
func (c *Core) AddOrder(o *Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.getOrCreateBook(o.Symbol)
	if _, exists := c.orders[o.Symbol][o.ID]; exists {
		return fmt.Errorf("duplicate order id %s for %s", o.ID, o.Symbol)
	}
	c.orders[o.Symbol][o.ID] = o

	b.Add(o)
	b.PerformCallbacks()

	c.ordersProcessed.Add(1)
	return nil
}

// CancelOrder returns false when the order is unknown.
func (c *Core) CancelOrder(symbol, orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	o := c.findOrder(symbol, orderID)
	if o == nil {
		return false
	}
	b, ok := c.books[symbol]
	if !ok {
		return false
	}

	b.Cancel(o)
	b.PerformCallbacks()

	delete(c.orders[symbol], orderID)
	return true
}

func (c *Core) ReplaceOrder(symbol, orderID string, qtyDelta int64, newPrice uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	o := c.findOrder(symbol, orderID)
	if o == nil {
		return false
	}
	b, ok := c.books[symbol]
	if !ok {
		return false
	}

	b.Replace(o, qtyDelta, newPrice)
	b.PerformCallbacks()
	return true
}

func (c *Core) findOrder(symbol, orderID string) *Order {
	m, ok := c.orders[symbol]
	if !ok {
		return nil
	}
	return m[orderID]
}

// SnapshotOrderBook serializes every order with open quantity, in book
// priority order. An empty or unknown book yields an empty string.
func (c *Core) SnapshotOrderBook(symbol string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.books[symbol]
	if !ok {
		return "", nil
	}
	orders := b.RestingOrders()
	if len(orders) == 0 {
		return "", nil
	}
	return encodeSnapshot(&Snapshot{
		Symbol:    symbol,
		Timestamp: time.Now().UnixMilli(),
		Orders:    orders,
	})
}

// RestoreOrderBook drops any existing book for the symbol and replays the
// snapshot's orders in the order given. Matching re-runs, so depth events
// fire; downstream sinks are idempotent so this is acceptable.
func (c *Core) RestoreOrderBook(symbol, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	delete(c.books, symbol)
	delete(c.orders, symbol)
	b := c.getOrCreateBook(symbol)

	for _, o := range snap.Orders {
		c.orders[symbol][o.ID] = o
		b.Add(o)
	}
	b.PerformCallbacks()
	return nil
}

func (c *Core) RemoveOrderBook(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.books[symbol]
	delete(c.books, symbol)
	delete(c.orders, symbol)
	return ok
}

func (c *Core) GetAllSymbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbols := make([]string, 0, len(c.books))
	for sym := range c.books {
		symbols = append(symbols, sym)
	}
	return symbols
}

func (c *Core) GetSymbolCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.books)
}

func (c *Core) GetOrderCount(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.orders[symbol])
}

// Totals reports lifetime counters: orders processed and trades executed.
func (c *Core) Totals() (uint64, uint64) {
	return c.ordersProcessed.Load(), c.tradesExecuted.Load()
}
