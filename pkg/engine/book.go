package engine

import (
	"container/heap"
	"sort"
)

// tracker is the book-side view of a resting or matching order. The book
// consumes tracker.open during matching; the Order entity's fill state is
// advanced by whoever handles the fill callbacks.
type tracker struct {
	order *Order
	open  uint64
}

// Book is a single-symbol limit order book with price-time priority.
// Mutating calls queue callbacks; PerformCallbacks dispatches them in
// production order. The book is not internally synchronized - the owning
// core serializes access.
type Book struct {
	symbol    string
	listener  Listener
	selfTrade SelfTradePolicy

	// Heap-based best price tracking (O(1) peek)
	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	// Price level queues (FIFO matching at each price)
	bids map[uint64][]*tracker
	asks map[uint64][]*tracker

	// order ID -> resting price, for O(1) cancel/replace lookup
	priceIndex map[string]uint64

	pending   []callback
	lastDepth *Depth
}

func NewBook(symbol string, l Listener) *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		symbol:     symbol,
		listener:   l,
		bidHeap:    bidHeap,
		askHeap:    askHeap,
		bids:       make(map[uint64][]*tracker),
		asks:       make(map[uint64][]*tracker),
		priceIndex: make(map[string]uint64),
	}
}

func (b *Book) Symbol() string { return b.symbol }

// SetSelfTradePolicy installs the self-trade decision hook. The default
// (nil) permits matches where buyer and seller are the same user.
func (b *Book) SetSelfTradePolicy(p SelfTradePolicy) { b.selfTrade = p }

func (b *Book) enqueue(cb callback) { b.pending = append(b.pending, cb) }

// PerformCallbacks dispatches every queued event to the listener in the
// order it was produced, then clears the queue.
func (b *Book) PerformCallbacks() {
	cbs := b.pending
	b.pending = nil
	for _, cb := range cbs {
		switch cb.kind {
		case cbAccept:
			if b.listener.OnAccept != nil {
				b.listener.OnAccept(cb.order)
			}
		case cbReject:
			if b.listener.OnReject != nil {
				b.listener.OnReject(cb.order, cb.reason)
			}
		case cbCancel:
			if b.listener.OnCancel != nil {
				b.listener.OnCancel(cb.order, cb.reason)
			}
		case cbCancelReject:
			if b.listener.OnCancelReject != nil {
				b.listener.OnCancelReject(cb.order, cb.reason)
			}
		case cbReplace:
			if b.listener.OnReplace != nil {
				b.listener.OnReplace(cb.order, cb.qtyDelta, cb.price)
			}
		case cbReplaceReject:
			if b.listener.OnReplaceReject != nil {
				b.listener.OnReplaceReject(cb.order, cb.reason)
			}
		case cbFill:
			if b.listener.OnFill != nil {
				b.listener.OnFill(cb.order, cb.matched, cb.qty, cb.price)
			}
		case cbTrade:
			if b.listener.OnTrade != nil {
				b.listener.OnTrade(b, cb.qty, cb.price)
			}
		case cbDepth:
			if b.listener.OnDepthChange != nil {
				b.listener.OnDepthChange(b, cb.depth)
			}
		case cbBBO:
			if b.listener.OnBBOChange != nil {
				b.listener.OnBBOChange(b, cb.depth)
			}
		}
	}
}

// Add admits an order for matching. Fires accept (or reject), fills and
// trades for each execution, a residual cancel for IOC/market remainders,
// and a depth change when the ladder mutated.
func (b *Book) Add(o *Order) {
	if o.Symbol != b.symbol {
		b.enqueue(callback{kind: cbReject, order: o, reason: "symbol mismatch"})
		return
	}
	if o.Qty == 0 || o.OpenQty() == 0 {
		b.enqueue(callback{kind: cbReject, order: o, reason: "invalid quantity"})
		return
	}
	if o.Conditions.AllOrNone() && b.fillableQty(o) < o.OpenQty() {
		b.enqueue(callback{kind: cbReject, order: o, reason: "AON unfillable"})
		return
	}

	b.enqueue(callback{kind: cbAccept, order: o})

	t := &tracker{order: o, open: o.OpenQty()}
	if o.IsBuy() {
		b.matchBuy(t)
	} else {
		b.matchSell(t)
	}

	if t.open > 0 {
		switch {
		case o.Conditions.ImmediateOrCancel():
			b.enqueue(callback{kind: cbCancel, order: o, reason: "IOC residual"})
		case o.IsMarket():
			// a market order never rests
			b.enqueue(callback{kind: cbCancel, order: o, reason: "market order residual"})
		default:
			b.rest(t)
		}
	}
	b.emitDepth()
}

// Cancel removes a resting order.
func (b *Book) Cancel(o *Order) {
	if _, _, ok := b.removeResting(o.ID); !ok {
		b.enqueue(callback{kind: cbCancelReject, order: o, reason: "order not found"})
		return
	}
	b.enqueue(callback{kind: cbCancel, order: o})
	b.emitDepth()
}

// Replace adjusts quantity and/or price of a resting order. A price change
// loses time priority: the order is re-matched opportunistically and any
// residual is queued at the tail of the new level.
func (b *Book) Replace(o *Order, qtyDelta int64, newPrice uint64) {
	price, ok := b.priceIndex[o.ID]
	if !ok {
		b.enqueue(callback{kind: cbReplaceReject, order: o, reason: "order not found"})
		return
	}

	newQty := o.Qty
	if qtyDelta != 0 {
		nq := int64(o.Qty) + qtyDelta
		if nq <= int64(o.FilledQty) {
			b.enqueue(callback{kind: cbReplaceReject, order: o, reason: "invalid quantity delta"})
			return
		}
		newQty = uint64(nq)
	}

	t := b.findResting(price, o.ID)
	if t == nil {
		b.enqueue(callback{kind: cbReplaceReject, order: o, reason: "order not found"})
		return
	}

	priceChanged := newPrice != 0 && newPrice != o.Price
	o.Qty = newQty

	if priceChanged {
		b.removeResting(o.ID)
		o.Price = newPrice
		t.open = o.OpenQty()
		if o.IsBuy() {
			b.matchBuy(t)
		} else {
			b.matchSell(t)
		}
		if t.open > 0 {
			b.rest(t)
		}
	} else {
		// quantity-only change keeps queue position
		t.open = o.OpenQty()
	}

	b.enqueue(callback{kind: cbReplace, order: o, qtyDelta: qtyDelta, price: newPrice})
	b.emitDepth()
}

// matchBuy sweeps the ask side while it crosses the taker's limit. Price
// improvement goes to the taker: executions happen at the resting price.
func (b *Book) matchBuy(t *tracker) {
	o := t.order
	for t.open > 0 {
		askP, ok := b.bestAsk()
		if !ok {
			break
		}
		if !o.IsMarket() && askP > o.Price {
			break
		}
		if !b.matchLevelAsks(t, askP) {
			break
		}
	}
}

func (b *Book) matchSell(t *tracker) {
	o := t.order
	for t.open > 0 {
		bidP, ok := b.bestBid()
		if !ok {
			break
		}
		if !o.IsMarket() && bidP < o.Price {
			break
		}
		if !b.matchLevelBids(t, bidP) {
			break
		}
	}
}

// matchLevelAsks executes against the FIFO queue at ask price p. Returns
// false when no execution happened (every remaining maker was blocked by
// the self-trade policy), so the sweep can stop instead of spinning.
func (b *Book) matchLevelAsks(t *tracker, p uint64) bool {
	level := b.asks[p]
	progressed := false
	i := 0
	for i < len(level) && t.open > 0 {
		m := level[i]
		if b.selfTrade != nil && !b.selfTrade(t.order, m.order) {
			i++
			continue
		}
		q := min(t.open, m.open)
		t.open -= q
		m.open -= q
		b.enqueue(callback{kind: cbFill, order: t.order, matched: m.order, qty: q, price: p})
		b.enqueue(callback{kind: cbTrade, qty: q, price: p})
		progressed = true
		if m.open == 0 {
			level = append(level[:i], level[i+1:]...)
			delete(b.priceIndex, m.order.ID)
		} else {
			i++
		}
	}
	if len(level) == 0 {
		delete(b.asks, p)
		b.removeFromAskHeap(p)
	} else {
		b.asks[p] = level
	}
	return progressed
}

func (b *Book) matchLevelBids(t *tracker, p uint64) bool {
	level := b.bids[p]
	progressed := false
	i := 0
	for i < len(level) && t.open > 0 {
		m := level[i]
		if b.selfTrade != nil && !b.selfTrade(t.order, m.order) {
			i++
			continue
		}
		q := min(t.open, m.open)
		t.open -= q
		m.open -= q
		b.enqueue(callback{kind: cbFill, order: t.order, matched: m.order, qty: q, price: p})
		b.enqueue(callback{kind: cbTrade, qty: q, price: p})
		progressed = true
		if m.open == 0 {
			level = append(level[:i], level[i+1:]...)
			delete(b.priceIndex, m.order.ID)
		} else {
			i++
		}
	}
	if len(level) == 0 {
		delete(b.bids, p)
		b.removeFromBidHeap(p)
	} else {
		b.bids[p] = level
	}
	return progressed
}

// fillableQty sums opposite-side open quantity at prices the order would
// accept, capped at the order's open quantity. Used for the AON precheck.
func (b *Book) fillableQty(o *Order) uint64 {
	var total uint64
	want := o.OpenQty()
	if o.IsBuy() {
		for _, p := range b.sortedAskPrices() {
			if !o.IsMarket() && p > o.Price {
				break
			}
			for _, m := range b.asks[p] {
				if b.selfTrade != nil && !b.selfTrade(o, m.order) {
					continue
				}
				total += m.open
				if total >= want {
					return total
				}
			}
		}
		return total
	}
	for _, p := range b.sortedBidPrices() {
		if !o.IsMarket() && p < o.Price {
			break
		}
		for _, m := range b.bids[p] {
			if b.selfTrade != nil && !b.selfTrade(o, m.order) {
				continue
			}
			total += m.open
			if total >= want {
				return total
			}
		}
	}
	return total
}

func (b *Book) rest(t *tracker) {
	p := t.order.Price
	if t.order.IsBuy() {
		if len(b.bids[p]) == 0 {
			heap.Push(b.bidHeap, p)
		}
		b.bids[p] = append(b.bids[p], t)
	} else {
		if len(b.asks[p]) == 0 {
			heap.Push(b.askHeap, p)
		}
		b.asks[p] = append(b.asks[p], t)
	}
	b.priceIndex[t.order.ID] = p
}

func (b *Book) findResting(price uint64, id string) *tracker {
	for _, t := range b.bids[price] {
		if t.order.ID == id {
			return t
		}
	}
	for _, t := range b.asks[price] {
		if t.order.ID == id {
			return t
		}
	}
	return nil
}

// removeResting takes an order out of its level, dropping the level and its
// heap entry when it empties.
func (b *Book) removeResting(id string) (*tracker, uint64, bool) {
	price, ok := b.priceIndex[id]
	if !ok {
		return nil, 0, false
	}

	if arr, exists := b.bids[price]; exists {
		for i, t := range arr {
			if t.order.ID == id {
				b.bids[price] = append(arr[:i], arr[i+1:]...)
				if len(b.bids[price]) == 0 {
					delete(b.bids, price)
					b.removeFromBidHeap(price)
				}
				delete(b.priceIndex, id)
				return t, price, true
			}
		}
	}

	if arr, exists := b.asks[price]; exists {
		for i, t := range arr {
			if t.order.ID == id {
				b.asks[price] = append(arr[:i], arr[i+1:]...)
				if len(b.asks[price]) == 0 {
					delete(b.asks, price)
					b.removeFromAskHeap(price)
				}
				delete(b.priceIndex, id)
				return t, price, true
			}
		}
	}

	return nil, 0, false
}

func (b *Book) bestBid() (uint64, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

func (b *Book) bestAsk() (uint64, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

func (b *Book) removeFromBidHeap(price uint64) {
	for i := 0; i < b.bidHeap.Len(); i++ {
		if (*b.bidHeap)[i] == price {
			heap.Remove(b.bidHeap, i)
			return
		}
	}
}

func (b *Book) removeFromAskHeap(price uint64) {
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

func (b *Book) sortedBidPrices() []uint64 {
	prices := make([]uint64, 0, len(b.bids))
	for p := range b.bids {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	return prices
}

func (b *Book) sortedAskPrices() []uint64 {
	prices := make([]uint64, 0, len(b.asks))
	for p := range b.asks {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	return prices
}

func (b *Book) emitDepth() {
	d := b.computeDepth()
	if b.lastDepth != nil && d.Equal(b.lastDepth) {
		return
	}
	bboChanged := b.lastDepth == nil || !d.SameBBO(b.lastDepth)
	b.enqueue(callback{kind: cbDepth, depth: d})
	if bboChanged {
		b.enqueue(callback{kind: cbBBO, depth: d})
	}
	b.lastDepth = d
}

// computeDepth aggregates the top DepthLevels price levels per side.
func (b *Book) computeDepth() *Depth {
	d := &Depth{}
	for _, p := range b.sortedBidPrices() {
		if len(d.Bids) == DepthLevels {
			break
		}
		var qty uint64
		for _, t := range b.bids[p] {
			qty += t.open
		}
		d.Bids = append(d.Bids, DepthLevel{Price: p, Qty: qty, Count: len(b.bids[p])})
	}
	for _, p := range b.sortedAskPrices() {
		if len(d.Asks) == DepthLevels {
			break
		}
		var qty uint64
		for _, t := range b.asks[p] {
			qty += t.open
		}
		d.Asks = append(d.Asks, DepthLevel{Price: p, Qty: qty, Count: len(b.asks[p])})
	}
	return d
}

// Depth returns the current ladder without emitting events.
func (b *Book) Depth() *Depth { return b.computeDepth() }

// RestingOrders lists open orders in book priority order: bids best-first
// then asks best-first, FIFO within a level. Used by snapshots so a replay
// re-creates the same queue positions.
func (b *Book) RestingOrders() []*Order {
	var orders []*Order
	for _, p := range b.sortedBidPrices() {
		for _, t := range b.bids[p] {
			orders = append(orders, t.order)
		}
	}
	for _, p := range b.sortedAskPrices() {
		for _, t := range b.asks[p] {
			orders = append(orders, t.order)
		}
	}
	return orders
}

// restingOpen reports the book-side open quantity for a resting order.
func (b *Book) restingOpen(id string) (uint64, bool) {
	p, ok := b.priceIndex[id]
	if !ok {
		return 0, false
	}
	if t := b.findResting(p, id); t != nil {
		return t.open, true
	}
	return 0, false
}
