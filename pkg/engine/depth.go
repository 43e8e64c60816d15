package engine

// DepthLevels bounds the aggregated ladder on each side.
const DepthLevels = 10

type DepthLevel struct {
	Price uint64 `json:"price"`
	Qty   uint64 `json:"quantity"`
	Count int    `json:"count"`
}

// Depth is a size-bounded aggregation of the top price levels per side.
// Empty levels are never present.
type Depth struct {
	Bids []DepthLevel `json:"bids"`
	Asks []DepthLevel `json:"asks"`
}

func (d *Depth) BestBid() (DepthLevel, bool) {
	if len(d.Bids) == 0 {
		return DepthLevel{}, false
	}
	return d.Bids[0], true
}

func (d *Depth) BestAsk() (DepthLevel, bool) {
	if len(d.Asks) == 0 {
		return DepthLevel{}, false
	}
	return d.Asks[0], true
}

func (d *Depth) Equal(other *Depth) bool {
	return levelsEqual(d.Bids, other.Bids) && levelsEqual(d.Asks, other.Asks)
}

// SameBBO reports whether the top level of both sides is unchanged.
func (d *Depth) SameBBO(other *Depth) bool {
	return topEqual(d.Bids, other.Bids) && topEqual(d.Asks, other.Asks)
}

func (d *Depth) clone() *Depth {
	c := &Depth{
		Bids: make([]DepthLevel, len(d.Bids)),
		Asks: make([]DepthLevel, len(d.Asks)),
	}
	copy(c.Bids, d.Bids)
	copy(c.Asks, d.Asks)
	return c
}

func levelsEqual(a, b []DepthLevel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func topEqual(a, b []DepthLevel) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return a[0] == b[0]
}
