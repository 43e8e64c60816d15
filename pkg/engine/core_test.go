package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoreAddAndMatch(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	require.NoError(t, c.AddOrder(ask("A1", 100, 5, 1)))
	require.NoError(t, c.AddOrder(bid("B1", 100, 5, 2)))

	require.Len(t, r.fills, 1)
	orders, trades := c.Totals()
	assert.Equal(t, uint64(2), orders)
	assert.Equal(t, uint64(1), trades)

	// both orders fully filled and pruned from the registry
	assert.Equal(t, 0, c.GetOrderCount("NVA"))
	assert.Equal(t, 1, c.GetSymbolCount())
}

func TestCoreDuplicateOrderID(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	require.NoError(t, c.AddOrder(bid("B1", 100, 5, 1)))
	err := c.AddOrder(bid("B1", 99, 5, 2))
	assert.Error(t, err)
	assert.Equal(t, 1, c.GetOrderCount("NVA"))
}

func TestCoreCancel(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	require.NoError(t, c.AddOrder(bid("B1", 100, 5, 1)))
	assert.True(t, c.CancelOrder("NVA", "B1"))
	assert.Equal(t, 0, c.GetOrderCount("NVA"))

	// unknown order fails silently with false
	assert.False(t, c.CancelOrder("NVA", "B1"))
	assert.False(t, c.CancelOrder("GHOST", "B1"))
}

func TestCoreReplace(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	require.NoError(t, c.AddOrder(bid("B1", 100, 5, 1)))
	assert.True(t, c.ReplaceOrder("NVA", "B1", 5, 0))
	assert.False(t, c.ReplaceOrder("NVA", "ghost", 5, 0))

	// still registered after replace
	assert.Equal(t, 1, c.GetOrderCount("NVA"))
}

func TestCoreRejectedOrderPruned(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	o := bid("B1", 100, 10, 1)
	o.Conditions = CondAON
	require.NoError(t, c.AddOrder(o))

	assert.Equal(t, "AON unfillable", r.rejects["B1"])
	assert.Equal(t, 0, c.GetOrderCount("NVA"))
}

func TestCoreLazyBookCreationAndRemoval(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	require.NoError(t, c.AddOrder(bid("B1", 100, 5, 1)))
	assert.ElementsMatch(t, []string{"NVA"}, c.GetAllSymbols())

	assert.True(t, c.RemoveOrderBook("NVA"))
	assert.False(t, c.RemoveOrderBook("NVA"))
	assert.Equal(t, 0, c.GetSymbolCount())
}

func TestRestingOrdersIndexed(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	require.NoError(t, c.AddOrder(bid("B1", 100, 5, 1)))
	require.NoError(t, c.AddOrder(bid("B2", 99, 5, 2)))
	require.NoError(t, c.AddOrder(ask("A1", 101, 5, 3)))

	assert.Equal(t, 3, c.GetOrderCount("NVA"))
}
