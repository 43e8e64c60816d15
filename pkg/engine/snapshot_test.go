package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMixedBook(t *testing.T, c *Core) {
	t.Helper()
	require.NoError(t, c.AddOrder(bid("B1", 100, 5, 1)))
	require.NoError(t, c.AddOrder(bid("B2", 99, 3, 2)))
	require.NoError(t, c.AddOrder(bid("B3", 100, 2, 3)))
	require.NoError(t, c.AddOrder(ask("A1", 101, 4, 4)))
	require.NoError(t, c.AddOrder(ask("A2", 102, 6, 5)))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())
	seedMixedBook(t, c)

	before, err := c.SnapshotOrderBook("NVA")
	require.NoError(t, err)
	require.NotEmpty(t, before)

	depthBefore := depthOf(t, c)

	require.True(t, c.RemoveOrderBook("NVA"))
	require.NoError(t, c.RestoreOrderBook("NVA", before))

	assert.Equal(t, 5, c.GetOrderCount("NVA"))
	assert.Equal(t, depthBefore, depthOf(t, c))

	after, err := c.SnapshotOrderBook("NVA")
	require.NoError(t, err)

	snapA, err := decodeSnapshot(before)
	require.NoError(t, err)
	snapB, err := decodeSnapshot(after)
	require.NoError(t, err)

	require.Equal(t, len(snapA.Orders), len(snapB.Orders))
	for i := range snapA.Orders {
		a, b := snapA.Orders[i], snapB.Orders[i]
		assert.Equal(t, a.ID, b.ID)
		assert.Equal(t, a.Side, b.Side)
		assert.Equal(t, a.Price, b.Price)
		assert.Equal(t, a.OpenQty(), b.OpenQty())
		assert.Equal(t, a.Timestamp, b.Timestamp)
	}
}

func depthOf(t *testing.T, c *Core) Depth {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.books["NVA"]
	require.NotNil(t, b)
	return *b.Depth()
}

func TestSnapshotPreservesPartialFills(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	require.NoError(t, c.AddOrder(ask("A1", 100, 10, 1)))
	require.NoError(t, c.AddOrder(bid("B1", 100, 4, 2))) // A1 partially filled

	data, err := c.SnapshotOrderBook("NVA")
	require.NoError(t, err)

	snap, err := decodeSnapshot(data)
	require.NoError(t, err)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, "A1", snap.Orders[0].ID)
	assert.Equal(t, uint64(4), snap.Orders[0].FilledQty)
	assert.Equal(t, uint64(6), snap.Orders[0].OpenQty())
}

func TestSnapshotEmptyBook(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	data, err := c.SnapshotOrderBook("GHOST")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	r := newRecorder()
	c := NewCore(r.listener())

	err := c.RestoreOrderBook("NVA", `{"v":99,"symbol":"NVA","orders":[]}`)
	assert.Error(t, err)

	err = c.RestoreOrderBook("NVA", `not json`)
	assert.Error(t, err)
}
