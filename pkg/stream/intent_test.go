package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaex/novaex/pkg/engine"
)

func TestParseIntentAdd(t *testing.T) {
	raw := `{
		"action": "ADD",
		"order_id": "o-1", "user_id": "u-1", "symbol": "NVA",
		"side": "SELL", "price": 100, "quantity": 5, "stop_price": 0,
		"conditions": {"all_or_none": false, "immediate_or_cancel": true},
		"timestamp": 1765864980000
	}`

	in, err := ParseIntent([]byte(raw))
	require.NoError(t, err)

	o := in.Order()
	assert.Equal(t, "o-1", o.ID)
	assert.Equal(t, engine.Sell, o.Side)
	assert.Equal(t, uint64(100), o.Price)
	assert.Equal(t, uint64(5), o.Qty)
	assert.True(t, o.Conditions.ImmediateOrCancel())
	assert.False(t, o.Conditions.AllOrNone())
	assert.Equal(t, int64(1765864980000), o.Timestamp)
}

func TestParseIntentIsBuyForm(t *testing.T) {
	raw := `{"order_id":"o-2","user_id":"u","symbol":"NVA","is_buy":false,"price":1,"quantity":1}`

	in, err := ParseIntent([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, ActionAdd, in.Action) // action defaults to ADD
	assert.Equal(t, engine.Sell, in.Order().Side)

	raw = `{"order_id":"o-3","user_id":"u","symbol":"NVA","is_buy":true,"price":1,"quantity":1}`
	in, err = ParseIntent([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, engine.Buy, in.Order().Side)
}

func TestParseIntentReplace(t *testing.T) {
	raw := `{"action":"REPLACE","order_id":"o-1","user_id":"u","symbol":"NVA","qty_delta":-2,"new_price":105}`

	in, err := ParseIntent([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, ActionReplace, in.Action)
	assert.Equal(t, int64(-2), in.QtyDelta)
	assert.Equal(t, uint64(105), in.NewPrice)
}

func TestParseIntentRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"bad json":       `{"action":`,
		"unknown action": `{"action":"NUKE","order_id":"o","symbol":"NVA"}`,
		"unknown field":  `{"action":"ADD","order_id":"o","symbol":"NVA","bogus":1}`,
		"no order_id":    `{"action":"ADD","symbol":"NVA"}`,
		"no symbol":      `{"action":"ADD","order_id":"o"}`,
	}
	for name, raw := range cases {
		_, err := ParseIntent([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestOrderTimestampDefaultsToNow(t *testing.T) {
	in, err := ParseIntent([]byte(`{"order_id":"o","user_id":"u","symbol":"NVA","price":1,"quantity":1}`))
	require.NoError(t, err)
	assert.NotZero(t, in.Order().Timestamp)
}
