package candle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignToTimeframe(t *testing.T) {
	tests := []struct {
		in      string
		minutes int
		want    string
	}{
		{"202512161423", 5, "202512161420"},
		{"202512161423", 15, "202512161415"},
		{"202512161423", 60, "202512161400"},
		{"202512161423", 240, "202512161200"},
		{"202512160000", 240, "202512160000"},
		{"202512162359", 60, "202512162300"},
		{"202512161400", 5, "202512161400"},
	}
	for _, tc := range tests {
		got, err := AlignToTimeframe(tc.in, tc.minutes)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s/%d", tc.in, tc.minutes)
	}
}

func TestAlignIsIdempotent(t *testing.T) {
	for _, tf := range Timeframes {
		once, err := AlignToTimeframe("202512161437", tf.Minutes)
		require.NoError(t, err)
		twice, err := AlignToTimeframe(once, tf.Minutes)
		require.NoError(t, err)
		assert.Equal(t, once, twice, tf.Interval)
	}
}

func TestAlignRejectsBadKeys(t *testing.T) {
	_, err := AlignToTimeframe("2025", 5)
	assert.Error(t, err)
	_, err = AlignToTimeframe("20251216xx23", 5)
	assert.Error(t, err)
}

func minute(tm string, o, h, l, c, v uint64) Candle {
	return Candle{Symbol: "NVA", Time: tm, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestAggregateCompleteWindowOnly(t *testing.T) {
	// three 1m candles cannot complete a 5m window
	candles := []Candle{
		minute("202512161400", 100, 110, 95, 105, 10),
		minute("202512161401", 105, 107, 104, 106, 5),
		minute("202512161402", 106, 109, 105, 108, 3),
	}

	agg := Aggregate(candles)
	assert.Len(t, agg["1m"], 3)
	assert.Empty(t, agg["5m"])
}

func TestAggregateFiveMinuteWindow(t *testing.T) {
	candles := []Candle{
		// newest-first, as the closed buffer delivers them
		minute("202512161404", 108, 112, 107, 111, 4),
		minute("202512161403", 107, 108, 106, 108, 2),
		minute("202512161402", 106, 109, 105, 107, 3),
		minute("202512161401", 105, 107, 104, 106, 5),
		minute("202512161400", 100, 110, 95, 105, 10),
	}

	agg := Aggregate(candles)
	require.Len(t, agg["5m"], 1)

	bar := agg["5m"][0]
	assert.Equal(t, "202512161400", bar.Time)
	assert.Equal(t, uint64(100), bar.Open)  // first by time
	assert.Equal(t, uint64(111), bar.Close) // last by time
	assert.Equal(t, uint64(112), bar.High)
	assert.Equal(t, uint64(95), bar.Low)
	assert.Equal(t, uint64(24), bar.Volume)
}

func TestAggregateHourFromSixtyMinutes(t *testing.T) {
	var candles []Candle
	base := time.Date(2025, 12, 16, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		tm := base.Add(time.Duration(i) * time.Minute).Format("200601021504")
		candles = append(candles, minute(tm, 100+uint64(i), 100+uint64(i), 100+uint64(i), 100+uint64(i), 1))
	}

	agg := Aggregate(candles)
	require.Len(t, agg["1h"], 1)
	assert.Equal(t, "202512161400", agg["1h"][0].Time)
	assert.Equal(t, uint64(60), agg["1h"][0].Volume)
	assert.Len(t, agg["5m"], 12)
	assert.Len(t, agg["15m"], 4)
	assert.Empty(t, agg["4h"])
}

func TestCandleJSONRoundTrip(t *testing.T) {
	c := minute("202512161403", 100, 110, 100, 110, 3)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var back Candle
	require.NoError(t, json.Unmarshal(data, &back))
	back.Symbol = c.Symbol
	assert.Equal(t, c, back)
}

func TestCandleDecodesLuaHashForm(t *testing.T) {
	// shape produced by cjson.encode of the live hash: all values strings
	raw := `{"o":"100","h":"110","l":"100","c":"110","v":"3","t":"202512161403"}`

	var c Candle
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, uint64(100), c.Open)
	assert.Equal(t, uint64(110), c.High)
	assert.Equal(t, uint64(3), c.Volume)
	assert.Equal(t, "202512161403", c.Time)
}

func TestCandleDecodesNumericForm(t *testing.T) {
	raw := `{"o":100,"h":110,"l":100,"c":110,"v":3,"t":"202512161403"}`

	var c Candle
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, uint64(110), c.Close)
}

func TestCandleEpoch(t *testing.T) {
	c := Candle{Time: "202512161403"}

	epoch, err := c.Epoch(9 * time.Hour)
	require.NoError(t, err)

	// 14:03 KST is 05:03 UTC
	want := time.Date(2025, 12, 16, 5, 3, 0, 0, time.UTC).Unix()
	assert.Equal(t, want, epoch)
}
