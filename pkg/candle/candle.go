package candle

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Candle is one OHLCV bar. Time is YYYYMMDDHHmm in the exchange session
// zone; lexicographic order of Time is chronological order.
type Candle struct {
	Symbol string
	Time   string
	Open   uint64
	High   uint64
	Low    uint64
	Close  uint64
	Volume uint64
}

// Epoch converts the bar's session-local minute key to UTC seconds.
func (c Candle) Epoch(sessionOffset time.Duration) (int64, error) {
	t, err := time.Parse("200601021504", c.Time)
	if err != nil {
		return 0, fmt.Errorf("bad candle time %q: %w", c.Time, err)
	}
	return t.Add(-sessionOffset).Unix(), nil
}

// The closed-candle buffer holds the Lua-encoded live hash, whose values are
// Redis strings: {"o":"100","h":"110",...,"t":"202512161403"}. Marshalling
// keeps that form so buffer entries and archived entries are byte-compatible.

func (c Candle) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"o": strconv.FormatUint(c.Open, 10),
		"h": strconv.FormatUint(c.High, 10),
		"l": strconv.FormatUint(c.Low, 10),
		"c": strconv.FormatUint(c.Close, 10),
		"v": strconv.FormatUint(c.Volume, 10),
		"t": c.Time,
	})
}

func (c *Candle) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if c.Open, err = field(raw, "o"); err != nil {
		return err
	}
	if c.High, err = field(raw, "h"); err != nil {
		return err
	}
	if c.Low, err = field(raw, "l"); err != nil {
		return err
	}
	if c.Close, err = field(raw, "c"); err != nil {
		return err
	}
	if c.Volume, err = field(raw, "v"); err != nil {
		return err
	}
	t, ok := raw["t"]
	if !ok {
		return fmt.Errorf("candle missing field t")
	}
	var s string
	if err := json.Unmarshal(t, &s); err != nil {
		return fmt.Errorf("candle field t: %w", err)
	}
	c.Time = s
	return nil
}

// field accepts both "100" and 100 forms for OHLCV values.
func field(raw map[string]json.RawMessage, name string) (uint64, error) {
	v, ok := raw[name]
	if !ok {
		return 0, fmt.Errorf("candle missing field %s", name)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("candle field %s: %w", name, err)
		}
		return n, nil
	}
	var n uint64
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, fmt.Errorf("candle field %s: %w", name, err)
	}
	return n, nil
}

type Timeframe struct {
	Interval string
	Minutes  int
}

// Timeframes the aggregator rolls 1m bars up to.
var Timeframes = []Timeframe{
	{"1m", 1},
	{"5m", 5},
	{"15m", 15},
	{"1h", 60},
	{"4h", 240},
}

// AlignToTimeframe floors a YYYYMMDDHHmm key to its timeframe boundary.
// Hours and minutes are folded together so frames longer than an hour (4h)
// align correctly.
func AlignToTimeframe(ymdhm string, minutes int) (string, error) {
	if len(ymdhm) != 12 {
		return "", fmt.Errorf("bad minute key %q", ymdhm)
	}
	hour, err := strconv.Atoi(ymdhm[8:10])
	if err != nil {
		return "", fmt.Errorf("bad minute key %q: %w", ymdhm, err)
	}
	minute, err := strconv.Atoi(ymdhm[10:12])
	if err != nil {
		return "", fmt.Errorf("bad minute key %q: %w", ymdhm, err)
	}

	total := hour*60 + minute
	aligned := (total / minutes) * minutes

	return fmt.Sprintf("%s%02d%02d", ymdhm[:8], aligned/60, aligned%60), nil
}

// Aggregate groups closed 1m candles into every configured timeframe. A
// higher-timeframe bar is emitted only when its window is complete: the
// constituent count reaches the timeframe in minutes. 1m passes through.
func Aggregate(oneMin []Candle) map[string][]Candle {
	result := make(map[string][]Candle)
	if len(oneMin) == 0 {
		return result
	}

	result["1m"] = oneMin

	for _, tf := range Timeframes {
		if tf.Minutes <= 1 {
			continue
		}

		groups := make(map[string][]Candle)
		for _, c := range oneMin {
			aligned, err := AlignToTimeframe(c.Time, tf.Minutes)
			if err != nil {
				continue
			}
			groups[aligned] = append(groups[aligned], c)
		}

		var aggregated []Candle
		for alignedTime, group := range groups {
			if len(group) >= tf.Minutes {
				aggregated = append(aggregated, merge(group, alignedTime))
			}
		}
		if len(aggregated) > 0 {
			sort.Slice(aggregated, func(i, j int) bool { return aggregated[i].Time < aggregated[j].Time })
			result[tf.Interval] = aggregated
		}
	}

	return result
}

// merge folds a complete window of 1m candles into one bar: open from the
// first, close from the last, high/low widened, volume summed.
func merge(candles []Candle, alignedTime string) Candle {
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	out := Candle{
		Symbol: sorted[0].Symbol,
		Time:   alignedTime,
		Open:   sorted[0].Open,
		Close:  sorted[len(sorted)-1].Close,
		High:   sorted[0].High,
		Low:    sorted[0].Low,
	}
	for _, c := range sorted {
		if c.High > out.High {
			out.High = c.High
		}
		if c.Low < out.Low {
			out.Low = c.Low
		}
		out.Volume += c.Volume
	}
	return out
}
