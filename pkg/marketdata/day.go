package marketdata

// DayAggregate is the per-symbol session state: OHLC, volume and change
// rate for the current trading day, plus the prior day's change rate.
type DayAggregate struct {
	Open           uint64  `json:"open"`
	High           uint64  `json:"high"`
	Low            uint64  `json:"low"`
	Last           uint64  `json:"last"`
	Volume         uint64  `json:"volume"`
	ChangeRate     float64 `json:"change_rate"`
	PrevChangeRate float64 `json:"prev_change_rate"`
	TradingDay     string  `json:"trading_day"`
}

// ApplyTrade folds one execution into the aggregate. Open is set exactly
// once per trading day, at the first trade.
func (d *DayAggregate) ApplyTrade(price, qty uint64) {
	if d.Open == 0 {
		d.Open = price
		d.High = price
		d.Low = price
	}
	if price > d.High {
		d.High = price
	}
	if price < d.Low {
		d.Low = price
	}
	d.Last = price
	d.Volume += qty
	if d.Open > 0 {
		d.ChangeRate = (float64(price) - float64(d.Open)) / float64(d.Open) * 100
	}
}

// roll resets the aggregate for a new trading day, carrying the closed
// day's change rate into PrevChangeRate.
func (d *DayAggregate) roll(newDay string) {
	d.PrevChangeRate = d.ChangeRate
	d.Open = 0
	d.High = 0
	d.Low = 0
	d.Last = 0
	d.Volume = 0
	d.ChangeRate = 0
	d.TradingDay = newDay
}

// prevDayRecord is the prior-day backup written to prev:<symbol> on roll.
type prevDayRecord struct {
	Symbol     string  `json:"symbol"`
	Date       string  `json:"date"`
	Open       uint64  `json:"open"`
	High       uint64  `json:"high"`
	Low        uint64  `json:"low"`
	Close      uint64  `json:"close"`
	ChangeRate float64 `json:"change_rate"`
}
