package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/novaex/novaex/pkg/candle"
	"github.com/novaex/novaex/pkg/kv"
)

// Trade is the durable record of one execution.
type Trade struct {
	Symbol      string `json:"symbol"`
	Price       uint64 `json:"price"`
	Quantity    uint64 `json:"quantity"`
	Timestamp   int64  `json:"timestamp"` // ms
	Date        string `json:"date"`      // YYYYMMDD session zone
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	BuyerOrder  string `json:"buyer_order"`
	SellerOrder string `json:"seller_order"`
}

// storedCandle is the durable candle row, keyed (symbol, interval, epoch).
type storedCandle struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Epoch    int64  `json:"time_epoch"`
	Open     uint64 `json:"open"`
	High     uint64 `json:"high"`
	Low      uint64 `json:"low"`
	Close    uint64 `json:"close"`
	Volume   uint64 `json:"volume"`
}

// PebbleStore persists trades and aggregated candles.
//
// Trade rows live under a TRADE#<symbol>#<YYYYMMDD> partition sorted by
// millisecond timestamp; candle rows under (symbol, interval, epoch) with
// upsert-merge semantics so at-least-once replays converge.
type PebbleStore struct {
	db            *pebble.DB
	sessionOffset time.Duration
}

func NewPebbleStore(path string, sessionOffset time.Duration) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, sessionOffset: sessionOffset}, nil
}

// NewPebbleStoreWithDB wraps an already-open database (tests use an
// in-memory FS).
func NewPebbleStoreWithDB(db *pebble.DB, sessionOffset time.Duration) *PebbleStore {
	return &PebbleStore{db: db, sessionOffset: sessionOffset}
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// keys: t:TRADE#<symbol>#<date>:<8-byte-ms>:<buyer>_<seller>, c:<symbol>:<interval>:<8-byte-epoch>
func tradeKey(partition string, tsMillis int64, buyerOrder, sellerOrder string) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(tsMillis))
	k := append([]byte("t:"+partition+":"), ts[:]...)
	return append(k, []byte(":"+buyerOrder+"_"+sellerOrder)...)
}

func candleKey(symbol, interval string, epoch int64) []byte {
	var e [8]byte
	binary.BigEndian.PutUint64(e[:], uint64(epoch))
	return append([]byte("c:"+symbol+":"+interval+":"), e[:]...)
}

func tradePrefix(partition string) []byte { return []byte("t:" + partition + ":") }

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Put records one execution.
func (s *PebbleStore) Put(ctx context.Context, symbol string, tsMillis int64, price, qty uint64, buyerID, sellerID, buyerOrder, sellerOrder string) error {
	date := kv.DayKey(tsMillis/1000, s.sessionOffset)
	t := Trade{
		Symbol:      symbol,
		Price:       price,
		Quantity:    qty,
		Timestamp:   tsMillis,
		Date:        date,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		BuyerOrder:  buyerOrder,
		SellerOrder: sellerOrder,
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}

	partition := "TRADE#" + symbol + "#" + date
	key := tradeKey(partition, tsMillis, buyerOrder, sellerOrder)
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

// TradesByDay loads every trade in a partition in timestamp order.
func (s *PebbleStore) TradesByDay(symbol, date string) ([]Trade, error) {
	prefix := tradePrefix("TRADE#" + symbol + "#" + date)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []Trade
	for iter.First(); iter.Valid(); iter.Next() {
		var t Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// BatchPutCandles upserts aggregated candles. The merge keeps the existing
// open, widens high/low, takes the new close and sums volume. A candle whose
// high, low, close and volume equal the stored row is treated as a replay
// and leaves the row unchanged, so applying the same batch twice is a no-op.
func (s *PebbleStore) BatchPutCandles(ctx context.Context, symbol, interval string, candles []candle.Candle) (int, error) {
	saved := 0
	for _, c := range candles {
		epoch, err := c.Epoch(s.sessionOffset)
		if err != nil {
			continue
		}
		if err := s.upsertCandle(symbol, interval, epoch, c); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

func (s *PebbleStore) upsertCandle(symbol, interval string, epoch int64, c candle.Candle) error {
	key := candleKey(symbol, interval, epoch)

	row := storedCandle{
		Symbol:   symbol,
		Interval: interval,
		Epoch:    epoch,
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Volume:   c.Volume,
	}

	val, closer, err := s.db.Get(key)
	if err == nil {
		var existing storedCandle
		decodeErr := json.Unmarshal(val, &existing)
		closer.Close()
		if decodeErr == nil && existing.Volume == c.Volume && existing.High == c.High &&
			existing.Low == c.Low && existing.Close == c.Close {
			// identical replay, nothing to merge
			row = existing
		} else if decodeErr == nil {
			row.Open = existing.Open
			if existing.High > row.High {
				row.High = existing.High
			}
			if existing.Low < row.Low {
				row.Low = existing.Low
			}
			row.Volume = existing.Volume + c.Volume
		}
	} else if err != pebble.ErrNotFound {
		return fmt.Errorf("get candle: %w", err)
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal candle: %w", err)
	}
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("save candle: %w", err)
	}
	return nil
}

// GetCandle reads one stored row; used by tests.
func (s *PebbleStore) GetCandle(symbol, interval string, epoch int64) (uint64, uint64, uint64, uint64, uint64, bool, error) {
	val, closer, err := s.db.Get(candleKey(symbol, interval, epoch))
	if err == pebble.ErrNotFound {
		return 0, 0, 0, 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, 0, 0, 0, false, err
	}
	defer closer.Close()

	var row storedCandle
	if err := json.Unmarshal(val, &row); err != nil {
		return 0, 0, 0, 0, 0, false, err
	}
	return row.Open, row.High, row.Low, row.Close, row.Volume, true, nil
}
