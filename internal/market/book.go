// Package market maintains a local top-of-book mirror for the spot and
// linear-perpetual legs that a chunked execution watches.
//
// Book tracks a single bid/ask pair for one symbol. It is updated from
// WebSocket order-book events (full snapshots and incremental levels) and
// exposes derived values — mid price, best bid/ask, staleness — to the
// chunked executor.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

// Book maintains a local mirror of the best bid/ask for one symbol.
type Book struct {
	mu      sync.RWMutex
	symbol  string
	bids    []types.OrderbookLevel // descending by price
	asks    []types.OrderbookLevel // ascending by price
	updated time.Time
}

// NewBook creates an empty book for symbol.
func NewBook(symbol string) *Book {
	return &Book{symbol: symbol}
}

// Symbol returns the symbol this book mirrors.
func (b *Book) Symbol() string {
	return b.symbol
}

// ApplySnapshot replaces the book entirely. Used for full WS snapshots.
func (b *Book) ApplySnapshot(bids, asks []types.OrderbookLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = bids
	b.asks = asks
	b.updated = time.Now()
}

// ApplyLevels merges incremental level updates into the existing book. A
// zero quantity at a price removes that level; otherwise the level is
// inserted or replaced in sorted order.
func (b *Book) ApplyLevels(bids, asks []types.OrderbookLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = mergeLevels(b.bids, bids, true)
	b.asks = mergeLevels(b.asks, asks, false)
	b.updated = time.Now()
}

func mergeLevels(existing, updates []types.OrderbookLevel, descending bool) []types.OrderbookLevel {
	byPrice := make(map[string]types.OrderbookLevel, len(existing))
	order := make([]string, 0, len(existing))
	for _, lvl := range existing {
		key := lvl.Price.String()
		if _, ok := byPrice[key]; !ok {
			order = append(order, key)
		}
		byPrice[key] = lvl
	}
	for _, lvl := range updates {
		key := lvl.Price.String()
		if lvl.Qty.Sign() == 0 {
			delete(byPrice, key)
			continue
		}
		if _, ok := byPrice[key]; !ok {
			order = append(order, key)
		}
		byPrice[key] = lvl
	}

	merged := make([]types.OrderbookLevel, 0, len(order))
	for _, key := range order {
		if lvl, ok := byPrice[key]; ok {
			merged = append(merged, lvl)
		}
	}
	sortLevels(merged, descending)
	return merged
}

func sortLevels(levels []types.OrderbookLevel, descending bool) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			var swap bool
			if descending {
				swap = levels[j].Price.GreaterThan(levels[j-1].Price)
			} else {
				swap = levels[j].Price.LessThan(levels[j-1].Price)
			}
			if !swap {
				break
			}
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

// BestBidAsk returns the top of book. ok is false if either side is empty.
func (b *Book) BestBidAsk() (bid, ask types.OrderbookLevel, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return types.OrderbookLevel{}, types.OrderbookLevel{}, false
	}
	return b.bids[0], b.asks[0], true
}

// MidPrice returns (bestBid + bestAsk) / 2. ok is false if the book is empty
// on either side.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// IsStale reports whether the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last book update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}
