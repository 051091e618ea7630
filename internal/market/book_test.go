package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

func lvl(price, qty string) types.OrderbookLevel {
	return types.OrderbookLevel{Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty)}
}

func TestApplySnapshot(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")

	b.ApplySnapshot(
		[]types.OrderbookLevel{lvl("29999", "100"), lvl("29998", "200")},
		[]types.OrderbookLevel{lvl("30001", "150")},
	)

	bid, ask, ok := b.BestBidAsk()
	if !ok {
		t.Fatal("BestBidAsk returned ok=false after applying snapshot")
	}
	if !bid.Price.Equal(decimal.RequireFromString("29999")) {
		t.Errorf("bid = %v, want 29999", bid.Price)
	}
	if !ask.Price.Equal(decimal.RequireFromString("30001")) {
		t.Errorf("ask = %v, want 30001", ask.Price)
	}
}

func TestApplyLevelsMergesAndRemoves(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")
	b.ApplySnapshot(
		[]types.OrderbookLevel{lvl("29999", "100"), lvl("29998", "50")},
		[]types.OrderbookLevel{lvl("30001", "75"), lvl("30002", "25")},
	)

	// A zero-quantity update removes the best bid; a new price improves the ask.
	b.ApplyLevels(
		[]types.OrderbookLevel{lvl("29999", "0")},
		[]types.OrderbookLevel{lvl("30000.5", "10")},
	)

	bid, ask, ok := b.BestBidAsk()
	if !ok {
		t.Fatal("BestBidAsk returned ok=false")
	}
	if !bid.Price.Equal(decimal.RequireFromString("29998")) {
		t.Errorf("bid = %v, want 29998 (best bid removed)", bid.Price)
	}
	if !ask.Price.Equal(decimal.RequireFromString("30000.5")) {
		t.Errorf("ask = %v, want 30000.5 (new best ask)", ask.Price)
	}
}

func TestMidPrice(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")

	mid, ok := b.MidPrice()
	if ok {
		t.Error("MidPrice should return false for empty book")
	}
	if !mid.IsZero() {
		t.Errorf("mid = %v, want 0 for empty book", mid)
	}

	b.ApplySnapshot(
		[]types.OrderbookLevel{lvl("29900", "100")},
		[]types.OrderbookLevel{lvl("30100", "100")},
	)

	mid, ok = b.MidPrice()
	if !ok {
		t.Fatal("MidPrice returned false for populated book")
	}
	if !mid.Equal(decimal.RequireFromString("30000")) {
		t.Errorf("mid = %v, want 30000", mid)
	}
}

func TestBestBidAskEmpty(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")

	_, _, ok := b.BestBidAsk()
	if ok {
		t.Error("BestBidAsk should return ok=false for empty book")
	}
}

func TestBestBidAskOneSided(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")

	b.ApplySnapshot([]types.OrderbookLevel{lvl("29900", "100")}, nil)

	_, _, ok := b.BestBidAsk()
	if ok {
		t.Error("BestBidAsk should return ok=false with only bids")
	}
}

func TestIsStale(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")

	if !b.IsStale(time.Second) {
		t.Error("new book should be stale")
	}

	b.ApplySnapshot([]types.OrderbookLevel{lvl("29900", "100")}, []types.OrderbookLevel{lvl("30100", "100")})

	if b.IsStale(time.Second) {
		t.Error("just-updated book should not be stale")
	}

	time.Sleep(50 * time.Millisecond)
	if !b.IsStale(10 * time.Millisecond) {
		t.Error("book should be stale after maxAge")
	}
}
