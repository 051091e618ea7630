package executor

import (
	"testing"

	"hedgeengine/pkg/types"
)

func mu(bid, ask string) MarketUpdate {
	u := MarketUpdate{}
	if bid != "" {
		u.BestBidPrice = dd(bid)
		u.HasBid = true
	}
	if ask != "" {
		u.BestAskPrice = dd(ask)
		u.HasAsk = true
	}
	return u
}

func TestCalculateLimitPriceBestAskBidCrossesOppositeTop(t *testing.T) {
	t.Parallel()
	book := mu("29990", "30000")

	buyPrice := calculateLimitPrice(types.PlacementBestAskBid, types.Buy, book, book, dd("0.5"))
	if !buyPrice.Equal(dd("30000")) {
		t.Errorf("BUY limit = %s, want 30000 (crosses ask)", buyPrice)
	}

	sellPrice := calculateLimitPrice(types.PlacementBestAskBid, types.Sell, book, book, dd("0.5"))
	if !sellPrice.Equal(dd("29990")) {
		t.Errorf("SELL limit = %s, want 29990 (crosses bid)", sellPrice)
	}
}

func TestCalculateLimitPriceOneTickInside(t *testing.T) {
	t.Parallel()
	book := mu("29990", "30000")

	buyPrice := calculateLimitPrice(types.PlacementOneTickInside, types.Buy, book, book, dd("0.5"))
	if !buyPrice.Equal(dd("30000.5")) {
		t.Errorf("BUY one-tick-inside = %s, want 30000.5", buyPrice)
	}

	sellPrice := calculateLimitPrice(types.PlacementOneTickInside, types.Sell, book, book, dd("0.5"))
	if !sellPrice.Equal(dd("29989.5")) {
		t.Errorf("SELL one-tick-inside = %s, want 29989.5", sellPrice)
	}
}

func TestCalculateLimitPriceFallsBackWhenOppositeSideMissing(t *testing.T) {
	t.Parallel()
	book := mu("29990", "")

	price := calculateLimitPrice(types.PlacementBestAskBid, types.Buy, book, book, dd("1"))
	if !price.Equal(dd("29993")) {
		t.Errorf("fallback BUY price = %s, want 29993 (own bid + 3 ticks)", price)
	}
}

func TestCalculateLimitPriceClampsToMinOneTick(t *testing.T) {
	t.Parallel()
	book := mu("", "0.1")
	price := calculateLimitPrice(types.PlacementBestAskBid, types.Buy, book, book, dd("0.5"))
	if !price.Equal(dd("0.5")) {
		t.Errorf("clamped price = %s, want tickSize 0.5", price)
	}
}
