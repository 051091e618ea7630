package executor

import (
	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

// calculateLimitPrice derives a chunk leg's limit price from the configured
// placement strategy and the leg's current top of book. opposite is the
// book side the order should cross against (ask for a BUY, bid for a SELL);
// same is the order's own side of book, used only as a fallback anchor when
// opposite is unavailable.
func calculateLimitPrice(strategy types.PlacementStrategy, side types.Side, opposite, same MarketUpdate, tickSize decimal.Decimal) decimal.Decimal {
	anchor, ok := oppositeTop(side, opposite)
	if !ok {
		anchor, ok = sameTopFallback(side, same, tickSize)
		if !ok {
			return decimal.Zero
		}
		return anchor
	}

	switch strategy {
	case types.PlacementOneTickInside:
		if side == types.Buy {
			return clampMinOneTick(anchor.Add(tickSize), tickSize)
		}
		return clampMinOneTick(anchor.Sub(tickSize), tickSize)
	case types.PlacementBestAskBid:
		fallthrough
	default:
		return clampMinOneTick(anchor, tickSize)
	}
}

// oppositeTop returns the opposite-side top-of-book price to cross against:
// ask for a BUY, bid for a SELL.
func oppositeTop(side types.Side, opposite MarketUpdate) (decimal.Decimal, bool) {
	if side == types.Buy {
		if !opposite.HasAsk {
			return decimal.Zero, false
		}
		return opposite.BestAskPrice, true
	}
	if !opposite.HasBid {
		return decimal.Zero, false
	}
	return opposite.BestBidPrice, true
}

// sameTopFallback falls back three ticks beyond the order's own side of book
// when the opposite side is empty, per the BestAskBid fallback rule.
func sameTopFallback(side types.Side, same MarketUpdate, tickSize decimal.Decimal) (decimal.Decimal, bool) {
	threeTicks := tickSize.Mul(decimal.NewFromInt(3))
	if side == types.Buy {
		if !same.HasBid {
			return decimal.Zero, false
		}
		return clampMinOneTick(same.BestBidPrice.Add(threeTicks), tickSize), true
	}
	if !same.HasAsk {
		return decimal.Zero, false
	}
	return clampMinOneTick(same.BestAskPrice.Sub(threeTicks), tickSize), true
}

func clampMinOneTick(price, tickSize decimal.Decimal) decimal.Decimal {
	if price.LessThan(tickSize) {
		return tickSize
	}
	return price
}
