package executor

import (
	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

// isOrderStale reports whether a working limit order has drifted too far
// from the current top of book: a BUY is stale once its price is below the
// best ask by more than ratio of the ask; a SELL is stale once its price is
// above the best bid by more than ratio of the bid.
func isOrderStale(side types.Side, limitPrice decimal.Decimal, book MarketUpdate, ratio decimal.Decimal) bool {
	one := decimal.NewFromInt(1)
	if side == types.Buy {
		if !book.HasAsk {
			return false
		}
		threshold := book.BestAskPrice.Mul(one.Sub(ratio))
		return limitPrice.LessThan(threshold)
	}
	if !book.HasBid {
		return false
	}
	threshold := book.BestBidPrice.Mul(one.Add(ratio))
	return limitPrice.GreaterThan(threshold)
}
