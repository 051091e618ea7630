package executor

import (
	"hedgeengine/internal/exchange"
)

// applyOrderUpdate folds an order-update event into whichever leg's active
// order it matches. A mismatch on both legs (an update for an order this
// state no longer tracks, e.g. a stale replacement) is a silent no-op.
func applyOrderUpdate(s *ExecutionState, evt exchange.WsEvent) {
	s.ApplySpotUpdate(evt.Order)
	s.ApplyFuturesUpdate(evt.Order)
}

// applyBookUpdate folds an order-book event into the matching leg's cached
// top-of-book, by symbol.
func applyBookUpdate(s *ExecutionState, evt exchange.WsEvent) {
	book := evt.Book
	var bid, ask MarketUpdate
	bid.HasBid, bid.HasAsk = false, false

	if len(book.Bids) > 0 {
		bid = MarketUpdate{BestBidPrice: book.Bids[0].Price, BestBidQty: book.Bids[0].Qty, HasBid: true}
	}
	if len(book.Asks) > 0 {
		ask = MarketUpdate{BestAskPrice: book.Asks[0].Price, BestAskQty: book.Asks[0].Qty, HasAsk: true}
	}

	switch book.Symbol {
	case s.SpotSymbol:
		mergeMarketUpdate(&s.SpotMarketData, bid, ask)
	case s.FuturesSymbol:
		mergeMarketUpdate(&s.FuturesMarketData, bid, ask)
	}
}

func mergeMarketUpdate(dst *MarketUpdate, bid, ask MarketUpdate) {
	if bid.HasBid {
		dst.BestBidPrice = bid.BestBidPrice
		dst.BestBidQty = bid.BestBidQty
		dst.HasBid = true
	}
	if ask.HasAsk {
		dst.BestAskPrice = ask.BestAskPrice
		dst.BestAskQty = ask.BestAskQty
		dst.HasAsk = true
	}
}
