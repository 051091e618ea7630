package executor

import (
	"github.com/shopspring/decimal"

	"hedgeengine/internal/numeric"
)

// chunkPlan is the quantities and feasibility verdicts for both legs of a
// chunk about to be started.
type chunkPlan struct {
	SpotQty         decimal.Decimal
	FuturesQty      decimal.Decimal
	SpotFeasible    bool
	FuturesFeasible bool
	IsLastChunk     bool
}

// planChunk computes the quantities for the chunk about to start
// (CurrentChunkIndex, zero-based) and whether each leg clears its
// instrument's minimum quantity and minimum notional.
func planChunk(s *ExecutionState) chunkPlan {
	isLast := s.CurrentChunkIndex+1 >= s.TotalChunks

	remainingSpot := s.RemainingSpotQty(s.OverallSpotTargetQty)
	remainingFutures := s.RemainingFuturesQty(s.OverallFuturesTargetQty)

	var spotQty, futuresQty decimal.Decimal
	if isLast {
		spotQty = remainingSpot
		futuresQty = remainingFutures
	} else {
		spotQty = decimal.Min(s.ChunkBaseQuantitySpot, remainingSpot)
		futuresQty = decimal.Min(s.ChunkBaseQuantityFutures, remainingFutures)
	}
	spotQty = numeric.RoundDownToStep(spotQty, s.SpotQuantityStep)
	futuresQty = numeric.RoundDownToStep(futuresQty, s.FuturesQuantityStep)

	spotMid, spotHasMid := marketMid(s.SpotMarketData)
	futuresMid, futuresHasMid := marketMid(s.FuturesMarketData)

	return chunkPlan{
		SpotQty:         spotQty,
		FuturesQty:      futuresQty,
		SpotFeasible:    legFeasible(spotQty, s.MinSpotQuantity, s.MinSpotNotional, s.HasMinSpotNotional, spotMid, spotHasMid),
		FuturesFeasible: legFeasible(futuresQty, s.MinFuturesQuantity, s.MinFuturesNotional, s.HasMinFuturesNotional, futuresMid, futuresHasMid),
		IsLastChunk:     isLast,
	}
}

func legFeasible(qty, minQty, minNotional decimal.Decimal, hasMinNotional bool, mid decimal.Decimal, hasMid bool) bool {
	if qty.LessThan(minQty) {
		return false
	}
	if hasMinNotional {
		if !hasMid {
			return false
		}
		if qty.Mul(mid).LessThan(minNotional) {
			return false
		}
	}
	return true
}

func marketMid(m MarketUpdate) (decimal.Decimal, bool) {
	if !m.HasBid || !m.HasAsk {
		return decimal.Zero, false
	}
	return m.BestBidPrice.Add(m.BestAskPrice).Div(decimal.NewFromInt(2)), true
}
