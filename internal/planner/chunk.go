package planner

import (
	"github.com/shopspring/decimal"

	"hedgeengine/internal/numeric"
	"hedgeengine/pkg/types"
)

// autoChunk splits a planned target into the largest chunk count, up to
// targetCount, for which every chunk's per-leg quantity clears both the
// minimum quantity and the minimum notional floor (when the instrument
// declares one). It starts at targetCount and backs off to fewer, larger
// chunks until a feasible split is found, failing only if even a single
// chunk (the whole target placed at once) does not clear the floors.
func autoChunk(
	spotValue decimal.Decimal,
	futuresQty decimal.Decimal,
	spotPrice, futuresPrice decimal.Decimal,
	targetCount uint32,
	minSpotQty, minFuturesQty decimal.Decimal,
	spotStep, futuresStep decimal.Decimal,
	spotInfo, futuresInfo types.Instrument,
) (uint32, decimal.Decimal, decimal.Decimal, error) {
	if targetCount == 0 {
		targetCount = 1
	}

	for n := targetCount; n >= 1; n-- {
		divisor := decimal.NewFromInt(int64(n))
		chunkSpotQty := numeric.RoundDownToStep(spotValue.Div(spotPrice).Div(divisor), spotStep)
		chunkFuturesQty := numeric.RoundDownToStep(futuresQty.Div(divisor), futuresStep)

		if chunkSpotQty.LessThan(minSpotQty) || chunkFuturesQty.LessThan(minFuturesQty) {
			continue
		}
		if spotInfo.HasMinNotional && chunkSpotQty.Mul(spotPrice).LessThan(spotInfo.MinNotional) {
			continue
		}
		if futuresInfo.HasMinNotional && chunkFuturesQty.Mul(futuresPrice).LessThan(futuresInfo.MinNotional) {
			continue
		}
		return n, chunkSpotQty, chunkFuturesQty, nil
	}

	return 0, decimal.Zero, decimal.Zero, planFail(
		"no feasible chunk split: even a single chunk falls below instrument minima (spot min %s, futures min %s)",
		minSpotQty, minFuturesQty,
	)
}
