package executor

import (
	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

// checkValueImbalance reports whether the two legs' cumulative filled value
// has drifted apart by more than maxRatio of the initial target spot value,
// and if so which leg is leading.
func checkValueImbalance(s *ExecutionState, maxRatio decimal.Decimal) (imbalanced bool, leadingLeg types.Leg) {
	if maxRatio.Sign() <= 0 {
		return false, ""
	}
	if s.InitialTargetSpotValue.Sign() <= 0 {
		return false, ""
	}
	diff := s.CumulativeSpotFilledValue.Sub(s.CumulativeFuturesFilledValue)
	ratio := diff.Abs().Div(s.InitialTargetSpotValue)
	if !ratio.GreaterThan(maxRatio) {
		return false, ""
	}
	if diff.Sign() > 0 {
		return true, types.LegSpot
	}
	return true, types.LegFutures
}
