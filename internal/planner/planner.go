// Package planner turns a HedgeRequest into concrete order quantities: the
// gross spot quantity to buy, the net futures quantity to short, the
// leverage required to carry it, and the per-chunk sizes the executor will
// place in sequence. Nothing here talks to the exchange beyond the handful
// of read-only calls needed to price the plan; nothing here places an order.
package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/config"
	"hedgeengine/internal/exchange"
	"hedgeengine/internal/numeric"
	"hedgeengine/pkg/types"
)

// fallbackSpotFee is used when the exchange's fee-rate lookup fails. The
// plan is still safe to build without it: fee rate only widens the gross
// spot quantity slightly above the net futures quantity.
var fallbackSpotFee = decimal.NewFromFloat(0.001)

// PlanningError reports why a hedge request could not be turned into a
// feasible plan: below-minimum quantities, non-finite or out-of-range
// leverage, or bad instrument metadata.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("hedge planning failed: %s", e.Reason)
}

func planFail(format string, args ...any) error {
	return &PlanningError{Reason: fmt.Sprintf(format, args...)}
}

// Plan computes a HedgeParams for req against live instrument metadata and
// the current spot price. It does not place any order or set leverage.
func Plan(ctx context.Context, adapter exchange.Adapter, cfg *config.Config, req types.HedgeRequest) (types.HedgeParams, error) {
	spotInfo, err := adapter.SpotInstrument(ctx, req.BaseSymbol)
	if err != nil {
		return types.HedgeParams{}, fmt.Errorf("spot instrument info: %w", err)
	}
	futuresInfo, err := adapter.LinearInstrument(ctx, req.BaseSymbol)
	if err != nil {
		return types.HedgeParams{}, fmt.Errorf("linear instrument info: %w", err)
	}

	spotFee, err := adapter.FeeRate(ctx, spotInfo.Symbol, "spot")
	if err != nil {
		slog.Warn("planner: could not fetch spot fee rate, using fallback", "symbol", spotInfo.Symbol, "fallback", fallbackSpotFee, "err", err)
		spotFee = fallbackSpotFee
	}

	mmr, err := adapter.MaintenanceMarginRate(ctx, futuresInfo.Symbol)
	if err != nil {
		return types.HedgeParams{}, fmt.Errorf("maintenance margin rate: %w", err)
	}

	spotPrice, err := adapter.SpotPrice(ctx, req.BaseSymbol)
	if err != nil {
		return types.HedgeParams{}, fmt.Errorf("spot price: %w", err)
	}
	if spotPrice.Sign() <= 0 {
		return types.HedgeParams{}, planFail("spot price %s is non-positive", spotPrice)
	}

	volatility := req.Volatility
	denominator := decimal.NewFromInt(1).Add(volatility).Mul(decimal.NewFromInt(1).Add(mmr))
	if denominator.Sign() == 0 {
		return types.HedgeParams{}, planFail("denominator for initial spot value is zero (volatility=%s, mmr=%s)", volatility, mmr)
	}
	initialSpotValue := req.Sum.Div(denominator)
	if initialSpotValue.Sign() <= 0 {
		return types.HedgeParams{}, planFail("initial spot value %s is non-positive", initialSpotValue)
	}

	idealGrossQty := initialSpotValue.Div(spotPrice)

	netFuturesQty := numeric.RoundDownToStep(idealGrossQty, futuresInfo.QtyStep)
	if netFuturesQty.LessThan(futuresInfo.MinQty) {
		return types.HedgeParams{}, planFail("target net futures quantity %s < min futures quantity %s", netFuturesQty, futuresInfo.MinQty)
	}

	oneMinusFee := decimal.NewFromInt(1).Sub(spotFee)
	if oneMinusFee.Sign() <= 0 {
		return types.HedgeParams{}, planFail("spot fee rate %s is 100%% or invalid", spotFee)
	}
	requiredGrossQty := netFuturesQty.Div(oneMinusFee)
	grossSpotQty := numeric.RoundDownToStep(requiredGrossQty, spotInfo.QtyStep)
	if grossSpotQty.LessThan(spotInfo.MinQty) {
		return types.HedgeParams{}, planFail("gross spot quantity %s < min spot quantity %s", grossSpotQty, spotInfo.MinQty)
	}

	adjustedSpotValue := grossSpotQty.Mul(spotPrice)
	availableCollateral := req.Sum.Sub(adjustedSpotValue)
	if availableCollateral.Sign() <= 0 {
		return types.HedgeParams{}, planFail("available collateral %s is non-positive (sum=%s, spot value=%s)", availableCollateral, req.Sum, adjustedSpotValue)
	}

	futuresPositionValue := netFuturesQty.Mul(spotPrice)
	requiredLeverage := futuresPositionValue.Div(availableCollateral)
	maxAllowed := decimal.NewFromFloat(cfg.MaxAllowedLeverage)
	if requiredLeverage.LessThan(decimal.NewFromInt(1)) {
		return types.HedgeParams{}, planFail("required leverage %s is below 1.0", requiredLeverage)
	}
	if requiredLeverage.GreaterThan(maxAllowed) {
		return types.HedgeParams{}, planFail("required leverage %s exceeds max allowed %s", requiredLeverage, maxAllowed)
	}

	slippage := decimal.NewFromFloat(cfg.Slippage)
	initialLimitPrice := spotPrice.Mul(decimal.NewFromInt(1).Sub(slippage))

	chunkCount, chunkSpotQty, chunkFuturesQty, err := autoChunk(
		initialSpotValue, netFuturesQty, spotPrice, spotPrice,
		cfg.WSAutoChunkTargetCount,
		spotInfo.MinQty, futuresInfo.MinQty,
		spotInfo.QtyStep, futuresInfo.QtyStep,
		spotInfo, futuresInfo,
	)
	if err != nil {
		return types.HedgeParams{}, err
	}

	return types.HedgeParams{
		SpotSymbol:          spotInfo.Symbol,
		FuturesSymbol:       futuresInfo.Symbol,
		SpotOrderQty:        grossSpotQty,
		FuturesOrderQty:     netFuturesQty,
		CurrentSpotPrice:    spotPrice,
		InitialLimitPrice:   initialLimitPrice,
		InitialSpotValue:    initialSpotValue,
		RequiredLeverage:    requiredLeverage,
		AvailableCollateral: availableCollateral,
		SpotInstrument:      spotInfo,
		FuturesInstrument:   futuresInfo,
		ChunkCount:          chunkCount,
		ChunkBaseSpotQty:    chunkSpotQty,
		ChunkBaseFuturesQty: chunkFuturesQty,
	}, nil
}
