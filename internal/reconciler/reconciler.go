// Package reconciler implements the final value-imbalance correction that
// runs once a chunked execution has placed every chunk: a
// single market order on the futures leg that brings the two legs' filled
// notional back within tolerance of each other.
package reconciler

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/exchange"
	"hedgeengine/internal/numeric"
	"hedgeengine/pkg/types"
)

// ToleranceRatio is the fraction of the initial spot target value below
// which a residual imbalance is left alone.
var ToleranceRatio = decimal.NewFromFloat(0.001)

// Result describes whether a reconciliation order was placed.
type Result struct {
	Placed bool
	Side   types.Side
	Qty    decimal.Decimal
	Ack    exchange.OrderAck
}

// Reconcile computes the residual value imbalance between the spot and
// futures legs and, if it exceeds ToleranceRatio of initialSpotValue, places
// a single futures market order to close it. futuresFilledValue is the
// magnitude of the futures leg's filled notional, which is stored unsigned.
func Reconcile(ctx context.Context, adapter exchange.Adapter, futuresSymbol string, spotFilledValue, futuresFilledValue, initialSpotValue, futuresStep, minFuturesQty decimal.Decimal) (Result, error) {
	if initialSpotValue.Sign() <= 0 {
		return Result{}, fmt.Errorf("reconcile: initial spot value must be positive, got %s", initialSpotValue)
	}

	imbalance := spotFilledValue.Sub(futuresFilledValue)
	tolerance := initialSpotValue.Mul(ToleranceRatio)
	if imbalance.Abs().LessThanOrEqual(tolerance) {
		return Result{}, nil
	}

	ticker, err := adapter.FuturesTicker(ctx, futuresSymbol)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: fetch futures ticker: %w", err)
	}
	mid := ticker.Bid.Add(ticker.Ask).Div(decimal.NewFromInt(2))
	if mid.Sign() <= 0 {
		return Result{}, fmt.Errorf("reconcile: non-positive futures mid price %s", mid)
	}

	adjQty := numeric.RoundDownToStep(imbalance.Abs().Div(mid), futuresStep)
	if adjQty.LessThan(minFuturesQty) {
		return Result{}, nil
	}

	side := types.Sell
	if imbalance.Sign() < 0 {
		side = types.Buy
	}

	ack, err := adapter.PlaceMarketFutures(ctx, futuresSymbol, side, adjQty)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: place market %s: %w", side, err)
	}
	return Result{Placed: true, Side: side, Qty: adjQty, Ack: ack}, nil
}
