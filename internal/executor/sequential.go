package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/config"
	"hedgeengine/internal/exchange"
	"hedgeengine/internal/numeric"
	"hedgeengine/internal/progress"
	"hedgeengine/internal/store"
	"hedgeengine/pkg/types"
)

var pollInterval = 500 * time.Millisecond

// orderNotFoundGrace is how long after placement an "order not found"
// status error is trusted to mean "fully filled" rather than a transient
// exchange hiccup. Declared as a var (not const) so tests can shrink it
// instead of sleeping out the real window.
var orderNotFoundGrace = 5 * time.Second

// Sequential runs the leg-serial hedge/unhedge strategy: one leg's order
// loop to completion, then the other's. It is the simple strategy the
// chunked WS executor (C6) exists to outdo on fill latency.
type Sequential struct {
	Adapter exchange.Adapter
	Store   *store.Store
	Sink    *progress.Sink
	Cfg     *config.Config
	Logger  *slog.Logger
}

// RunHedge executes a planned hedge: BUY the gross spot quantity, then SELL
// the net futures quantity, setting leverage first.
func (s *Sequential) RunHedge(ctx context.Context, operationID int64, params types.HedgeParams) error {
	logger := s.Logger.With("operation_id", operationID, "symbol", params.SpotSymbol)

	if params.AvailableCollateral.Sign() <= 0 {
		return s.fail(ctx, operationID, decimal.Zero, "", decimal.Zero, "available collateral is non-positive")
	}
	if err := s.Adapter.SetLeverage(ctx, params.FuturesSymbol, params.RequiredLeverage); err != nil {
		return s.fail(ctx, operationID, decimal.Zero, "", decimal.Zero, fmt.Sprintf("set leverage: %s", err))
	}
	logger.Info("leverage set", "leverage", params.RequiredLeverage)

	spotFilled, err := s.manageOrderLoop(ctx, orderLoopParams{
		operationID:  operationID,
		symbol:       params.SpotSymbol,
		leg:          types.LegSpot,
		side:         types.Buy,
		targetQty:    params.SpotOrderQty,
		limitPrice:   params.InitialLimitPrice,
		quantityStep: params.SpotInstrument.QtyStep,
		tickSize:     params.SpotInstrument.TickSize,
		minQty:       decimal.Zero, // hedge spot leg has no dust floor; it must reach target
		dustFloor:    false,
		persistSpot:  true,
	})
	if err != nil {
		if errors.Is(err, ErrOperatorCancel) {
			return s.cancelFinalize(operationID, "", decimal.Zero)
		}
		return s.fail(ctx, operationID, spotFilled, "", decimal.Zero, fmt.Sprintf("spot stage failed: %s", err))
	}
	logger.Info("spot leg filled", "qty", spotFilled)

	futuresFilled, err := s.manageOrderLoop(ctx, orderLoopParams{
		operationID:  operationID,
		symbol:       params.FuturesSymbol,
		leg:          types.LegFutures,
		side:         types.Sell,
		targetQty:    params.FuturesOrderQty,
		limitPrice:   params.CurrentSpotPrice,
		quantityStep: params.FuturesInstrument.QtyStep,
		tickSize:     params.FuturesInstrument.TickSize,
		minQty:       decimal.Zero,
		dustFloor:    false,
		persistSpot:  false,
	})
	if err != nil {
		if errors.Is(err, ErrOperatorCancel) {
			return s.cancelFinalize(operationID, "", futuresFilled)
		}
		return s.fail(ctx, operationID, spotFilled, "", futuresFilled, fmt.Sprintf("futures stage failed: %s", err))
	}
	logger.Info("futures leg filled", "qty", futuresFilled)

	if err := s.Store.Finalize(ctx, operationID, types.StatusCompleted, "", futuresFilled, ""); err != nil {
		logger.Error("finalize completed hedge", "error", err)
	}
	return nil
}

// RunUnhedge executes the inverse: SELL the spot quantity back, BUY the
// futures quantity back. Residual dust below the instrument minimum is
// abandoned rather than chased forever.
func (s *Sequential) RunUnhedge(ctx context.Context, operationID int64, spotQty, futuresQty, spotPrice decimal.Decimal, spotInstrument, futuresInstrument types.Instrument) error {
	logger := s.Logger.With("operation_id", operationID, "symbol", spotInstrument.Symbol)

	spotFilled, err := s.manageOrderLoop(ctx, orderLoopParams{
		operationID:  operationID,
		symbol:       spotInstrument.Symbol,
		leg:          types.LegSpot,
		side:         types.Sell,
		targetQty:    spotQty,
		limitPrice:   spotPrice,
		quantityStep: spotInstrument.QtyStep,
		tickSize:     spotInstrument.TickSize,
		minQty:       spotInstrument.MinQty,
		dustFloor:    true,
		persistSpot:  true,
	})
	if err != nil {
		if errors.Is(err, ErrOperatorCancel) {
			return s.cancelFinalize(operationID, "", decimal.Zero)
		}
		return s.fail(ctx, operationID, spotFilled, "", decimal.Zero, fmt.Sprintf("unhedge spot stage failed: %s", err))
	}
	logger.Info("unhedge spot leg filled", "qty", spotFilled)

	futuresFilled, err := s.manageOrderLoop(ctx, orderLoopParams{
		operationID:  operationID,
		symbol:       futuresInstrument.Symbol,
		leg:          types.LegFutures,
		side:         types.Buy,
		targetQty:    futuresQty,
		limitPrice:   spotPrice,
		quantityStep: futuresInstrument.QtyStep,
		tickSize:     futuresInstrument.TickSize,
		minQty:       decimal.Zero,
		dustFloor:    false,
		persistSpot:  false,
	})
	if err != nil {
		if errors.Is(err, ErrOperatorCancel) {
			return s.cancelFinalize(operationID, "", futuresFilled)
		}
		return s.fail(ctx, operationID, spotFilled, "", futuresFilled, fmt.Sprintf("unhedge futures stage failed: %s", err))
	}
	logger.Info("unhedge futures leg filled", "qty", futuresFilled)

	if err := s.Store.Finalize(ctx, operationID, types.StatusCompleted, "", futuresFilled, ""); err != nil {
		logger.Error("finalize completed unhedge", "error", err)
	}
	return nil
}

func (s *Sequential) fail(ctx context.Context, operationID int64, spotFilled decimal.Decimal, futuresOrderID string, futuresFilled decimal.Decimal, msg string) error {
	if err := s.Store.Finalize(ctx, operationID, types.StatusFailed, futuresOrderID, futuresFilled, msg); err != nil {
		s.Logger.Error("finalize failed operation", "operation_id", operationID, "error", err)
	}
	return fmt.Errorf("%s", msg)
}

// cancelFinalize records an operator-requested stop as Cancelled rather than
// Failed. It uses its own context rather than the run's, since by the time
// this runs the run's context is the one that just got cancelled.
func (s *Sequential) cancelFinalize(operationID int64, futuresOrderID string, futuresFilled decimal.Decimal) error {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Store.Finalize(cleanupCtx, operationID, types.StatusCancelled, futuresOrderID, futuresFilled, ErrOperatorCancel.Error()); err != nil {
		s.Logger.Error("finalize cancelled operation", "operation_id", operationID, "error", err)
	}
	return ErrOperatorCancel
}

type orderLoopParams struct {
	operationID  int64
	symbol       string
	leg          types.Leg
	side         types.Side
	targetQty    decimal.Decimal
	limitPrice   decimal.Decimal
	quantityStep decimal.Decimal
	tickSize     decimal.Decimal
	minQty       decimal.Decimal
	dustFloor    bool // abandon instead of chasing a sub-minimum remainder
	persistSpot  bool // mirror fills into C3's spot_order_id/spot_filled_qty
}

// manageOrderLoop is the generic place/poll/replace/done state machine
// shared by every leg of the sequential executor.
func (s *Sequential) manageOrderLoop(ctx context.Context, p orderLoopParams) (decimal.Decimal, error) {
	cumulative := decimal.Zero
	remaining := p.targetQty
	limitPrice := p.limitPrice

	if remaining.LessThanOrEqual(numeric.FillTolerance) {
		return cumulative, nil
	}

	for {
		if remaining.LessThanOrEqual(numeric.FillTolerance) {
			return cumulative, nil
		}

		ack, err := s.placeOrder(ctx, p.leg, p.symbol, p.side, remaining, limitPrice)
		if err != nil {
			return cumulative, fmt.Errorf("place order: %w", err)
		}
		placedAt := time.Now()
		if p.persistSpot {
			if err := s.Store.UpdateSpotProgress(ctx, p.operationID, ack.OrderID, cumulative); err != nil {
				s.Logger.Error("persist spot order id", "operation_id", p.operationID, "error", err)
			}
		}

		orderTargetQty := remaining
		filledThisOrder := decimal.Zero

		for {
			select {
			case <-ctx.Done():
				cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if cancelErr := s.cancelOrder(cleanupCtx, p.leg, p.symbol, ack.OrderID); cancelErr != nil && !exchange.IsOrderNotFound(cancelErr) {
					s.Logger.Warn("cancel order on operator cancel failed", "order_id", ack.OrderID, "error", cancelErr)
				}
				cancel()
				return cumulative, ErrOperatorCancel
			case <-time.After(pollInterval):
			}

			status, err := s.Adapter.OrderStatus(ctx, p.symbol, ack.OrderID)
			if err != nil {
				if exchange.IsOrderNotFound(err) && time.Since(placedAt) >= orderNotFoundGrace {
					cumulative = cumulative.Add(orderTargetQty.Sub(filledThisOrder))
					filledThisOrder = orderTargetQty
					if p.persistSpot {
						s.persistCumulative(ctx, p.operationID, cumulative)
					}
					break
				}
				s.Logger.Warn("order status query failed", "order_id", ack.OrderID, "error", err)
				continue
			}

			delta := status.FilledQty.Sub(filledThisOrder)
			if delta.Sign() > 0 {
				filledThisOrder = status.FilledQty
				cumulative = cumulative.Add(delta)
				if p.persistSpot {
					s.persistCumulative(ctx, p.operationID, cumulative)
				}
			}

			remainingThisOrder := orderTargetQty.Sub(filledThisOrder)
			if remainingThisOrder.LessThanOrEqual(numeric.FillTolerance) || status.StatusText.IsFinal() {
				break
			}
			if time.Since(placedAt) > s.Cfg.MaxWait() {
				// Timed out waiting for this order to fill; cancel and reprice.
				break
			}
		}

		remaining = p.targetQty.Sub(cumulative)
		if remaining.LessThanOrEqual(numeric.FillTolerance) {
			return cumulative, nil
		}

		// Best-effort cancel; re-query once to catch a fill that raced the cancel.
		if err := s.cancelOrder(ctx, p.leg, p.symbol, ack.OrderID); err != nil && !exchange.IsOrderNotFound(err) {
			s.Logger.Warn("cancel order failed", "order_id", ack.OrderID, "error", err)
		}
		if status, err := s.Adapter.OrderStatus(ctx, p.symbol, ack.OrderID); err == nil {
			delta := status.FilledQty.Sub(filledThisOrder)
			if delta.Sign() > 0 {
				cumulative = cumulative.Add(delta)
				if p.persistSpot {
					s.persistCumulative(ctx, p.operationID, cumulative)
				}
			}
		}

		remaining = p.targetQty.Sub(cumulative)
		remaining = numeric.RoundDownToStep(remaining, p.quantityStep)
		if remaining.LessThanOrEqual(numeric.FillTolerance) {
			return cumulative, nil
		}
		if p.dustFloor && remaining.LessThan(p.minQty) {
			s.Logger.Info("abandoning sub-minimum residual", "leg", p.leg, "remaining", remaining, "min_qty", p.minQty)
			return cumulative, nil
		}

		market, err := s.currentMarketPrice(ctx, p.leg, p.symbol)
		if err != nil {
			return cumulative, fmt.Errorf("refresh market price: %w", err)
		}
		slippage := decimal.NewFromFloat(s.Cfg.Slippage)
		limitPrice = market.Mul(decimal.NewFromInt(1).Sub(slippage.Mul(decimal.NewFromInt(int64(p.side.Sign())))))
		if p.tickSize.Sign() > 0 {
			limitPrice = numeric.RoundDownToStep(limitPrice, p.tickSize)
		}
	}
}

func (s *Sequential) persistCumulative(ctx context.Context, operationID int64, cumulative decimal.Decimal) {
	if err := s.Store.UpdateSpotProgress(ctx, operationID, "", cumulative); err != nil {
		s.Logger.Error("persist spot fill progress", "operation_id", operationID, "error", err)
	}
}

func (s *Sequential) placeOrder(ctx context.Context, leg types.Leg, symbol string, side types.Side, qty, price decimal.Decimal) (exchange.OrderAck, error) {
	if leg == types.LegSpot {
		return s.Adapter.PlaceLimitSpot(ctx, symbol, side, qty, price)
	}
	return s.Adapter.PlaceLimitFutures(ctx, symbol, side, qty, price)
}

func (s *Sequential) cancelOrder(ctx context.Context, leg types.Leg, symbol, orderID string) error {
	if leg == types.LegSpot {
		return s.Adapter.CancelSpot(ctx, symbol, orderID)
	}
	return s.Adapter.CancelFutures(ctx, symbol, orderID)
}

func (s *Sequential) currentMarketPrice(ctx context.Context, leg types.Leg, symbol string) (decimal.Decimal, error) {
	if leg == types.LegSpot {
		return s.Adapter.SpotPrice(ctx, strings.TrimSuffix(symbol, s.Cfg.QuoteCurrency))
	}
	ticker, err := s.Adapter.FuturesTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return ticker.Last, nil
}
