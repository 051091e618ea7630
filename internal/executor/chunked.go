package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/config"
	"hedgeengine/internal/exchange"
	"hedgeengine/internal/market"
	"hedgeengine/internal/numeric"
	"hedgeengine/internal/progress"
	"hedgeengine/internal/reconciler"
	"hedgeengine/internal/store"
	"hedgeengine/pkg/types"
)

// bookFreshnessWindow is how recent a book update must be before a working
// order on that leg is even considered for stale-price replacement.
const bookFreshnessWindow = 5 * time.Second

// tickInterval is the lowest-priority arm of the biased select: when
// neither stream has a pending message, the loop still wakes up this often
// to drive chunk transitions and imbalance re-checks.
var tickInterval = 100 * time.Millisecond

// Chunked runs the parallel, WebSocket-driven hedge/unhedge strategy: both
// legs of each chunk placed together, repriced on stale-price drift, and
// throttled on value imbalance between legs.
type Chunked struct {
	Adapter            exchange.Adapter
	Store              *store.Store
	Sink               *progress.Sink
	Cfg                *config.Config
	Logger             *slog.Logger
	MaxAllowedLeverage decimal.Decimal

	SpotBook    *market.Book
	FuturesBook *market.Book

	fillMonitor *FillMonitor

	cancelRequested chan struct{}
}

// fillMonitorWindow and fillMonitorStall size the diagnostic stall tracker;
// a chunked run is never expected to go this long without either leg
// crediting a fill while orders are live.
const (
	fillMonitorWindow = 5 * time.Minute
	fillMonitorStall  = 90 * time.Second
)

// NewChunked builds a Chunked executor with fresh per-leg book mirrors.
func NewChunked(adapter exchange.Adapter, st *store.Store, sink *progress.Sink, cfg *config.Config, logger *slog.Logger, spotSymbol, futuresSymbol string) *Chunked {
	return &Chunked{
		Adapter:            adapter,
		Store:              st,
		Sink:               sink,
		Cfg:                cfg,
		Logger:             logger,
		MaxAllowedLeverage: decimal.NewFromFloat(cfg.MaxAllowedLeverage),
		SpotBook:           market.NewBook(spotSymbol),
		FuturesBook:        market.NewBook(futuresSymbol),
		fillMonitor:        NewFillMonitor(fillMonitorWindow, fillMonitorStall),
		cancelRequested:    make(chan struct{}),
	}
}

// RequestCancel signals the run loop to stop at its next suspension point.
// Safe to call more than once.
func (c *Chunked) RequestCancel() {
	select {
	case <-c.cancelRequested:
	default:
		close(c.cancelRequested)
	}
}

// RunHedge drives a planned hedge through the chunked state machine to
// completion, cancellation, or failure, finalizing the C3 record in every
// terminal path.
func (c *Chunked) RunHedge(ctx context.Context, operationID int64, params types.HedgeParams, sum decimal.Decimal) error {
	state := NewHedgeState(operationID, params)
	return c.run(ctx, state, sum, params.SpotInstrument, params.FuturesInstrument)
}

// RunUnhedge drives an unhedge through the same state machine.
func (c *Chunked) RunUnhedge(ctx context.Context, operationID int64, spotQty, futuresQty decimal.Decimal, spotInstrument, futuresInstrument types.Instrument) error {
	state := NewUnhedgeState(operationID, spotInstrument.Symbol, futuresInstrument.Symbol, spotQty, futuresQty, spotInstrument, futuresInstrument)
	return c.run(ctx, state, decimal.Zero, spotInstrument, futuresInstrument)
}

func (c *Chunked) run(ctx context.Context, state *ExecutionState, sum decimal.Decimal, spotInstrument, futuresInstrument types.Instrument) error {
	logger := c.Logger.With("operation_id", state.OperationID, "spot_symbol", state.SpotSymbol)

	privateCh, err := c.Adapter.Subscribe(ctx, exchange.StreamPrivate, []string{state.SpotSymbol, state.FuturesSymbol})
	if err != nil {
		return c.fail(ctx, state, fmt.Sprintf("subscribe private stream: %s", err))
	}
	spotCh, err := c.Adapter.Subscribe(ctx, exchange.StreamPublicSpot, []string{state.SpotSymbol})
	if err != nil {
		return c.fail(ctx, state, fmt.Sprintf("subscribe public spot stream: %s", err))
	}
	futuresCh, err := c.Adapter.Subscribe(ctx, exchange.StreamPublicLinear, []string{state.FuturesSymbol})
	if err != nil {
		return c.fail(ctx, state, fmt.Sprintf("subscribe public linear stream: %s", err))
	}

	if state.OperationType == types.OperationHedge {
		if err := c.bootstrap(ctx, state, sum, privateCh, spotCh, futuresCh); err != nil {
			return c.fail(ctx, state, err.Error())
		}
	} else {
		state.Status = Status{Kind: StatusConnectingWebSocket}
		if err := c.waitForSnapshots(ctx, state, privateCh, spotCh, futuresCh); err != nil {
			return c.fail(ctx, state, err.Error())
		}
		state.Status = Status{Kind: StatusStartingChunk, ChunkIndex: 1}
	}

	placementStrategy, err := c.Cfg.PlacementStrategy()
	if err != nil {
		return c.fail(ctx, state, fmt.Sprintf("placement strategy: %s", err))
	}
	stalePriceRatio := decimal.NewFromFloat(c.Cfg.WSStalePriceRatio)
	maxImbalanceRatio := decimal.NewFromFloat(c.Cfg.WSMaxValueImbalanceRatio)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.handleOperatorCancel(ctx, state)

		case <-c.cancelRequested:
			return c.handleOperatorCancel(ctx, state)

		case evt, ok := <-privateCh:
			if !ok {
				return c.fail(ctx, state, "private stream closed")
			}
			if err := c.handlePrivateEvent(ctx, state, evt, placementStrategy); err != nil {
				return c.fail(ctx, state, err.Error())
			}

		default:
			select {
			case evt, ok := <-privateCh:
				if !ok {
					return c.fail(ctx, state, "private stream closed")
				}
				if err := c.handlePrivateEvent(ctx, state, evt, placementStrategy); err != nil {
					return c.fail(ctx, state, err.Error())
				}
			case evt, ok := <-spotCh:
				if !ok {
					return c.fail(ctx, state, "public spot stream closed")
				}
				c.handleBookEvent(state, c.SpotBook, evt)
				c.checkStaleOrders(ctx, state, placementStrategy, stalePriceRatio)
			case evt, ok := <-futuresCh:
				if !ok {
					return c.fail(ctx, state, "public linear stream closed")
				}
				c.handleBookEvent(state, c.FuturesBook, evt)
				c.checkStaleOrders(ctx, state, placementStrategy, stalePriceRatio)
			case <-ticker.C:
				done, err := c.advance(ctx, state, placementStrategy, maxImbalanceRatio, spotInstrument, futuresInstrument)
				if err != nil {
					return c.fail(ctx, state, err.Error())
				}
				if done {
					return c.finalizeCompleted(ctx, state)
				}
				if (state.ActiveSpotOrder != nil || state.ActiveFuturesOrder != nil) && c.fillMonitor.IsStalled(time.Now()) {
					logger.Warn("chunk has gone quiet", "chunk", state.CurrentChunkIndex, "fills_per_min", c.fillMonitor.FillVelocity())
				}
			}
		}

		logger.Debug("chunk loop tick", "status", state.Status.Kind, "chunk", state.CurrentChunkIndex)
	}
}

// advance drives the per-tick state transitions: starting a chunk,
// detecting chunk completion and the imbalance stall, or moving on to
// reconciliation. Returns done=true once reconciliation has run.
func (c *Chunked) advance(ctx context.Context, state *ExecutionState, placementStrategy types.PlacementStrategy, maxImbalanceRatio decimal.Decimal, spotInstrument, futuresInstrument types.Instrument) (bool, error) {
	switch state.Status.Kind {
	case StatusStartingChunk:
		return false, c.startChunk(ctx, state, placementStrategy)

	case StatusRunningChunk:
		if !state.ChunkComplete() {
			return false, nil
		}
		imbalanced, leadingLeg := checkValueImbalance(state, maxImbalanceRatio)
		if imbalanced {
			state.Status = Status{Kind: StatusWaitingImbalance, ChunkIndex: state.CurrentChunkIndex + 1, LeadingLeg: leadingLeg}
			return false, nil
		}
		return c.advanceAfterChunk(state)

	case StatusWaitingImbalance:
		imbalanced, leadingLeg := checkValueImbalance(state, maxImbalanceRatio)
		if imbalanced {
			state.Status.LeadingLeg = leadingLeg
			return false, nil
		}
		return c.advanceAfterChunk(state)

	case StatusReconciling:
		return true, c.reconcile(ctx, state, futuresInstrument)

	default:
		return false, nil
	}
}

func (c *Chunked) advanceAfterChunk(state *ExecutionState) (bool, error) {
	state.CurrentChunkIndex++
	if state.CurrentChunkIndex >= state.TotalChunks {
		state.Status = Status{Kind: StatusReconciling}
		return false, nil
	}
	state.Status = Status{Kind: StatusStartingChunk, ChunkIndex: state.CurrentChunkIndex + 1}
	return false, nil
}

// startChunk places the opening spot and futures orders for the next chunk.
func (c *Chunked) startChunk(ctx context.Context, state *ExecutionState, placementStrategy types.PlacementStrategy) error {
	plan := planChunk(state)

	if !plan.SpotFeasible && !plan.FuturesFeasible {
		if plan.IsLastChunk {
			state.Status = Status{Kind: StatusReconciling}
			return nil
		}
		state.CurrentChunkIndex++
		state.Status = Status{Kind: StatusStartingChunk, ChunkIndex: state.CurrentChunkIndex + 1}
		return nil
	}

	state.Status = Status{Kind: StatusPlacingSpotOrder, ChunkIndex: state.CurrentChunkIndex + 1}
	if plan.SpotFeasible {
		spotPrice := calculateLimitPrice(placementStrategy, state.SpotSide, state.SpotMarketData, state.SpotMarketData, state.SpotTickSize)
		ack, err := c.Adapter.PlaceLimitSpot(ctx, state.SpotSymbol, state.SpotSide, plan.SpotQty, spotPrice)
		if err != nil {
			return fmt.Errorf("place spot chunk order: %w", err)
		}
		state.ActiveSpotOrder = types.NewChunkOrder(ack.OrderID, state.SpotSymbol, state.SpotSide, spotPrice, plan.SpotQty)
	}

	state.Status = Status{Kind: StatusPlacingFuturesOrder, ChunkIndex: state.CurrentChunkIndex + 1}
	if plan.FuturesFeasible {
		futuresPrice := calculateLimitPrice(placementStrategy, state.FuturesSide, state.FuturesMarketData, state.FuturesMarketData, state.FuturesTickSize)
		ack, err := c.Adapter.PlaceLimitFutures(ctx, state.FuturesSymbol, state.FuturesSide, plan.FuturesQty, futuresPrice)
		if err != nil {
			if state.ActiveSpotOrder != nil {
				if cancelErr := c.Adapter.CancelSpot(ctx, state.SpotSymbol, state.ActiveSpotOrder.OrderID); cancelErr != nil && !exchange.IsOrderNotFound(cancelErr) {
					c.Logger.Warn("rollback cancel of spot chunk leg failed", "order_id", state.ActiveSpotOrder.OrderID, "error", cancelErr)
				}
				state.ActiveSpotOrder = nil
			}
			return fmt.Errorf("place futures chunk order: %w", err)
		}
		state.ActiveFuturesOrder = types.NewChunkOrder(ack.OrderID, state.FuturesSymbol, state.FuturesSide, futuresPrice, plan.FuturesQty)
	}

	state.Status = Status{Kind: StatusRunningChunk, ChunkIndex: state.CurrentChunkIndex + 1}
	c.emitProgress(ctx, state, false)
	return nil
}

func (c *Chunked) handlePrivateEvent(ctx context.Context, state *ExecutionState, evt exchange.WsEvent, placementStrategy types.PlacementStrategy) error {
	switch evt.Kind {
	case exchange.EventOrderUpdate:
		wasCancelWait := state.Status.Kind == StatusWaitingCancelConfirm
		cancelledOrderID := state.Status.CancelOrderID
		cancelledLeg := state.Status.CancelLeg
		prevSpotQty := state.CumulativeSpotFilledQuantity
		prevFuturesQty := state.CumulativeFuturesFilledQuantity

		applyOrderUpdate(state, evt)
		if state.CumulativeSpotFilledQuantity.GreaterThan(prevSpotQty) {
			c.fillMonitor.RecordFill(types.LegSpot, time.Now())
		}
		if state.CumulativeFuturesFilledQuantity.GreaterThan(prevFuturesQty) {
			c.fillMonitor.RecordFill(types.LegFutures, time.Now())
		}
		c.emitProgress(ctx, state, false)
		c.persistProgress(ctx, state)

		if wasCancelWait {
			legCleared := (cancelledLeg == types.LegSpot && state.ActiveSpotOrder == nil) ||
				(cancelledLeg == types.LegFutures && state.ActiveFuturesOrder == nil)
			if legCleared && evt.Order.OrderID == cancelledOrderID {
				return c.handleCancelConfirmation(ctx, state, cancelledLeg, placementStrategy)
			}
		}
	case exchange.EventDisconnected:
		return fmt.Errorf("private stream disconnected")
	case exchange.EventError:
		c.Logger.Warn("private stream protocol error", "error", evt.ErrMsg)
	}
	return nil
}

func (c *Chunked) handleBookEvent(state *ExecutionState, book *market.Book, evt exchange.WsEvent) {
	if evt.Kind != exchange.EventOrderBookL2 {
		return
	}
	if evt.Book.IsSnapshot {
		book.ApplySnapshot(evt.Book.Bids, evt.Book.Asks)
	} else {
		book.ApplyLevels(evt.Book.Bids, evt.Book.Asks)
	}
	applyBookUpdate(state, evt)
}

// checkStaleOrders is triggered on every book update rather than polled,
// since it only needs to react when the book actually moves.
func (c *Chunked) checkStaleOrders(ctx context.Context, state *ExecutionState, placementStrategy types.PlacementStrategy, ratio decimal.Decimal) {
	if ratio.Sign() <= 0 {
		return
	}
	if state.Status.Kind != StatusRunningChunk {
		return
	}

	if state.ActiveSpotOrder != nil && !c.SpotBook.IsStale(bookFreshnessWindow) {
		if isOrderStale(state.SpotSide, state.ActiveSpotOrder.LimitPrice, state.SpotMarketData, ratio) {
			c.initiateReplacement(ctx, state, types.LegSpot, "StalePrice")
		}
	}
	if state.ActiveFuturesOrder != nil && !c.FuturesBook.IsStale(bookFreshnessWindow) {
		if isOrderStale(state.FuturesSide, state.ActiveFuturesOrder.LimitPrice, state.FuturesMarketData, ratio) {
			c.initiateReplacement(ctx, state, types.LegFutures, "StalePrice")
		}
	}
}

// initiateReplacement cancels the active order on leg; the no-op guard
// prevents two replacement cancels from racing on the same order.
func (c *Chunked) initiateReplacement(ctx context.Context, state *ExecutionState, leg types.Leg, reason string) {
	if state.Status.Kind == StatusCancellingOrder || state.Status.Kind == StatusWaitingCancelConfirm {
		return
	}

	var orderID string
	if leg == types.LegSpot && state.ActiveSpotOrder != nil {
		orderID = state.ActiveSpotOrder.OrderID
	} else if leg == types.LegFutures && state.ActiveFuturesOrder != nil {
		orderID = state.ActiveFuturesOrder.OrderID
	} else {
		return
	}

	resumeChunk := state.CurrentChunkIndex + 1
	state.Status = Status{Kind: StatusCancellingOrder, ChunkIndex: resumeChunk, CancelLeg: leg, CancelOrderID: orderID, CancelReason: reason}

	var err error
	if leg == types.LegSpot {
		err = c.Adapter.CancelSpot(ctx, state.SpotSymbol, orderID)
	} else {
		err = c.Adapter.CancelFutures(ctx, state.FuturesSymbol, orderID)
	}
	if err != nil {
		c.Logger.Warn("cancel for stale-price replacement failed", "leg", leg, "order_id", orderID, "error", err)
		state.Status = Status{Kind: StatusRunningChunk, ChunkIndex: resumeChunk}
		return
	}
	state.Status = Status{Kind: StatusWaitingCancelConfirm, ChunkIndex: resumeChunk, CancelLeg: leg, CancelOrderID: orderID}
}

// handleCancelConfirmation runs once the cancelled order's slot has cleared:
// it places a fresh order for the remaining quantity on that leg, or skips
// if the remainder is dust.
func (c *Chunked) handleCancelConfirmation(ctx context.Context, state *ExecutionState, leg types.Leg, placementStrategy types.PlacementStrategy) error {
	isLast := state.CurrentChunkIndex+1 >= state.TotalChunks

	var remaining, step, minQty decimal.Decimal
	var side types.Side
	var symbol string
	var book MarketUpdate
	var tickSize decimal.Decimal

	if leg == types.LegSpot {
		if isLast {
			remaining = state.RemainingSpotQty(state.OverallSpotTargetQty)
		} else {
			remaining = state.ChunkBaseQuantitySpot
		}
		step, minQty, side, symbol, book, tickSize = state.SpotQuantityStep, state.MinSpotQuantity, state.SpotSide, state.SpotSymbol, state.SpotMarketData, state.SpotTickSize
	} else {
		if isLast {
			remaining = state.RemainingFuturesQty(state.OverallFuturesTargetQty)
		} else {
			remaining = state.ChunkBaseQuantityFutures
		}
		step, minQty, side, symbol, book, tickSize = state.FuturesQuantityStep, state.MinFuturesQuantity, state.FuturesSide, state.FuturesSymbol, state.FuturesMarketData, state.FuturesTickSize
	}

	remaining = numeric.RoundDownToStep(remaining, step)
	resumeChunk := state.CurrentChunkIndex + 1
	if numeric.IsDust(remaining, minQty) || remaining.LessThanOrEqual(numeric.FillTolerance) {
		state.Status = Status{Kind: StatusRunningChunk, ChunkIndex: resumeChunk}
		return nil
	}

	price := calculateLimitPrice(placementStrategy, side, book, book, tickSize)
	var ack exchange.OrderAck
	var err error
	if leg == types.LegSpot {
		ack, err = c.Adapter.PlaceLimitSpot(ctx, symbol, side, remaining, price)
	} else {
		ack, err = c.Adapter.PlaceLimitFutures(ctx, symbol, side, remaining, price)
	}
	if err != nil {
		return fmt.Errorf("replace %s order: %w", leg, err)
	}

	order := types.NewChunkOrder(ack.OrderID, symbol, side, price, remaining)
	if leg == types.LegSpot {
		state.ActiveSpotOrder = order
	} else {
		state.ActiveFuturesOrder = order
	}
	state.Status = Status{Kind: StatusRunningChunk, ChunkIndex: resumeChunk}
	c.emitProgress(ctx, state, true)
	return nil
}

func (c *Chunked) reconcile(ctx context.Context, state *ExecutionState, futuresInstrument types.Instrument) error {
	_, err := reconciler.Reconcile(ctx, c.Adapter, state.FuturesSymbol,
		state.CumulativeSpotFilledValue, state.CumulativeFuturesFilledValue,
		state.InitialTargetSpotValue, futuresInstrument.QtyStep, futuresInstrument.MinQty)
	if err != nil {
		c.Logger.Error("reconciliation failed, completing anyway", "operation_id", state.OperationID, "error", err)
	}
	time.Sleep(200 * time.Millisecond)
	state.Status = Status{Kind: StatusCompleted}
	return nil
}

// handleOperatorCancel runs on both the cooperative cancelRequested signal
// and a direct ctx.Done() (e.g. a caller-supplied deadline). It uses its own
// cleanup context for the cancel/finalize calls since ctx itself may already
// be done by the time this runs.
func (c *Chunked) handleOperatorCancel(ctx context.Context, state *ExecutionState) error {
	state.Status = Status{Kind: StatusCancelling}
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if state.ActiveSpotOrder != nil {
		if err := c.Adapter.CancelSpot(cleanupCtx, state.SpotSymbol, state.ActiveSpotOrder.OrderID); err != nil && !exchange.IsOrderNotFound(err) {
			c.Logger.Warn("cancel spot order on operator cancel", "error", err)
		}
	}
	if state.ActiveFuturesOrder != nil {
		if err := c.Adapter.CancelFutures(cleanupCtx, state.FuturesSymbol, state.ActiveFuturesOrder.OrderID); err != nil && !exchange.IsOrderNotFound(err) {
			c.Logger.Warn("cancel futures order on operator cancel", "error", err)
		}
	}
	state.Status = Status{Kind: StatusCancelled}
	if err := c.Store.Finalize(cleanupCtx, state.OperationID, types.StatusCancelled, orderIDOrEmpty(state.ActiveFuturesOrder), state.CumulativeFuturesFilledQuantity, ErrOperatorCancel.Error()); err != nil {
		c.Logger.Error("finalize cancelled operation", "operation_id", state.OperationID, "error", err)
	}
	return ErrOperatorCancel
}

func (c *Chunked) finalizeCompleted(ctx context.Context, state *ExecutionState) error {
	if err := c.Store.Finalize(ctx, state.OperationID, types.StatusCompleted, orderIDOrEmpty(state.ActiveFuturesOrder), state.CumulativeFuturesFilledQuantity, ""); err != nil {
		c.Logger.Error("finalize completed operation", "operation_id", state.OperationID, "error", err)
	}
	return nil
}

func (c *Chunked) fail(ctx context.Context, state *ExecutionState, msg string) error {
	state.Status = Status{Kind: StatusFailed, FailureMessage: msg}
	if err := c.Store.Finalize(ctx, state.OperationID, types.StatusFailed, orderIDOrEmpty(state.ActiveFuturesOrder), state.CumulativeFuturesFilledQuantity, msg); err != nil {
		c.Logger.Error("finalize failed operation", "operation_id", state.OperationID, "error", err)
	}
	return fmt.Errorf("%s", msg)
}

func (c *Chunked) persistProgress(ctx context.Context, state *ExecutionState) {
	if err := c.Store.UpdateSpotProgress(ctx, state.OperationID, orderIDOrEmpty(state.ActiveSpotOrder), state.CumulativeSpotFilledQuantity); err != nil {
		c.Logger.Error("persist spot progress", "operation_id", state.OperationID, "error", err)
	}
	if err := c.Store.UpdateFuturesProgress(ctx, state.OperationID, orderIDOrEmpty(state.ActiveFuturesOrder), state.CumulativeFuturesFilledQuantity); err != nil {
		c.Logger.Error("persist futures progress", "operation_id", state.OperationID, "error", err)
	}
}

func (c *Chunked) emitProgress(ctx context.Context, state *ExecutionState, isReplacement bool) {
	if c.Sink == nil {
		return
	}
	update := types.ProgressUpdate{
		OperationID:      state.OperationID,
		IsReplacement:    isReplacement,
		CumulativeFilled: state.CumulativeSpotFilledQuantity,
		TotalTarget:      state.OverallSpotTargetQty,
	}
	if state.ActiveSpotOrder != nil {
		update.Stage = types.LegSpot
		update.FilledQty = state.ActiveSpotOrder.FilledQty
		update.TargetQty = state.ActiveSpotOrder.TargetQty
		update.NewLimitPrice = state.ActiveSpotOrder.LimitPrice
	} else if state.ActiveFuturesOrder != nil {
		update.Stage = types.LegFutures
		update.FilledQty = state.ActiveFuturesOrder.FilledQty
		update.TargetQty = state.ActiveFuturesOrder.TargetQty
		update.NewLimitPrice = state.ActiveFuturesOrder.LimitPrice
	}
	if err := c.Sink.Send(ctx, update); err != nil {
		c.Logger.Warn("progress sink delivery failed", "operation_id", state.OperationID, "error", err)
	}
}

func orderIDOrEmpty(order *types.ChunkOrder) string {
	if order == nil {
		return ""
	}
	return order.OrderID
}
