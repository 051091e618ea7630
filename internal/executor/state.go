// Package executor drives a planned hedge or unhedge to completion: the
// sequential leg-by-leg executor (C5) for simple runs, and the chunked
// WebSocket executor (C6) that places both legs in parallel, chunk by
// chunk, reacting to live order-book and order-update events.
package executor

import (
	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

// Status is the tagged-union run state of a chunked execution. Exactly one
// of the struct-valued variants' fields is meaningful at a time; the Kind
// discriminates which.
type Status struct {
	Kind StatusKind

	ChunkIndex uint32       // StartingChunk, PlacingSpotOrder, PlacingFuturesOrder, RunningChunk
	LeadingLeg types.Leg    // WaitingImbalance

	CancelLeg     types.Leg // CancellingOrder, WaitingCancelConfirmation
	CancelOrderID string    // CancellingOrder, WaitingCancelConfirmation
	CancelReason  string    // CancellingOrder

	FailureMessage string // Failed
}

type StatusKind string

const (
	StatusInitializing           StatusKind = "Initializing"
	StatusSettingLeverage        StatusKind = "SettingLeverage"
	StatusConnectingWebSocket    StatusKind = "ConnectingWebSocket"
	StatusCalculatingChunks      StatusKind = "CalculatingChunks"
	StatusStartingChunk          StatusKind = "StartingChunk"
	StatusPlacingSpotOrder       StatusKind = "PlacingSpotOrder"
	StatusPlacingFuturesOrder    StatusKind = "PlacingFuturesOrder"
	StatusRunningChunk           StatusKind = "RunningChunk"
	StatusWaitingImbalance       StatusKind = "WaitingImbalance"
	StatusCancellingOrder        StatusKind = "CancellingOrder"
	StatusWaitingCancelConfirm   StatusKind = "WaitingCancelConfirmation"
	StatusReconciling            StatusKind = "Reconciling"
	StatusCompleted              StatusKind = "Completed"
	// StatusCancelling is the pre-terminal state entered the instant an
	// operator cancel is accepted, before the in-flight order work needed to
	// reach a clean stop has actually finished; it is never itself persisted
	// as a terminal OperationRecord status.
	StatusCancelling StatusKind = "Cancelling"
	StatusCancelled  StatusKind = "Cancelled"
	StatusFailed     StatusKind = "Failed"
)

func (s StatusKind) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// MarketUpdate is the last known top-of-book for one leg's symbol.
type MarketUpdate struct {
	BestBidPrice decimal.Decimal
	BestBidQty   decimal.Decimal
	HasBid       bool
	BestAskPrice decimal.Decimal
	BestAskQty   decimal.Decimal
	HasAsk       bool
}

// ExecutionState is the full mutable state of one running chunked
// hedge/unhedge operation. Exactly one goroutine (the Run loop) mutates it;
// everything else reads a snapshot.
type ExecutionState struct {
	OperationID   int64
	OperationType types.OperationType
	SpotSymbol    string
	FuturesSymbol string

	SpotTickSize       decimal.Decimal
	SpotQuantityStep   decimal.Decimal
	FuturesTickSize    decimal.Decimal
	FuturesQuantityStep decimal.Decimal
	MinSpotQuantity    decimal.Decimal
	MinFuturesQuantity decimal.Decimal
	MinSpotNotional    decimal.Decimal
	HasMinSpotNotional bool
	MinFuturesNotional decimal.Decimal
	HasMinFuturesNotional bool

	TotalChunks             uint32
	ChunkBaseQuantitySpot    decimal.Decimal
	ChunkBaseQuantityFutures decimal.Decimal

	CurrentChunkIndex uint32

	// SpotSide/FuturesSide fix the direction of each leg for the lifetime of
	// the operation: Buy spot/Sell futures for a hedge, the reverse for an
	// unhedge.
	SpotSide    types.Side
	FuturesSide types.Side

	CumulativeSpotFilledQuantity    decimal.Decimal
	CumulativeSpotFilledValue       decimal.Decimal
	CumulativeFuturesFilledQuantity decimal.Decimal
	CumulativeFuturesFilledValue    decimal.Decimal

	OverallSpotTargetQty    decimal.Decimal
	OverallFuturesTargetQty decimal.Decimal
	InitialTargetSpotValue  decimal.Decimal
	InitialTargetFuturesQty decimal.Decimal

	ActiveSpotOrder    *types.ChunkOrder
	ActiveFuturesOrder *types.ChunkOrder

	SpotMarketData    MarketUpdate
	FuturesMarketData MarketUpdate

	Status Status

	// CancelRequested is not set or read by the chunked run loop, which
	// receives operator cancellation through Chunked.RequestCancel instead.
	CancelRequested bool
}

// NewHedgeState seeds execution state for a hedge from a planner output.
func NewHedgeState(operationID int64, params types.HedgeParams) *ExecutionState {
	return &ExecutionState{
		OperationID:              operationID,
		OperationType:            types.OperationHedge,
		SpotSymbol:               params.SpotSymbol,
		FuturesSymbol:            params.FuturesSymbol,
		SpotSide:                 types.Buy,
		FuturesSide:              types.Sell,
		SpotTickSize:             params.SpotInstrument.TickSize,
		SpotQuantityStep:         params.SpotInstrument.QtyStep,
		FuturesTickSize:          params.FuturesInstrument.TickSize,
		FuturesQuantityStep:      params.FuturesInstrument.QtyStep,
		MinSpotQuantity:          params.SpotInstrument.MinQty,
		MinFuturesQuantity:       params.FuturesInstrument.MinQty,
		MinSpotNotional:          params.SpotInstrument.MinNotional,
		HasMinSpotNotional:       params.SpotInstrument.HasMinNotional,
		MinFuturesNotional:       params.FuturesInstrument.MinNotional,
		HasMinFuturesNotional:    params.FuturesInstrument.HasMinNotional,
		TotalChunks:              params.ChunkCount,
		ChunkBaseQuantitySpot:    params.ChunkBaseSpotQty,
		ChunkBaseQuantityFutures: params.ChunkBaseFuturesQty,
		CurrentChunkIndex:        0,
		CumulativeSpotFilledQuantity:    decimal.Zero,
		CumulativeSpotFilledValue:       decimal.Zero,
		CumulativeFuturesFilledQuantity: decimal.Zero,
		CumulativeFuturesFilledValue:    decimal.Zero,
		OverallSpotTargetQty:    params.SpotOrderQty,
		OverallFuturesTargetQty: params.FuturesOrderQty,
		InitialTargetSpotValue:  params.InitialSpotValue,
		InitialTargetFuturesQty: params.FuturesOrderQty,
		Status:                  Status{Kind: StatusInitializing},
	}
}

// NewUnhedgeState seeds execution state for an unhedge: selling back the
// spot quantity and buying back the futures quantity that an earlier hedge
// accumulated.
func NewUnhedgeState(operationID int64, spotSymbol, futuresSymbol string, spotQty, futuresQty decimal.Decimal, spotInstrument, futuresInstrument types.Instrument) *ExecutionState {
	return &ExecutionState{
		OperationID:              operationID,
		OperationType:            types.OperationUnhedge,
		SpotSymbol:               spotSymbol,
		FuturesSymbol:            futuresSymbol,
		SpotSide:                 types.Sell,
		FuturesSide:              types.Buy,
		SpotTickSize:             spotInstrument.TickSize,
		SpotQuantityStep:         spotInstrument.QtyStep,
		FuturesTickSize:          futuresInstrument.TickSize,
		FuturesQuantityStep:      futuresInstrument.QtyStep,
		MinSpotQuantity:          spotInstrument.MinQty,
		MinFuturesQuantity:       futuresInstrument.MinQty,
		MinSpotNotional:          spotInstrument.MinNotional,
		HasMinSpotNotional:       spotInstrument.HasMinNotional,
		MinFuturesNotional:       futuresInstrument.MinNotional,
		HasMinFuturesNotional:    futuresInstrument.HasMinNotional,
		TotalChunks:              1,
		ChunkBaseQuantitySpot:    spotQty,
		ChunkBaseQuantityFutures: futuresQty,
		CumulativeSpotFilledQuantity:    decimal.Zero,
		CumulativeSpotFilledValue:       decimal.Zero,
		CumulativeFuturesFilledQuantity: decimal.Zero,
		CumulativeFuturesFilledValue:    decimal.Zero,
		OverallSpotTargetQty:    spotQty,
		OverallFuturesTargetQty: futuresQty,
		InitialTargetSpotValue:  spotQty,
		InitialTargetFuturesQty: futuresQty,
		Status:                  Status{Kind: StatusInitializing},
	}
}

// RemainingSpotQty and RemainingFuturesQty are the quantities still needed
// to reach the overall target, clamped to zero.
func (s *ExecutionState) RemainingSpotQty(overallTarget decimal.Decimal) decimal.Decimal {
	rem := overallTarget.Sub(s.CumulativeSpotFilledQuantity)
	if rem.Sign() < 0 {
		return decimal.Zero
	}
	return rem
}

func (s *ExecutionState) RemainingFuturesQty(overallTarget decimal.Decimal) decimal.Decimal {
	rem := overallTarget.Sub(s.CumulativeFuturesFilledQuantity)
	if rem.Sign() < 0 {
		return decimal.Zero
	}
	return rem
}

// ApplySpotUpdate folds an order-update's new cumulative numbers into the
// running totals, crediting only the incremental delta over the order's
// previously recorded fill. The ChunkOrder itself is updated in place.
func (s *ExecutionState) ApplySpotUpdate(details types.DetailedOrderStatus) {
	if s.ActiveSpotOrder == nil || s.ActiveSpotOrder.OrderID != details.OrderID {
		return
	}
	prevFilled := s.ActiveSpotOrder.FilledQty
	prevValue := s.ActiveSpotOrder.FilledValue
	s.ActiveSpotOrder.UpdateFromDetails(details)
	s.CumulativeSpotFilledQuantity = s.CumulativeSpotFilledQuantity.Add(s.ActiveSpotOrder.FilledQty.Sub(prevFilled))
	s.CumulativeSpotFilledValue = s.CumulativeSpotFilledValue.Add(s.ActiveSpotOrder.FilledValue.Sub(prevValue))
	if s.ActiveSpotOrder.Status.IsFinal() {
		s.ActiveSpotOrder = nil
	}
}

func (s *ExecutionState) ApplyFuturesUpdate(details types.DetailedOrderStatus) {
	if s.ActiveFuturesOrder == nil || s.ActiveFuturesOrder.OrderID != details.OrderID {
		return
	}
	prevFilled := s.ActiveFuturesOrder.FilledQty
	prevValue := s.ActiveFuturesOrder.FilledValue
	s.ActiveFuturesOrder.UpdateFromDetails(details)
	s.CumulativeFuturesFilledQuantity = s.CumulativeFuturesFilledQuantity.Add(s.ActiveFuturesOrder.FilledQty.Sub(prevFilled))
	s.CumulativeFuturesFilledValue = s.CumulativeFuturesFilledValue.Add(s.ActiveFuturesOrder.FilledValue.Sub(prevValue))
	if s.ActiveFuturesOrder.Status.IsFinal() {
		s.ActiveFuturesOrder = nil
	}
}

// ChunkComplete is true once neither leg of the current chunk has an
// outstanding order.
func (s *ExecutionState) ChunkComplete() bool {
	return s.ActiveSpotOrder == nil && s.ActiveFuturesOrder == nil
}
