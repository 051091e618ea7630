// Package types holds the shared vocabulary used across the hedging engine:
// sides, legs, operation kinds, instrument metadata, and the request/response
// shapes that cross package boundaries. It has no behavior beyond parsing and
// validation of its own enums.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Sign returns -1 for Buy and +1 for Sell, matching the re-pricing formula
// limit_price = market * (1 - slippage * sign(side)).
func (s Side) Sign() int {
	if s == Buy {
		return -1
	}
	return 1
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Leg identifies one of the two symmetric markets participating in a hedge.
type Leg string

const (
	LegSpot    Leg = "spot"
	LegFutures Leg = "futures"
)

// OperationType distinguishes a hedge (open) from an unhedge (close) operation.
type OperationType string

const (
	OperationHedge   OperationType = "Hedge"
	OperationUnhedge OperationType = "Unhedge"
)

// Strategy selects between the leg-serial and chunked-parallel executors.
type Strategy string

const (
	StrategySequential      Strategy = "Sequential"
	StrategyWebsocketChunks Strategy = "WebsocketChunks"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySequential, StrategyWebsocketChunks:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown hedge strategy %q", s)
	}
}

// PlacementStrategy selects how a chunk's limit price is derived from the
// current top of book.
type PlacementStrategy string

const (
	PlacementBestAskBid    PlacementStrategy = "BestAskBid"
	PlacementOneTickInside PlacementStrategy = "OneTickInside"
)

func ParsePlacementStrategy(s string) (PlacementStrategy, error) {
	switch PlacementStrategy(s) {
	case PlacementBestAskBid, PlacementOneTickInside:
		return PlacementStrategy(s), nil
	default:
		return "", fmt.Errorf("unknown limit order placement strategy %q", s)
	}
}

// OperationStatus is the closed set of terminal/non-terminal states an
// OperationRecord can hold in the store.
type OperationStatus string

const (
	StatusRunning     OperationStatus = "Running"
	StatusCompleted   OperationStatus = "Completed"
	StatusCancelled   OperationStatus = "Cancelled"
	StatusFailed      OperationStatus = "Failed"
	StatusInterrupted OperationStatus = "Interrupted"
)

func (s OperationStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Instrument is immutable per-operation metadata fetched once at planning
// time for a spot or linear-perpetual market.
type Instrument struct {
	Base           string
	Quote          string
	Symbol         string
	TickSize       decimal.Decimal
	QtyStep        decimal.Decimal
	MinQty         decimal.Decimal
	MinNotional    decimal.Decimal // zero value means "no minimum"
	HasMinNotional bool
}

// HedgeRequest is the user-facing request that enters the supervisor.
type HedgeRequest struct {
	ChatID     string
	Sum        decimal.Decimal // notional, in quote currency
	BaseSymbol string
	Volatility decimal.Decimal // non-negative fraction
	Strategy   Strategy
}

// UnhedgeRequest retires a previously completed hedge operation.
type UnhedgeRequest struct {
	ChatID     string
	OriginalID int64
	Strategy   Strategy
}

// HedgeParams is the Chunk Planner's (C4) output.
type HedgeParams struct {
	SpotSymbol          string
	FuturesSymbol       string
	SpotOrderQty        decimal.Decimal // gross spot quantity to buy
	FuturesOrderQty     decimal.Decimal // net futures quantity to sell
	CurrentSpotPrice    decimal.Decimal
	InitialLimitPrice   decimal.Decimal
	InitialSpotValue    decimal.Decimal
	RequiredLeverage    decimal.Decimal
	AvailableCollateral decimal.Decimal
	SpotInstrument      Instrument
	FuturesInstrument   Instrument
	ChunkCount          uint32
	ChunkBaseSpotQty    decimal.Decimal
	ChunkBaseFuturesQty decimal.Decimal
}

// OrderStatusText mirrors the exchange's textual order status.
type OrderStatusText string

const (
	OrderNew                   OrderStatusText = "New"
	OrderPartiallyFilled       OrderStatusText = "PartiallyFilled"
	OrderFilled                OrderStatusText = "Filled"
	OrderCancelled             OrderStatusText = "Cancelled"
	OrderPartiallyFilledCancel OrderStatusText = "PartiallyFilledCanceled"
	OrderRejected              OrderStatusText = "Rejected"
	OrderUnknown               OrderStatusText = "Unknown"
)

func (s OrderStatusText) IsFinal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderPartiallyFilledCancel, OrderRejected:
		return true
	default:
		return false
	}
}

// ChunkOrder tracks one working order placed for a chunk on one leg. It is
// created when the order is placed and mutated only by order-update events;
// the owning field is set to nil once a terminal status is reached.
type ChunkOrder struct {
	OrderID     string
	Symbol      string
	Side        Side
	LimitPrice  decimal.Decimal
	TargetQty   decimal.Decimal
	FilledQty   decimal.Decimal
	FilledValue decimal.Decimal
	AvgPrice    decimal.Decimal
	Status      OrderStatusText
}

func NewChunkOrder(orderID, symbol string, side Side, limitPrice, targetQty decimal.Decimal) *ChunkOrder {
	return &ChunkOrder{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       side,
		LimitPrice: limitPrice,
		TargetQty:  targetQty,
		Status:     OrderNew,
	}
}

// DetailedOrderStatus is the normalized shape of an order-status query/event
// returned by the exchange adapter.
type DetailedOrderStatus struct {
	OrderID                 string
	FilledQty               decimal.Decimal
	RemainingQty            decimal.Decimal
	CumulativeExecutedValue decimal.Decimal
	AveragePrice            decimal.Decimal
	LastFilledPrice         decimal.Decimal
	HasLastFilledPrice      bool
	StatusText              OrderStatusText
}

// UpdateFromDetails applies an order-update/status payload to a ChunkOrder in
// place. Mismatched order ids are the caller's responsibility to filter.
func (c *ChunkOrder) UpdateFromDetails(d DetailedOrderStatus) {
	c.FilledQty = d.FilledQty
	c.FilledValue = d.CumulativeExecutedValue
	c.AvgPrice = d.AveragePrice
	c.Status = d.StatusText
}

// OperationRecord is the durable C3 row for one hedge/unhedge operation.
type OperationRecord struct {
	ID               int64
	ChatID           string
	OperationType    OperationType
	BaseSymbol       string
	QuoteCurrency    string
	InitialSum       decimal.Decimal
	Volatility       decimal.Decimal
	TargetSpotQty    decimal.Decimal
	TargetFuturesQty decimal.Decimal
	Status           OperationStatus
	SpotOrderID      string
	SpotFilledQty    decimal.Decimal
	FuturesOrderID   string
	FuturesFilledQty decimal.Decimal
	StartTimestamp   time.Time
	EndTimestamp     *time.Time // nil while the operation is still running
	ErrorMessage     string
	UnhedgedOpID     int64 // 0 means none
}

// ProgressUpdate is the value-typed payload delivered to the progress sink
// (C8). It carries no reference back to executor state.
type ProgressUpdate struct {
	OperationID      int64
	Stage            Leg
	CurrentPrice     decimal.Decimal
	NewLimitPrice    decimal.Decimal
	IsReplacement    bool
	FilledQty        decimal.Decimal // current order
	TargetQty        decimal.Decimal // current order
	CumulativeFilled decimal.Decimal
	TotalTarget      decimal.Decimal
}

// OrderbookLevel is one price/quantity rung of a book snapshot.
type OrderbookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}
