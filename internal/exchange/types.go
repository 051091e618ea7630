// Package exchange implements the REST and WebSocket adapter that connects
// the hedging engine to a single centralized exchange (Bybit-style spot +
// linear-perpetual API). Adapter is the capability surface the rest of the
// engine consumes; Client is its concrete implementation.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

// Ticker is a best bid/ask/last snapshot for a futures symbol.
type Ticker struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal
}

// OrderAck is the exchange's synchronous response to an order placement.
type OrderAck struct {
	OrderID string
}

// WsEventKind discriminates the tagged union delivered on every subscription
// channel. Only the fields relevant to Kind are populated.
type WsEventKind string

const (
	EventConnected       WsEventKind = "Connected"
	EventAuthenticated   WsEventKind = "Authenticated"
	EventSubscriptionAck WsEventKind = "SubscriptionAck"
	EventPong            WsEventKind = "Pong"
	EventOrderUpdate     WsEventKind = "OrderUpdate"
	EventOrderBookL2     WsEventKind = "OrderBookL2"
	EventPublicTrade     WsEventKind = "PublicTrade"
	EventError           WsEventKind = "Error"
	EventDisconnected    WsEventKind = "Disconnected"
)

// SubscriptionAck matches a subscribe/unsubscribe request by its client-chosen ReqID.
type SubscriptionAck struct {
	ReqID string
	OK    bool
}

// OrderBookL2 is a top-of-book-plus-depth update for one symbol on one stream.
type OrderBookL2 struct {
	Symbol     string
	Bids       []types.OrderbookLevel
	Asks       []types.OrderbookLevel
	IsSnapshot bool
}

// PublicTrade is an informational public-tape print.
type PublicTrade struct {
	Symbol string
	Price  decimal.Decimal
	Qty    decimal.Decimal
	Side   types.Side
}

// WsEvent is the value delivered on a subscription channel. Kind selects
// which of the remaining fields is meaningful.
type WsEvent struct {
	Kind          WsEventKind
	Authenticated bool
	SubAck        SubscriptionAck
	Order         types.DetailedOrderStatus
	Book          OrderBookL2
	Trade         PublicTrade
	ErrMsg        string
}

// StreamCategory selects one of the three logical subscription channels.
// Only Private is authenticated; each has independent reconnection state.
type StreamCategory string

const (
	StreamPrivate       StreamCategory = "private"
	StreamPublicSpot    StreamCategory = "public_spot"
	StreamPublicLinear  StreamCategory = "public_linear"
)

// Adapter is the uniform REST+WS capability surface the engine consumes.
// Implementations must fail with ErrTransientNetwork, *ExchangeRejectionError,
// or ErrProtocolDecode so the executor can classify failures per the error
// handling design.
type Adapter interface {
	CheckConnection(ctx context.Context) error

	SpotInstrument(ctx context.Context, base string) (types.Instrument, error)
	LinearInstrument(ctx context.Context, base string) (types.Instrument, error)
	FeeRate(ctx context.Context, symbol, category string) (decimal.Decimal, error)
	MaintenanceMarginRate(ctx context.Context, symbol string) (decimal.Decimal, error)

	SpotPrice(ctx context.Context, base string) (decimal.Decimal, error)
	FuturesTicker(ctx context.Context, symbol string) (Ticker, error)

	Balance(ctx context.Context, coin string) (decimal.Decimal, error)
	AllBalances(ctx context.Context) (map[string]decimal.Decimal, error)

	PlaceLimitSpot(ctx context.Context, base string, side types.Side, qty, price decimal.Decimal) (OrderAck, error)
	PlaceLimitFutures(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal) (OrderAck, error)
	PlaceMarketFutures(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal) (OrderAck, error)
	CancelSpot(ctx context.Context, base, orderID string) error
	CancelFutures(ctx context.Context, symbol, orderID string) error
	OrderStatus(ctx context.Context, symbol, orderID string) (types.DetailedOrderStatus, error)

	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error
	CurrentLeverage(ctx context.Context, symbol string) (decimal.Decimal, error)

	Subscribe(ctx context.Context, stream StreamCategory, topics []string) (<-chan WsEvent, error)
}
