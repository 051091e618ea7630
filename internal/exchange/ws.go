// ws.go implements the three WebSocket streams the engine consumes: the
// authenticated private stream (order updates) and the two public streams
// (spot and linear order books / trades). Each stream auto-reconnects with
// exponential backoff and re-subscribes to all tracked topics; on reconnect
// the engine sees a fresh Connected event followed by a full snapshot.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

const (
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	readTimeout      = 90 * time.Second
	eventBufferSize  = 256
)

// wsManager owns one connection per StreamCategory; each stream delivers its
// decoded events on a single events channel. A single Client holds one wsManager.
type wsManager struct {
	baseURL      string
	auth         *Auth
	pingInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	streams map[StreamCategory]*wsStream
}

func newWSManager(baseURL string, auth *Auth, pingInterval time.Duration, logger *slog.Logger) *wsManager {
	return &wsManager{
		baseURL:      baseURL,
		auth:         auth,
		pingInterval: pingInterval,
		logger:       logger,
		streams:      make(map[StreamCategory]*wsStream),
	}
}

// subscribe returns (creating if necessary) the event channel for a stream
// category, adding topics to its tracked subscription set.
func (m *wsManager) subscribe(ctx context.Context, category StreamCategory, topics []string) (<-chan WsEvent, error) {
	m.mu.Lock()
	s, ok := m.streams[category]
	if !ok {
		s = newWSStream(m.baseURL, category, m.auth, m.pingInterval, m.logger)
		m.streams[category] = s
		go s.run(ctx)
	}
	m.mu.Unlock()

	s.addTopics(topics)
	return s.events, nil
}

// wsStream is a single reconnecting WebSocket connection dedicated to one
// StreamCategory.
type wsStream struct {
	url          string
	category     StreamCategory
	auth         *Auth
	pingInterval time.Duration
	logger       *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	topicsMu sync.RWMutex
	topics   map[string]bool

	events chan WsEvent
}

func newWSStream(base string, category StreamCategory, auth *Auth, pingInterval time.Duration, logger *slog.Logger) *wsStream {
	path := "/v5/public/spot"
	switch category {
	case StreamPrivate:
		path = "/v5/private"
	case StreamPublicLinear:
		path = "/v5/public/linear"
	}
	return &wsStream{
		url:          base + path,
		category:     category,
		auth:         auth,
		pingInterval: pingInterval,
		logger:       logger.With("stream", string(category)),
		topics:       make(map[string]bool),
		events:       make(chan WsEvent, eventBufferSize),
	}
}

func (s *wsStream) addTopics(topics []string) {
	s.topicsMu.Lock()
	for _, t := range topics {
		s.topics[t] = true
	}
	s.topicsMu.Unlock()

	s.connMu.Lock()
	connected := s.conn != nil
	s.connMu.Unlock()
	if connected {
		_ = s.writeJSON(map[string]any{"op": "subscribe", "args": topics})
	}
}

// run connects and maintains the connection with auto-reconnect until ctx
// is cancelled. Each reconnect emits a fresh Connected event; the engine
// treats that as an implicit snapshot restart.
func (s *wsStream) run(ctx context.Context) {
	backoff := time.Second
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			close(s.events)
			return
		}

		s.emit(WsEvent{Kind: EventDisconnected})
		s.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			close(s.events)
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (s *wsStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if s.category == StreamPrivate {
		if err := s.authenticate(); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}
	if err := s.resubscribe(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	s.emit(WsEvent{Kind: EventConnected})
	s.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(msg)
	}
}

func (s *wsStream) authenticate() error {
	expires := time.Now().Add(10 * time.Second).UnixMilli()
	apiKey, exp, sig := s.auth.WsAuthArgs(expires)
	return s.writeJSON(map[string]any{
		"op":   "auth",
		"args": []any{apiKey, exp, sig},
	})
}

func (s *wsStream) resubscribe() error {
	s.topicsMu.RLock()
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	s.topicsMu.RUnlock()
	if len(topics) == 0 {
		return nil
	}
	return s.writeJSON(map[string]any{"op": "subscribe", "args": topics})
}

func (s *wsStream) pingLoop(ctx context.Context) {
	if s.pingInterval <= 0 {
		s.pingInterval = 20 * time.Second
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]any{"op": "ping", "req_id": fmt.Sprintf("%d", time.Now().UnixNano())}); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// wireEnvelope captures the fields across all message shapes this stream
// sees; only the ones matching Topic/Op are unmarshalled per message.
type wireEnvelope struct {
	Topic   string          `json:"topic"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	ReqID   string          `json:"req_id"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

func (s *wsStream) dispatch(raw []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Debug("ignoring non-json ws message", "data", string(raw))
		return
	}

	switch {
	case env.Op == "pong" || env.Op == "ping":
		s.emit(WsEvent{Kind: EventPong})
	case env.Op == "auth":
		s.emit(WsEvent{Kind: EventAuthenticated, Authenticated: env.Success != nil && *env.Success})
	case env.Op == "subscribe":
		s.emit(WsEvent{Kind: EventSubscriptionAck, SubAck: SubscriptionAck{ReqID: env.ReqID, OK: env.Success == nil || *env.Success}})
	case env.Topic == "order" || s.category == StreamPrivate && env.Topic != "":
		s.dispatchOrderUpdates(env.Data)
	case len(env.Topic) > 12 && env.Topic[:12] == "orderbook.50":
		s.dispatchOrderBook(env.Topic, env.Type, env.Data)
	case len(env.Topic) >= 9 && env.Topic[:9] == "publicTra":
		s.dispatchTrades(env.Topic, env.Data)
	default:
		s.logger.Debug("unhandled ws message", "topic", env.Topic, "op", env.Op)
	}
}

type wireOrder struct {
	OrderID      string `json:"orderId"`
	Symbol       string `json:"symbol"`
	CumExecQty   string `json:"cumExecQty"`
	LeavesQty    string `json:"leavesQty"`
	CumExecValue string `json:"cumExecValue"`
	AvgPrice     string `json:"avgPrice"`
	LastExecPrice string `json:"lastExecPrice"`
	OrderStatus  string `json:"orderStatus"`
}

func (s *wsStream) dispatchOrderUpdates(data json.RawMessage) {
	var orders []wireOrder
	if err := json.Unmarshal(data, &orders); err != nil {
		s.emit(WsEvent{Kind: EventError, ErrMsg: fmt.Sprintf("%v: decode order update: %v", ErrProtocolDecode, err)})
		return
	}
	for _, o := range orders {
		filled, _ := decimal.NewFromString(o.CumExecQty)
		remaining, _ := decimal.NewFromString(o.LeavesQty)
		value, _ := decimal.NewFromString(o.CumExecValue)
		avg, _ := decimal.NewFromString(o.AvgPrice)
		d := types.DetailedOrderStatus{
			OrderID:                 o.OrderID,
			FilledQty:               filled,
			RemainingQty:            remaining,
			CumulativeExecutedValue: value,
			AveragePrice:            avg,
			StatusText:              mapOrderStatus(o.OrderStatus),
		}
		if o.LastExecPrice != "" {
			if v, err := decimal.NewFromString(o.LastExecPrice); err == nil && !v.IsZero() {
				d.LastFilledPrice = v
				d.HasLastFilledPrice = true
			}
		}
		s.emit(WsEvent{Kind: EventOrderUpdate, Order: d})
	}
}

type wireBookLevel [2]string

type wireBook struct {
	Symbol string           `json:"s"`
	Bids   []wireBookLevel  `json:"b"`
	Asks   []wireBookLevel  `json:"a"`
}

func levelsFrom(raw []wireBookLevel) []types.OrderbookLevel {
	out := make([]types.OrderbookLevel, 0, len(raw))
	for _, lvl := range raw {
		price, errP := decimal.NewFromString(lvl[0])
		qty, errQ := decimal.NewFromString(lvl[1])
		if errP != nil || errQ != nil {
			continue
		}
		out = append(out, types.OrderbookLevel{Price: price, Qty: qty})
	}
	return out
}

func (s *wsStream) dispatchOrderBook(topic, msgType string, data json.RawMessage) {
	var book wireBook
	if err := json.Unmarshal(data, &book); err != nil {
		s.emit(WsEvent{Kind: EventError, ErrMsg: fmt.Sprintf("%v: decode order book: %v", ErrProtocolDecode, err)})
		return
	}
	s.emit(WsEvent{Kind: EventOrderBookL2, Book: OrderBookL2{
		Symbol:     book.Symbol,
		Bids:       levelsFrom(book.Bids),
		Asks:       levelsFrom(book.Asks),
		IsSnapshot: msgType == "snapshot",
	}})
}

type wireTrade struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"v"`
	Side   string `json:"S"`
}

func (s *wsStream) dispatchTrades(topic string, data json.RawMessage) {
	var trades []wireTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		s.emit(WsEvent{Kind: EventError, ErrMsg: fmt.Sprintf("%v: decode public trade: %v", ErrProtocolDecode, err)})
		return
	}
	for _, t := range trades {
		price, _ := decimal.NewFromString(t.Price)
		qty, _ := decimal.NewFromString(t.Qty)
		side := types.Buy
		if t.Side == "Sell" {
			side = types.Sell
		}
		s.emit(WsEvent{Kind: EventPublicTrade, Trade: PublicTrade{Symbol: t.Symbol, Price: price, Qty: qty, Side: side}})
	}
}

func (s *wsStream) emit(evt WsEvent) {
	select {
	case s.events <- evt:
	default:
		s.logger.Warn("event channel full, dropping event", "kind", evt.Kind)
	}
}

func (s *wsStream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}
