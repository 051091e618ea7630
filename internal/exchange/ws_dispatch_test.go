package exchange

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/config"
)

func newTestStream(category StreamCategory) *wsStream {
	auth := NewAuth(&config.Config{BybitAPIKey: "k", BybitAPISecret: "s"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newWSStream("wss://example.invalid", category, auth, 0, logger)
}

func TestDispatchOrderBookSnapshot(t *testing.T) {
	t.Parallel()
	s := newTestStream(StreamPublicSpot)
	msg := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","data":{"s":"BTCUSDT","b":[["30000","1.5"]],"a":[["30010","2.0"]]}}`)
	s.dispatch(msg)

	evt := <-s.events
	if evt.Kind != EventOrderBookL2 {
		t.Fatalf("Kind = %v, want EventOrderBookL2", evt.Kind)
	}
	if !evt.Book.IsSnapshot {
		t.Error("expected IsSnapshot = true")
	}
	want, _ := decimal.NewFromString("30000")
	if len(evt.Book.Bids) != 1 || !evt.Book.Bids[0].Price.Equal(want) {
		t.Errorf("unexpected bids: %+v", evt.Book.Bids)
	}
}

func TestDispatchPong(t *testing.T) {
	t.Parallel()
	s := newTestStream(StreamPrivate)
	s.dispatch([]byte(`{"op":"pong"}`))
	evt := <-s.events
	if evt.Kind != EventPong {
		t.Errorf("Kind = %v, want EventPong", evt.Kind)
	}
}

func TestDispatchAuthSuccess(t *testing.T) {
	t.Parallel()
	s := newTestStream(StreamPrivate)
	s.dispatch([]byte(`{"op":"auth","success":true}`))
	evt := <-s.events
	if evt.Kind != EventAuthenticated || !evt.Authenticated {
		t.Errorf("got %+v, want Authenticated=true", evt)
	}
}

func TestDispatchMalformedJSONIsIgnored(t *testing.T) {
	t.Parallel()
	s := newTestStream(StreamPublicSpot)
	s.dispatch([]byte("not json"))
	select {
	case evt := <-s.events:
		t.Errorf("expected no event for malformed input, got %+v", evt)
	default:
	}
}

func TestDispatchOrderUpdate(t *testing.T) {
	t.Parallel()
	s := newTestStream(StreamPrivate)
	msg := []byte(`{"topic":"order","data":[{"orderId":"o1","symbol":"BTCUSDT","cumExecQty":"0.5","leavesQty":"0.5","cumExecValue":"15000","avgPrice":"30000","orderStatus":"PartiallyFilled"}]}`)
	s.dispatch(msg)

	evt := <-s.events
	if evt.Kind != EventOrderUpdate {
		t.Fatalf("Kind = %v, want EventOrderUpdate", evt.Kind)
	}
	if evt.Order.OrderID != "o1" {
		t.Errorf("OrderID = %q, want o1", evt.Order.OrderID)
	}
	if evt.Order.StatusText != "PartiallyFilled" {
		t.Errorf("StatusText = %q, want PartiallyFilled", evt.Order.StatusText)
	}
}
