package executor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"hedgeengine/internal/exchange"
	"hedgeengine/internal/market"
	"hedgeengine/pkg/types"
)

func bookSnapshot(symbol, bidPrice, askPrice string) exchange.WsEvent {
	return exchange.WsEvent{
		Kind: exchange.EventOrderBookL2,
		Book: exchange.OrderBookL2{
			Symbol:     symbol,
			IsSnapshot: true,
			Bids:       []types.OrderbookLevel{{Price: dd(bidPrice), Qty: dd("1")}},
			Asks:       []types.OrderbookLevel{{Price: dd(askPrice), Qty: dd("1")}},
		},
	}
}

func TestWaitForSnapshotsDrainsBookChannelsUntilBothReady(t *testing.T) {
	t.Parallel()
	c := &Chunked{
		Logger:      slog.Default(),
		SpotBook:    market.NewBook("BTCUSDT"),
		FuturesBook: market.NewBook("BTCUSDT-PERP"),
	}
	state := &ExecutionState{SpotSymbol: "BTCUSDT", FuturesSymbol: "BTCUSDT-PERP"}

	privateCh := make(chan exchange.WsEvent, 1)
	spotCh := make(chan exchange.WsEvent, 1)
	futuresCh := make(chan exchange.WsEvent, 1)

	privateCh <- exchange.WsEvent{Kind: exchange.EventAuthenticated}
	spotCh <- bookSnapshot("BTCUSDT", "29990", "30000")
	futuresCh <- bookSnapshot("BTCUSDT-PERP", "29980", "29990")

	done := make(chan error, 1)
	go func() {
		done <- c.waitForSnapshots(context.Background(), state, privateCh, spotCh, futuresCh)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waitForSnapshots returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waitForSnapshots never returned after both books received a snapshot")
	}

	if _, _, ok := c.SpotBook.BestBidAsk(); !ok {
		t.Error("spot book was not populated by the drained snapshot")
	}
	if _, _, ok := c.FuturesBook.BestBidAsk(); !ok {
		t.Error("futures book was not populated by the drained snapshot")
	}
}

func TestWaitForSnapshotsTimesOutIfOnlyOneBookArrives(t *testing.T) {
	t.Parallel()
	origTimeout, origPoll := snapshotWaitTimeout, snapshotPollInterval
	snapshotWaitTimeout = 50 * time.Millisecond
	snapshotPollInterval = 10 * time.Millisecond
	defer func() { snapshotWaitTimeout, snapshotPollInterval = origTimeout, origPoll }()

	c := &Chunked{
		Logger:      slog.Default(),
		SpotBook:    market.NewBook("BTCUSDT"),
		FuturesBook: market.NewBook("BTCUSDT-PERP"),
	}
	state := &ExecutionState{SpotSymbol: "BTCUSDT", FuturesSymbol: "BTCUSDT-PERP"}

	spotCh := make(chan exchange.WsEvent, 1)
	spotCh <- bookSnapshot("BTCUSDT", "29990", "30000")
	futuresCh := make(chan exchange.WsEvent)
	privateCh := make(chan exchange.WsEvent)

	err := c.waitForSnapshots(context.Background(), state, privateCh, spotCh, futuresCh)
	if err == nil {
		t.Fatal("expected a timeout error when the futures book never snapshots")
	}
}

func TestWaitForSnapshotsReturnsOnContextCancel(t *testing.T) {
	t.Parallel()
	c := &Chunked{
		Logger:      slog.Default(),
		SpotBook:    market.NewBook("BTCUSDT"),
		FuturesBook: market.NewBook("BTCUSDT-PERP"),
	}
	state := &ExecutionState{SpotSymbol: "BTCUSDT", FuturesSymbol: "BTCUSDT-PERP"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	privateCh := make(chan exchange.WsEvent)
	spotCh := make(chan exchange.WsEvent)
	futuresCh := make(chan exchange.WsEvent)

	err := c.waitForSnapshots(ctx, state, privateCh, spotCh, futuresCh)
	if err == nil {
		t.Fatal("expected context cancellation to end the wait with an error")
	}
}
