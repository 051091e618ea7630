package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/exchange"
)

// snapshotPollInterval is how often bootstrap checks whether both public
// books have received their first update.
var snapshotPollInterval = 200 * time.Millisecond

// snapshotWaitTimeout bounds how long bootstrap waits for both books before
// failing the operation.
var snapshotWaitTimeout = 10 * time.Second

// waitForSnapshots blocks until both the spot and futures books have at
// least one (bid, ask) pair, or returns an error once snapshotWaitTimeout
// elapses. The books are only ever populated by book events arriving on
// spotCh/futuresCh, so this loop has to drain all three subscribed streams
// itself rather than waiting for the main run loop to do it — that loop
// doesn't start until bootstrap returns.
func (c *Chunked) waitForSnapshots(ctx context.Context, state *ExecutionState, privateCh, spotCh, futuresCh <-chan exchange.WsEvent) error {
	deadline := time.Now().Add(snapshotWaitTimeout)
	for {
		_, _, spotOK := c.SpotBook.BestBidAsk()
		_, _, futuresOK := c.FuturesBook.BestBidAsk()
		if spotOK && futuresOK {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("timed out waiting for book snapshots (spot ready=%v, futures ready=%v)", spotOK, futuresOK)
		}
		if remaining > snapshotPollInterval {
			remaining = snapshotPollInterval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-privateCh:
			if !ok {
				return fmt.Errorf("private stream closed while waiting for book snapshots")
			}
			// no orders exist yet at this point; nothing to apply, just keep
			// the channel drained so it doesn't back up behind this wait.
		case evt, ok := <-spotCh:
			if !ok {
				return fmt.Errorf("public spot stream closed while waiting for book snapshots")
			}
			c.handleBookEvent(state, c.SpotBook, evt)
		case evt, ok := <-futuresCh:
			if !ok {
				return fmt.Errorf("public linear stream closed while waiting for book snapshots")
			}
			c.handleBookEvent(state, c.FuturesBook, evt)
		case <-time.After(remaining):
		}
	}
}

// recomputeLeverage derives the live required leverage from the current
// futures ask (falling back to the spot best ask) and the available
// collateral, validates it, and applies it via SetLeverage.
func (c *Chunked) recomputeLeverage(ctx context.Context, state *ExecutionState, sum decimal.Decimal) (decimal.Decimal, error) {
	_, futuresAsk, ok := c.FuturesBook.BestBidAsk()
	var refPrice decimal.Decimal
	if ok {
		refPrice = futuresAsk.Price
	} else {
		_, spotAsk, spotOK := c.SpotBook.BestBidAsk()
		if !spotOK {
			return decimal.Zero, fmt.Errorf("no reference price available for leverage recompute")
		}
		refPrice = spotAsk.Price
	}

	availableCollateral := sum.Sub(state.InitialTargetSpotValue)
	if availableCollateral.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("available collateral is non-positive (%s)", availableCollateral)
	}

	futuresPositionValue := state.OverallFuturesTargetQty.Mul(refPrice)
	leverage := futuresPositionValue.Div(availableCollateral)
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("recomputed leverage %s is below 1.0", leverage)
	}
	if leverage.GreaterThan(c.MaxAllowedLeverage) {
		return decimal.Zero, fmt.Errorf("recomputed leverage %s exceeds max allowed %s", leverage, c.MaxAllowedLeverage)
	}

	if err := c.Adapter.SetLeverage(ctx, state.FuturesSymbol, leverage); err != nil {
		return decimal.Zero, fmt.Errorf("set leverage: %w", err)
	}
	return leverage, nil
}

// bootstrap waits for both books' first snapshot, recomputes and sets
// leverage against the live reference price, then hands the state off to
// StartingChunk(1).
func (c *Chunked) bootstrap(ctx context.Context, state *ExecutionState, sum decimal.Decimal, privateCh, spotCh, futuresCh <-chan exchange.WsEvent) error {
	state.Status = Status{Kind: StatusConnectingWebSocket}
	if err := c.waitForSnapshots(ctx, state, privateCh, spotCh, futuresCh); err != nil {
		return err
	}

	state.Status = Status{Kind: StatusSettingLeverage}
	if _, err := c.recomputeLeverage(ctx, state, sum); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(200 * time.Millisecond):
	}

	state.Status = Status{Kind: StatusStartingChunk, ChunkIndex: 1}
	return nil
}
