// Package supervisor owns the registry of running hedge/unhedge operations:
// starting one against the planner and the chosen executor strategy,
// cancelling one in flight, and listing what is active or eligible to be
// unhedged. It holds no hedging logic of its own.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hedgeengine/internal/config"
	"hedgeengine/internal/exchange"
	"hedgeengine/internal/executor"
	"hedgeengine/internal/planner"
	"hedgeengine/internal/progress"
	"hedgeengine/internal/store"
	"hedgeengine/pkg/types"
)

// slot tracks one in-flight operation's cancellation handle. cancel is the
// executor's own stop mechanism: Chunked.RequestCancel for the websocket
// strategy (a cooperative signal the run loop checks at its next
// suspension point, letting it finish cancelling live orders before it
// exits) or the run context's CancelFunc for Sequential (whose poll loop
// has no other suspension point to check a signal at).
type slot struct {
	chatID string
	cancel func()
	done   chan struct{}
	runErr error
}

// Supervisor is the single owner of the operation registry, keyed by
// operation ID alone (the chat ID is not part of the key); every hedge or
// unhedge the engine runs is started and tracked here.
type Supervisor struct {
	adapter exchange.Adapter
	store   *store.Store
	cfg     *config.Config
	sink    *progress.Sink
	logger  *slog.Logger

	mu    sync.RWMutex
	slots map[int64]*slot
}

// New builds a Supervisor. Call ReclaimCrashed once at startup before
// accepting new requests.
func New(adapter exchange.Adapter, st *store.Store, cfg *config.Config, sink *progress.Sink, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		adapter: adapter,
		store:   st,
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		slots:   make(map[int64]*slot),
	}
}

// ReclaimCrashed reclassifies every Running row left over from a previous
// process as Interrupted, since no executor goroutine is alive behind it
// after a restart.
func (sv *Supervisor) ReclaimCrashed(ctx context.Context) (int64, error) {
	n, err := sv.store.ReclaimInterrupted(ctx)
	if err != nil {
		return 0, fmt.Errorf("reclaim interrupted operations: %w", err)
	}
	if n > 0 {
		sv.logger.Warn("reclaimed operations interrupted by a previous crash", "count", n)
	}
	return n, nil
}

// StartHedge plans req, persists a Running record, and launches the chosen
// executor strategy in the background. It returns as soon as the operation
// id is assigned, not when the hedge completes.
func (sv *Supervisor) StartHedge(ctx context.Context, req types.HedgeRequest) (int64, error) {
	strategy := req.Strategy
	if strategy == "" {
		var err error
		strategy, err = sv.cfg.Strategy()
		if err != nil {
			return 0, fmt.Errorf("default strategy: %w", err)
		}
	}

	params, err := planner.Plan(ctx, sv.adapter, sv.cfg, req)
	if err != nil {
		return 0, err
	}

	opID, err := sv.store.CreateHedge(ctx, types.OperationRecord{
		ChatID:           req.ChatID,
		OperationType:    types.OperationHedge,
		BaseSymbol:       req.BaseSymbol,
		QuoteCurrency:    sv.cfg.QuoteCurrency,
		InitialSum:       req.Sum,
		Volatility:       req.Volatility,
		TargetSpotQty:    params.SpotOrderQty,
		TargetFuturesQty: params.FuturesOrderQty,
	})
	if err != nil {
		return 0, fmt.Errorf("persist hedge operation: %w", err)
	}

	runCtx, cancelCtx := context.WithCancel(context.Background())
	sl := &slot{chatID: req.ChatID, done: make(chan struct{})}

	var run func() error
	switch strategy {
	case types.StrategyWebsocketChunks:
		c := executor.NewChunked(sv.adapter, sv.store, sv.sink, sv.cfg, sv.logger, params.SpotSymbol, params.FuturesSymbol)
		sl.cancel = c.RequestCancel
		run = func() error { return c.RunHedge(runCtx, opID, params, req.Sum) }
	default:
		s := &executor.Sequential{Adapter: sv.adapter, Store: sv.store, Sink: sv.sink, Cfg: sv.cfg, Logger: sv.logger}
		sl.cancel = cancelCtx
		run = func() error { return s.RunHedge(runCtx, opID, params) }
	}
	sv.register(opID, sl)

	go func() {
		defer close(sl.done)
		defer sv.unregister(opID)
		defer cancelCtx()

		err := run()
		sl.runErr = err
		if err != nil {
			sv.logger.Error("hedge operation ended with error", "operation_id", opID, "chat_id", req.ChatID, "error", err)
		}
	}()

	return opID, nil
}

// StartUnhedge reverses a previously completed hedge's filled quantities:
// SELL the spot leg back, BUY the futures leg back.
func (sv *Supervisor) StartUnhedge(ctx context.Context, req types.UnhedgeRequest) (int64, error) {
	original, err := sv.store.ByID(ctx, req.OriginalID)
	if err != nil {
		return 0, fmt.Errorf("load original operation %d: %w", req.OriginalID, err)
	}
	if original == nil {
		return 0, fmt.Errorf("operation %d not found", req.OriginalID)
	}
	if original.OperationType != types.OperationHedge {
		return 0, fmt.Errorf("operation %d is not a hedge", req.OriginalID)
	}
	if original.Status != types.StatusCompleted {
		return 0, fmt.Errorf("operation %d is not completed (status=%s)", req.OriginalID, original.Status)
	}
	if original.UnhedgedOpID != 0 {
		return 0, fmt.Errorf("operation %d was already unhedged by operation %d", req.OriginalID, original.UnhedgedOpID)
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy, err = sv.cfg.Strategy()
		if err != nil {
			return 0, fmt.Errorf("default strategy: %w", err)
		}
	}

	spotInstrument, err := sv.adapter.SpotInstrument(ctx, original.BaseSymbol)
	if err != nil {
		return 0, fmt.Errorf("spot instrument info: %w", err)
	}
	futuresInstrument, err := sv.adapter.LinearInstrument(ctx, original.BaseSymbol)
	if err != nil {
		return 0, fmt.Errorf("linear instrument info: %w", err)
	}

	opID, err := sv.store.CreateHedge(ctx, types.OperationRecord{
		ChatID:           req.ChatID,
		OperationType:    types.OperationUnhedge,
		BaseSymbol:       original.BaseSymbol,
		QuoteCurrency:    sv.cfg.QuoteCurrency,
		InitialSum:       original.InitialSum,
		Volatility:       original.Volatility,
		TargetSpotQty:    original.SpotFilledQty,
		TargetFuturesQty: original.FuturesFilledQty,
	})
	if err != nil {
		return 0, fmt.Errorf("persist unhedge operation: %w", err)
	}
	if err := sv.store.MarkUnhedged(ctx, original.ID, opID); err != nil {
		return 0, fmt.Errorf("mark original operation unhedged: %w", err)
	}

	runCtx, cancelCtx := context.WithCancel(context.Background())
	sl := &slot{chatID: req.ChatID, done: make(chan struct{})}

	var run func() error
	switch strategy {
	case types.StrategyWebsocketChunks:
		c := executor.NewChunked(sv.adapter, sv.store, sv.sink, sv.cfg, sv.logger, spotInstrument.Symbol, futuresInstrument.Symbol)
		sl.cancel = c.RequestCancel
		run = func() error {
			return c.RunUnhedge(runCtx, opID, original.SpotFilledQty, original.FuturesFilledQty, spotInstrument, futuresInstrument)
		}
	default:
		sl.cancel = cancelCtx
		s := &executor.Sequential{Adapter: sv.adapter, Store: sv.store, Sink: sv.sink, Cfg: sv.cfg, Logger: sv.logger}
		run = func() error {
			spotPrice, priceErr := sv.adapter.SpotPrice(runCtx, original.BaseSymbol)
			if priceErr != nil {
				return fmt.Errorf("spot price for unhedge anchor: %w", priceErr)
			}
			return s.RunUnhedge(runCtx, opID, original.SpotFilledQty, original.FuturesFilledQty, spotPrice, spotInstrument, futuresInstrument)
		}
	}
	sv.register(opID, sl)

	go func() {
		defer close(sl.done)
		defer sv.unregister(opID)
		defer cancelCtx()

		err := run()
		sl.runErr = err
		if err != nil {
			sv.logger.Error("unhedge operation ended with error", "operation_id", opID, "chat_id", req.ChatID, "error", err)
		}
	}()

	return opID, nil
}

// Cancel requests a running operation stop. It returns an error if
// operationID is not currently tracked (already finished, or never started).
func (sv *Supervisor) Cancel(operationID int64) error {
	sv.mu.RLock()
	sl, ok := sv.slots[operationID]
	sv.mu.RUnlock()
	if !ok {
		return fmt.Errorf("operation %d is not running", operationID)
	}
	sl.cancel()
	return nil
}

// ListActive returns every operation currently Running in the store.
func (sv *Supervisor) ListActive(ctx context.Context) ([]types.OperationRecord, error) {
	return sv.store.Running(ctx)
}

// ListUnhedgeable returns chatID's completed hedges not yet retired by an
// unhedge.
func (sv *Supervisor) ListUnhedgeable(ctx context.Context, chatID string) ([]types.OperationRecord, error) {
	return sv.store.CompletedUnhedged(ctx, chatID)
}

func (sv *Supervisor) register(operationID int64, sl *slot) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.slots[operationID] = sl
}

func (sv *Supervisor) unregister(operationID int64) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	delete(sv.slots, operationID)
}
