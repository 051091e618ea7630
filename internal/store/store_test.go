package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hedge.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleHedge(chatID, symbol string) types.OperationRecord {
	return types.OperationRecord{
		ChatID:           chatID,
		OperationType:    types.OperationHedge,
		BaseSymbol:       symbol,
		QuoteCurrency:    "USDT",
		InitialSum:       decimal.RequireFromString("1000"),
		Volatility:       decimal.RequireFromString("0.6"),
		TargetSpotQty:    decimal.RequireFromString("0.02"),
		TargetFuturesQty: decimal.RequireFromString("0.02"),
	}
}

func TestCreateAndLoadHedge(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateHedge(ctx, sampleHedge("chat1", "BTC"))
	if err != nil {
		t.Fatalf("CreateHedge: %v", err)
	}
	if id == 0 {
		t.Fatal("expected nonzero operation id")
	}

	rec, err := s.ByID(ctx, id)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record, got nil")
	}
	if rec.Status != types.StatusRunning {
		t.Errorf("Status = %v, want Running", rec.Status)
	}
	if rec.StartTimestamp.IsZero() {
		t.Error("StartTimestamp not set")
	}
	if rec.EndTimestamp != nil {
		t.Error("EndTimestamp should be nil for a fresh operation")
	}
}

func TestByIDMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	rec, err := s.ByID(context.Background(), 999)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for missing id, got %+v", rec)
	}
}

func TestUpdateSpotProgressIsIncremental(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateHedge(ctx, sampleHedge("chat1", "BTC"))

	if err := s.UpdateSpotProgress(ctx, id, "order-1", decimal.RequireFromString("0.005")); err != nil {
		t.Fatalf("UpdateSpotProgress: %v", err)
	}
	if err := s.UpdateSpotProgress(ctx, id, "", decimal.RequireFromString("0.01")); err != nil {
		t.Fatalf("UpdateSpotProgress (no order id): %v", err)
	}

	rec, _ := s.ByID(ctx, id)
	if rec.SpotOrderID != "order-1" {
		t.Errorf("SpotOrderID = %q, want to survive the empty-orderID update", rec.SpotOrderID)
	}
	if !rec.SpotFilledQty.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("SpotFilledQty = %v, want 0.01", rec.SpotFilledQty)
	}
}

func TestFinalizeSetsTerminalStatus(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateHedge(ctx, sampleHedge("chat1", "BTC"))

	err := s.Finalize(ctx, id, types.StatusCompleted, "futures-order-1", decimal.RequireFromString("0.02"), "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	rec, _ := s.ByID(ctx, id)
	if rec.Status != types.StatusCompleted {
		t.Errorf("Status = %v, want Completed", rec.Status)
	}
	if rec.FuturesOrderID != "futures-order-1" {
		t.Errorf("FuturesOrderID = %q, want futures-order-1", rec.FuturesOrderID)
	}
	if rec.EndTimestamp == nil {
		t.Error("EndTimestamp should be set after Finalize")
	}
}

func TestFinalizeWithError(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateHedge(ctx, sampleHedge("chat1", "BTC"))

	err := s.Finalize(ctx, id, types.StatusFailed, "", decimal.Zero, "exchange rejection 10001: order not found")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	rec, _ := s.ByID(ctx, id)
	if rec.Status != types.StatusFailed {
		t.Errorf("Status = %v, want Failed", rec.Status)
	}
	if rec.ErrorMessage == "" {
		t.Error("expected ErrorMessage to be recorded")
	}
}

func TestMarkUnhedgedAndCompletedUnhedgedFiltering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id1, _ := s.CreateHedge(ctx, sampleHedge("chat1", "BTC"))
	s.Finalize(ctx, id1, types.StatusCompleted, "f1", decimal.RequireFromString("0.02"), "")

	id2, _ := s.CreateHedge(ctx, sampleHedge("chat1", "ETH"))
	s.Finalize(ctx, id2, types.StatusCompleted, "f2", decimal.RequireFromString("1.5"), "")

	unhedged, err := s.CompletedUnhedged(ctx, "chat1")
	if err != nil {
		t.Fatalf("CompletedUnhedged: %v", err)
	}
	if len(unhedged) != 2 {
		t.Fatalf("len(unhedged) = %d, want 2", len(unhedged))
	}

	unhedgeOpID, _ := s.CreateHedge(ctx, sampleHedge("chat1", "BTC"))
	if err := s.MarkUnhedged(ctx, id1, unhedgeOpID); err != nil {
		t.Fatalf("MarkUnhedged: %v", err)
	}

	remaining, err := s.CompletedUnhedged(ctx, "chat1")
	if err != nil {
		t.Fatalf("CompletedUnhedged after mark: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != id2 {
		t.Errorf("remaining = %+v, want only id2=%d", remaining, id2)
	}

	bySymbol, err := s.CompletedUnhedgedForSymbol(ctx, "chat1", "ETH")
	if err != nil {
		t.Fatalf("CompletedUnhedgedForSymbol: %v", err)
	}
	if len(bySymbol) != 1 || bySymbol[0].BaseSymbol != "ETH" {
		t.Errorf("bySymbol = %+v, want only the ETH row", bySymbol)
	}
}

func TestRunningReturnsOnlyRunningOperations(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	runningID, _ := s.CreateHedge(ctx, sampleHedge("chat1", "BTC"))
	doneID, _ := s.CreateHedge(ctx, sampleHedge("chat1", "ETH"))
	s.Finalize(ctx, doneID, types.StatusCompleted, "f1", decimal.RequireFromString("1"), "")

	running, err := s.Running(ctx)
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if len(running) != 1 || running[0].ID != runningID {
		t.Errorf("Running = %+v, want only id=%d", running, runningID)
	}
}

func TestReclaimInterrupted(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateHedge(ctx, sampleHedge("chat1", "BTC"))

	n, err := s.ReclaimInterrupted(ctx)
	if err != nil {
		t.Fatalf("ReclaimInterrupted: %v", err)
	}
	if n != 1 {
		t.Errorf("ReclaimInterrupted count = %d, want 1", n)
	}

	rec, _ := s.ByID(ctx, id)
	if rec.Status != types.StatusInterrupted {
		t.Errorf("Status = %v, want Interrupted", rec.Status)
	}
	if rec.EndTimestamp == nil {
		t.Error("expected EndTimestamp to be set by reclaim")
	}

	n, err = s.ReclaimInterrupted(ctx)
	if err != nil {
		t.Fatalf("ReclaimInterrupted (second pass): %v", err)
	}
	if n != 0 {
		t.Errorf("second ReclaimInterrupted count = %d, want 0 (idempotent)", n)
	}
}
