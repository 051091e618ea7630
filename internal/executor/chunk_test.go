package executor

import (
	"testing"
)

func baseChunkState() *ExecutionState {
	return &ExecutionState{
		TotalChunks:              4,
		CurrentChunkIndex:        0,
		ChunkBaseQuantitySpot:    dd("0.25"),
		ChunkBaseQuantityFutures: dd("0.25"),
		SpotQuantityStep:         dd("0.001"),
		FuturesQuantityStep:      dd("0.001"),
		MinSpotQuantity:          dd("0.001"),
		MinFuturesQuantity:       dd("0.001"),
		OverallSpotTargetQty:     dd("1"),
		OverallFuturesTargetQty:  dd("1"),
		SpotMarketData:           mu("29990", "30000"),
		FuturesMarketData:        mu("29980", "29990"),
	}
}

func TestPlanChunkNonLastTakesChunkBase(t *testing.T) {
	t.Parallel()
	st := baseChunkState()
	plan := planChunk(st)
	if plan.IsLastChunk {
		t.Fatal("chunk 1 of 4 should not be last")
	}
	if !plan.SpotQty.Equal(dd("0.25")) || !plan.FuturesQty.Equal(dd("0.25")) {
		t.Errorf("qty = (%s, %s), want (0.25, 0.25)", plan.SpotQty, plan.FuturesQty)
	}
	if !plan.SpotFeasible || !plan.FuturesFeasible {
		t.Error("both legs should be feasible with ample book depth and qty above minimums")
	}
}

func TestPlanChunkLastTakesFullRemainder(t *testing.T) {
	t.Parallel()
	st := baseChunkState()
	st.CurrentChunkIndex = 3
	st.CumulativeSpotFilledQuantity = dd("0.76")
	st.CumulativeFuturesFilledQuantity = dd("0.76")

	plan := planChunk(st)
	if !plan.IsLastChunk {
		t.Fatal("chunk 4 of 4 should be last")
	}
	if !plan.SpotQty.Equal(dd("0.24")) {
		t.Errorf("last chunk spot qty = %s, want 0.24 (full remainder)", plan.SpotQty)
	}
}

func TestPlanChunkInfeasibleBelowMinQty(t *testing.T) {
	t.Parallel()
	st := baseChunkState()
	st.CurrentChunkIndex = 3
	st.CumulativeSpotFilledQuantity = dd("0.9995")
	st.CumulativeFuturesFilledQuantity = dd("1")

	plan := planChunk(st)
	if !plan.SpotFeasible {
		// 0.0005 rounds down to 0 on a 0.001 step, which is below min qty.
	} else {
		t.Error("expected spot leg infeasible: dust remainder below min qty")
	}
	if plan.FuturesFeasible {
		t.Error("expected futures leg infeasible: nothing left to fill")
	}
}

func TestPlanChunkRespectsMinNotional(t *testing.T) {
	t.Parallel()
	st := baseChunkState()
	st.HasMinSpotNotional = true
	st.MinSpotNotional = dd("100000")

	plan := planChunk(st)
	if plan.SpotFeasible {
		t.Error("expected spot leg infeasible: chunk notional far below min notional")
	}
}
