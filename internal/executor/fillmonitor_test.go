package executor

import (
	"testing"
	"time"

	"hedgeengine/pkg/types"
)

func TestFillMonitorVelocityCountsSamplesInWindow(t *testing.T) {
	t.Parallel()
	m := NewFillMonitor(time.Minute, time.Hour)
	base := time.Now()

	m.RecordFill(types.LegSpot, base)
	m.RecordFill(types.LegFutures, base.Add(10*time.Second))
	m.RecordFill(types.LegSpot, base.Add(20*time.Second))

	v := m.FillVelocity()
	if v <= 0 {
		t.Fatalf("FillVelocity() = %v, want > 0", v)
	}
}

func TestFillMonitorEvictsOldSamples(t *testing.T) {
	t.Parallel()
	m := NewFillMonitor(30*time.Second, time.Hour)
	base := time.Now()

	m.RecordFill(types.LegSpot, base)
	m.RecordFill(types.LegSpot, base.Add(time.Minute))

	v := m.FillVelocity()
	want := 1.0 / (30 * time.Second).Minutes()
	if v < want-0.01 || v > want+0.01 {
		t.Errorf("FillVelocity() = %v, want ~%v after eviction", v, want)
	}
}

func TestFillMonitorIsStalledFalseBeforeAnyFill(t *testing.T) {
	t.Parallel()
	m := NewFillMonitor(time.Minute, 10*time.Second)
	if m.IsStalled(time.Now()) {
		t.Error("expected no stall with zero recorded fills")
	}
}

func TestFillMonitorIsStalledAfterThresholdElapses(t *testing.T) {
	t.Parallel()
	m := NewFillMonitor(time.Minute, 10*time.Second)
	base := time.Now()
	m.RecordFill(types.LegFutures, base)

	if m.IsStalled(base.Add(5 * time.Second)) {
		t.Error("should not be stalled before threshold elapses")
	}
	if !m.IsStalled(base.Add(11 * time.Second)) {
		t.Error("should be stalled once threshold has elapsed since the last fill")
	}
}
