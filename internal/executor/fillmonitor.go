package executor

import (
	"sync"
	"time"

	"hedgeengine/pkg/types"
)

// fillSample is one leg-fill event recorded for stall diagnostics.
type fillSample struct {
	at  time.Time
	leg types.Leg
}

// FillMonitor tracks recent fill events in a rolling window to flag a
// running operation whose chunks have gone quiet for longer than expected —
// a diagnostic signal, not a control input: nothing in the run loop changes
// behavior based on it besides logging.
type FillMonitor struct {
	mu sync.RWMutex

	windowDuration time.Duration
	stallThreshold time.Duration
	samples        []fillSample
}

// NewFillMonitor builds a monitor that keeps windowDuration of fill history
// and considers the operation stalled once stallThreshold has passed with
// no recorded fill.
func NewFillMonitor(windowDuration, stallThreshold time.Duration) *FillMonitor {
	return &FillMonitor{
		windowDuration: windowDuration,
		stallThreshold: stallThreshold,
		samples:        make([]fillSample, 0, 16),
	}
}

// RecordFill notes a fill on leg at the current time and evicts samples
// that have aged out of the window.
func (m *FillMonitor) RecordFill(leg types.Leg, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, fillSample{at: now, leg: leg})
	m.evictStaleLocked(now)
}

func (m *FillMonitor) evictStaleLocked(now time.Time) {
	cutoff := now.Add(-m.windowDuration)
	idx := 0
	for idx < len(m.samples) && m.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		m.samples = m.samples[idx:]
	}
}

// FillVelocity reports fills per minute within the current window.
func (m *FillMonitor) FillVelocity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.samples) == 0 || m.windowDuration <= 0 {
		return 0
	}
	return float64(len(m.samples)) / m.windowDuration.Minutes()
}

// IsStalled reports whether stallThreshold has elapsed since the most
// recent recorded fill. It is always false before the first fill is recorded.
func (m *FillMonitor) IsStalled(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.samples) == 0 {
		return false
	}
	last := m.samples[len(m.samples)-1].at
	return now.Sub(last) > m.stallThreshold
}
