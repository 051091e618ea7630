// Package progress delivers ProgressUpdate values to an external
// callback without overwhelming it: replacement events and cumulative-fill
// changes pass through immediately, everything else is throttled to at most
// one update per interval.
package progress

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/numeric"
	"hedgeengine/pkg/types"
)

// Callback delivers one update. It may fail; a failure whose message
// contains "not modified" is treated as a no-op rather than an error.
type Callback func(ctx context.Context, update types.ProgressUpdate) error

// DefaultInterval is how often a non-replacement, no-fill-change update is
// allowed through when nothing more urgent has happened.
const DefaultInterval = 5 * time.Second

// Sink wraps a Callback with the throttle policy. Its throttle state is
// per Sink, not per operation: updates from every operation sent through
// the same Sink share it. It is safe for concurrent use.
type Sink struct {
	callback Callback
	interval time.Duration

	mu           sync.Mutex
	lastSentAt   time.Time
	lastSent     bool
	lastCumulative decimal.Decimal
}

// NewSink builds a Sink with the given delivery interval. A zero interval
// uses DefaultInterval.
func NewSink(callback Callback, interval time.Duration) *Sink {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sink{callback: callback, interval: interval}
}

// Send delivers update, subject to the throttle: it always goes through on
// a replacement event or when the cumulative filled quantity moved by more
// than FILL_TOLERANCE since the last delivered update; otherwise it is
// dropped unless at least the configured interval has elapsed since the
// last delivery.
func (s *Sink) Send(ctx context.Context, update types.ProgressUpdate) error {
	s.mu.Lock()
	now := time.Now()
	cumulativeMoved := !s.lastSent || update.CumulativeFilled.Sub(s.lastCumulative).Abs().GreaterThan(numeric.FillTolerance)
	dueByTime := !s.lastSent || now.Sub(s.lastSentAt) >= s.interval
	shouldSend := update.IsReplacement || cumulativeMoved || dueByTime
	if !shouldSend {
		s.mu.Unlock()
		return nil
	}
	s.lastSentAt = now
	s.lastSent = true
	s.lastCumulative = update.CumulativeFilled
	s.mu.Unlock()

	if s.callback == nil {
		return nil
	}
	if err := s.callback(ctx, update); err != nil {
		if strings.Contains(err.Error(), "not modified") {
			return nil
		}
		return err
	}
	return nil
}
