package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

func dd(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSendAlwaysGoesThroughOnFirstCall(t *testing.T) {
	t.Parallel()
	var calls int
	sink := NewSink(func(ctx context.Context, u types.ProgressUpdate) error {
		calls++
		return nil
	}, time.Hour)

	if err := sink.Send(context.Background(), types.ProgressUpdate{CumulativeFilled: dd("0")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSendThrottlesUnchangedUpdatesWithinInterval(t *testing.T) {
	t.Parallel()
	var calls int
	sink := NewSink(func(ctx context.Context, u types.ProgressUpdate) error {
		calls++
		return nil
	}, time.Hour)

	ctx := context.Background()
	sink.Send(ctx, types.ProgressUpdate{CumulativeFilled: dd("1")})
	sink.Send(ctx, types.ProgressUpdate{CumulativeFilled: dd("1")})
	sink.Send(ctx, types.ProgressUpdate{CumulativeFilled: dd("1")})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (throttled, no fill change, interval not elapsed)", calls)
	}
}

func TestSendAlwaysGoesThroughOnReplacement(t *testing.T) {
	t.Parallel()
	var calls int
	sink := NewSink(func(ctx context.Context, u types.ProgressUpdate) error {
		calls++
		return nil
	}, time.Hour)

	ctx := context.Background()
	sink.Send(ctx, types.ProgressUpdate{CumulativeFilled: dd("1")})
	sink.Send(ctx, types.ProgressUpdate{CumulativeFilled: dd("1"), IsReplacement: true})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (replacement bypasses the throttle)", calls)
	}
}

func TestSendAlwaysGoesThroughOnCumulativeChange(t *testing.T) {
	t.Parallel()
	var calls int
	sink := NewSink(func(ctx context.Context, u types.ProgressUpdate) error {
		calls++
		return nil
	}, time.Hour)

	ctx := context.Background()
	sink.Send(ctx, types.ProgressUpdate{CumulativeFilled: dd("1")})
	sink.Send(ctx, types.ProgressUpdate{CumulativeFilled: dd("1.5")})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (cumulative moved past FILL_TOLERANCE)", calls)
	}
}

func TestSendRespectsIntervalGapOnWallClock(t *testing.T) {
	t.Parallel()
	var calls int
	sink := NewSink(func(ctx context.Context, u types.ProgressUpdate) error {
		calls++
		return nil
	}, 20*time.Millisecond)

	ctx := context.Background()
	sink.Send(ctx, types.ProgressUpdate{CumulativeFilled: dd("1")})
	time.Sleep(30 * time.Millisecond)
	sink.Send(ctx, types.ProgressUpdate{CumulativeFilled: dd("1")})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (interval elapsed since last delivery)", calls)
	}
}

func TestSendSwallowsNotModifiedErrors(t *testing.T) {
	t.Parallel()
	sink := NewSink(func(ctx context.Context, u types.ProgressUpdate) error {
		return errors.New("status not modified")
	}, time.Hour)

	if err := sink.Send(context.Background(), types.ProgressUpdate{}); err != nil {
		t.Fatalf("Send should swallow a not-modified error, got %v", err)
	}
}

func TestSendPropagatesOtherErrors(t *testing.T) {
	t.Parallel()
	sink := NewSink(func(ctx context.Context, u types.ProgressUpdate) error {
		return errors.New("connection reset")
	}, time.Hour)

	if err := sink.Send(context.Background(), types.ProgressUpdate{}); err == nil {
		t.Fatal("expected Send to propagate a non-throttle error")
	}
}
