package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func decOf(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestSideSign(t *testing.T) {
	tests := []struct {
		side Side
		want int
	}{
		{Buy, -1},
		{Sell, 1},
	}
	for _, tt := range tests {
		if got := tt.side.Sign(); got != tt.want {
			t.Errorf("Side(%s).Sign() = %d, want %d", tt.side, got, tt.want)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell {
		t.Errorf("Buy.Opposite() = %s, want Sell", Buy.Opposite())
	}
	if Sell.Opposite() != Buy {
		t.Errorf("Sell.Opposite() = %s, want Buy", Sell.Opposite())
	}
}

func TestParseStrategy(t *testing.T) {
	if _, err := ParseStrategy("bogus"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if s, err := ParseStrategy("Sequential"); err != nil || s != StrategySequential {
		t.Errorf("ParseStrategy(Sequential) = %v, %v", s, err)
	}
}

func TestParsePlacementStrategy(t *testing.T) {
	if _, err := ParsePlacementStrategy("bogus"); err == nil {
		t.Error("expected error for unknown placement strategy")
	}
	if s, err := ParsePlacementStrategy("OneTickInside"); err != nil || s != PlacementOneTickInside {
		t.Errorf("ParsePlacementStrategy(OneTickInside) = %v, %v", s, err)
	}
}

func TestOperationStatusIsTerminal(t *testing.T) {
	terminal := []OperationStatus{StatusCompleted, StatusCancelled, StatusFailed, StatusInterrupted}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
	if StatusRunning.IsTerminal() {
		t.Error("Running.IsTerminal() = true, want false")
	}
}

func TestOrderStatusTextIsFinal(t *testing.T) {
	final := []OrderStatusText{OrderFilled, OrderCancelled, OrderPartiallyFilledCancel, OrderRejected}
	for _, s := range final {
		if !s.IsFinal() {
			t.Errorf("%s.IsFinal() = false, want true", s)
		}
	}
	nonFinal := []OrderStatusText{OrderNew, OrderPartiallyFilled}
	for _, s := range nonFinal {
		if s.IsFinal() {
			t.Errorf("%s.IsFinal() = true, want false", s)
		}
	}
}

func TestChunkOrderUpdateFromDetails(t *testing.T) {
	co := NewChunkOrder("o1", "BTCUSDT", Buy, decOf(30000), decOf(1))
	co.UpdateFromDetails(DetailedOrderStatus{
		OrderID:    "o1",
		FilledQty:  decOf(0.5),
		StatusText: OrderPartiallyFilled,
	})
	if !co.FilledQty.Equal(decOf(0.5)) {
		t.Errorf("FilledQty = %s, want 0.5", co.FilledQty)
	}
	if co.Status != OrderPartiallyFilled {
		t.Errorf("Status = %s, want PartiallyFilled", co.Status)
	}
}
