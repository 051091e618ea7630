package numeric

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRoundDownToStep(t *testing.T) {
	tests := []struct {
		name string
		x    decimal.Decimal
		step decimal.Decimal
		want decimal.Decimal
	}{
		{"exact multiple", d("0.020"), d("0.001"), d("0.020")},
		{"floors down", d("0.02042"), d("0.001"), d("0.020")},
		{"zero input", d("0"), d("0.001"), d("0")},
		{"tiny step", d("1.23456789"), d("0.00000001"), d("1.23456789")},
		{"larger step", d("123.456"), d("10"), d("120")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundDownToStep(tt.x, tt.step)
			if !got.Equal(tt.want) {
				t.Errorf("RoundDownToStep(%s, %s) = %s, want %s", tt.x, tt.step, got, tt.want)
			}
		})
	}
}

func TestRoundDownToStepDegenerateZeroStep(t *testing.T) {
	x := d("1.5")
	got := RoundDownToStep(x, d("0"))
	if !got.Equal(x) {
		t.Errorf("RoundDownToStep with zero step = %s, want unchanged %s", got, x)
	}
}

func TestRoundDownToStepIdempotent(t *testing.T) {
	// floor_to_step(floor_to_step(x, s), s) = floor_to_step(x, s)
	x := d("0.0204222")
	step := d("0.001")
	once := RoundDownToStep(x, step)
	twice := RoundDownToStep(once, step)
	if !once.Equal(twice) {
		t.Errorf("round-trip not idempotent: once=%s twice=%s", once, twice)
	}
}

func TestScaleOf(t *testing.T) {
	tests := []struct {
		step decimal.Decimal
		want int32
	}{
		{d("0.001"), 3},
		{d("1"), 0},
		{d("0.00000001"), 8},
		{d("10"), 0},
	}
	for _, tt := range tests {
		if got := ScaleOf(tt.step); got != tt.want {
			t.Errorf("ScaleOf(%s) = %d, want %d", tt.step, got, tt.want)
		}
	}
}

func TestIsDust(t *testing.T) {
	min := d("0.001")
	if IsDust(d("0"), min) {
		t.Error("zero should not be dust (below fill tolerance)")
	}
	if !IsDust(d("0.0005"), min) {
		t.Error("0.0005 below min 0.001 should be dust")
	}
	if IsDust(d("0.002"), min) {
		t.Error("0.002 above min should not be dust")
	}
}
