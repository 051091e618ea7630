// Package numeric implements the fixed-precision decimal helpers used
// throughout the hedging engine: step rounding, scale inspection, and the
// dust predicate. All quantities, prices and notional values in the engine
// are shopspring/decimal values; the exchange package sends them to the
// exchange as decimal strings, with no float64 conversion.
package numeric

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// FillTolerance is the "effectively zero" threshold used for fill/residual
// comparisons across the engine.
var FillTolerance = decimal.New(1, -8) // 1e-8

// RoundDownToStep floors x to the nearest multiple of step (floor division),
// preserving zero exactly. A non-positive step is degenerate: the input is
// returned as given (value and scale unchanged, not normalized) and a
// warning is logged.
func RoundDownToStep(x, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		slog.Warn("numeric: round_down_to_step called with non-positive step", "step", step.String())
		return x
	}
	if x.IsZero() {
		return x
	}
	precision := -step.Exponent() + 3
	if precision < 0 {
		precision = 0
	}
	quotient := x.DivRound(step, precision).Floor()
	return quotient.Mul(step)
}

// ScaleOf returns the number of decimal places implied by a step size, e.g.
// ScaleOf(0.001) == 3. A step with a non-negative exponent yields 0.
func ScaleOf(step decimal.Decimal) int32 {
	if step.Exponent() >= 0 {
		return 0
	}
	return -step.Exponent()
}

// IsDust reports whether qty is a non-tradeable residual: strictly below the
// instrument minimum but still meaningfully non-zero (i.e. not itself rounded
// noise within FillTolerance of zero).
func IsDust(qty, min decimal.Decimal) bool {
	return qty.LessThan(min) && qty.GreaterThan(FillTolerance)
}
