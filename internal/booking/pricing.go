package booking

import (
	"github.com/shopspring/decimal"
)

var nanosPerHour = decimal.NewFromInt(3_600_000_000_000)

// ComputePrice returns hourly * hours(iv), rounded to cents at the very end.
func ComputePrice(hourly decimal.Decimal, iv Interval) decimal.Decimal {
	nanos := decimal.NewFromInt(iv.Duration().Nanoseconds())
	return hourly.Mul(nanos).Div(nanosPerHour).Round(2)
}

// ResolvePrice returns the price to store. The room rate is authoritative: a
// caller-supplied price is used only when allowOverride is set and it is nonzero.
func ResolvePrice(explicit *decimal.Decimal, hourly decimal.Decimal, iv Interval, allowOverride bool) (decimal.Decimal, error) {
	if !allowOverride || explicit == nil || explicit.IsZero() {
		return ComputePrice(hourly, iv), nil
	}
	if explicit.IsNegative() {
		return decimal.Zero, ErrInvalidPrice
	}
	return explicit.Round(2), nil
}

// IgnoresExplicitPrice reports whether ResolvePrice would discard explicit.
func IgnoresExplicitPrice(explicit *decimal.Decimal, allowOverride bool) bool {
	return !allowOverride && explicit != nil && !explicit.IsZero()
}
