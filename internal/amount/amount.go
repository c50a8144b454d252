// Package amount implements the integer fixed-point arithmetic used for token
// balances, stakes and prices.
//
// Values are shopspring/decimal numbers restricted to whole units of the
// smallest denomination (stroops). Amounts are bounded to the signed 128-bit
// range and prices to the unsigned 128-bit range; every operation that would
// leave that range fails with ErrOverflow instead of wrapping. Intermediate
// products are computed at arbitrary precision, so a*b/c never overflows
// before the division.
package amount

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a result leaves the representable range.
	ErrOverflow = errors.New("amount: arithmetic overflow")

	// ErrNotWhole is returned when an operand carries a fractional part.
	ErrNotWhole = errors.New("amount: value is not a whole number of units")

	// ErrDivideByZero is returned by MulDivFloor for a zero divisor.
	ErrDivideByZero = errors.New("amount: division by zero")

	// MaxI128 is the largest signed 128-bit value (2^127 - 1).
	MaxI128 = decimal.RequireFromString("170141183460469231731687303715884105727")

	// MinI128 is the smallest signed 128-bit value (-2^127).
	MinI128 = decimal.RequireFromString("-170141183460469231731687303715884105728")

	// MaxU128 is the largest unsigned 128-bit value (2^128 - 1).
	MaxU128 = decimal.RequireFromString("340282366920938463463374607431768211455")
)

// Scaled returns units × 10^decimals, e.g. Scaled(1000, 7) = 1000_0000000.
func Scaled(units int64, decimals int32) decimal.Decimal {
	return decimal.New(units, decimals)
}

// IsWhole reports whether d has no fractional part. Unbounded values report
// false.
func IsWhole(d decimal.Decimal) bool {
	return Bounded(d) && d.IsInteger()
}

// Limits on the decimal representation of an operand. Comparing or adding
// decimals rescales them to a common exponent, which costs time proportional
// to the exponent gap, so untrusted input is rejected on shape first. No whole
// number in the 128-bit ranges needs a coefficient above 10^79 or an exponent
// outside ±80.
const (
	maxCoefficientBits = 264
	maxExponent        = 80
)

// Bounded reports whether d is small enough in coefficient and exponent to be
// compared and combined in constant time. Values outside these limits are
// never within the 128-bit ranges in canonical form.
func Bounded(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > maxExponent || exp < -maxExponent {
		return false
	}
	return d.Coefficient().BitLen() <= maxCoefficientBits
}

// InI128 reports whether d is a whole number within the signed 128-bit range.
func InI128(d decimal.Decimal) bool {
	return Bounded(d) && d.IsInteger() && !d.LessThan(MinI128) && !d.GreaterThan(MaxI128)
}

// InU128 reports whether d is a whole number within the unsigned 128-bit range.
func InU128(d decimal.Decimal) bool {
	return Bounded(d) && d.IsInteger() && !d.IsNegative() && !d.GreaterThan(MaxU128)
}

// CheckedAdd returns a + b, or ErrOverflow if the sum leaves the i128 range.
func CheckedAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	if !a.IsInteger() || !b.IsInteger() {
		return decimal.Zero, ErrNotWhole
	}
	sum := a.Add(b)
	if !InI128(sum) {
		return decimal.Zero, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b, or ErrOverflow if the difference leaves the i128 range.
func CheckedSub(a, b decimal.Decimal) (decimal.Decimal, error) {
	if !a.IsInteger() || !b.IsInteger() {
		return decimal.Zero, ErrNotWhole
	}
	diff := a.Sub(b)
	if !InI128(diff) {
		return decimal.Zero, ErrOverflow
	}
	return diff, nil
}

// MulDivFloor computes floor(a * b / c) for non-negative a, b and positive c.
//
// The product is formed at full precision; only the final quotient is checked
// against the i128 range. The remainder (the fractional share) is discarded.
func MulDivFloor(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	if !a.IsInteger() || !b.IsInteger() || !c.IsInteger() {
		return decimal.Zero, ErrNotWhole
	}
	if c.IsZero() {
		return decimal.Zero, ErrDivideByZero
	}
	if a.IsNegative() || b.IsNegative() || c.IsNegative() {
		return decimal.Zero, ErrOverflow
	}

	// With non-negative operands truncation toward zero is the floor.
	q, _ := a.Mul(b).QuoRem(c, 0)
	if !InI128(q) {
		return decimal.Zero, ErrOverflow
	}
	return q, nil
}

// Sum adds all values with CheckedAdd.
func Sum(values ...decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range values {
		var err error
		if total, err = CheckedAdd(total, v); err != nil {
			return decimal.Zero, err
		}
	}
	return total, nil
}
