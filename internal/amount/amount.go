// Package amount holds base-unit arithmetic shared by the settlement
// services. Products are computed with arbitrary-precision integers and
// floored back into uint64.
package amount

import (
	"errors"
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

var (
	ErrDivideByZero = errors.New("amount: divide by zero")
	ErrOverflow     = errors.New("amount: overflow")
)

// Int lifts a uint64 into an arbitrary-precision integer.
func Int(v uint64) math.Int {
	return math.NewIntFromUint64(v)
}

// ToUint64 narrows x back to uint64.
func ToUint64(x math.Int) (uint64, error) {
	if x.IsNegative() || !x.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, x.String())
	}
	return x.Uint64(), nil
}

// MulDiv returns floor(a * b / c).
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivideByZero
	}
	return ToUint64(Int(a).Mul(Int(b)).Quo(Int(c)))
}

// Pow10 returns 10^decimals.
func Pow10(decimals uint8) math.Int {
	return math.NewIntFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

// Value converts balance of an asset with the given decimals into reference
// units using a per-whole-unit price: floor(balance * price / 10^decimals).
func Value(balance, unitPrice uint64, decimals uint8) (uint64, error) {
	return ToUint64(Int(balance).Mul(Int(unitPrice)).Quo(Pow10(decimals)))
}

// Parse converts a human-readable amount such as "0.25" into base units for
// an asset with the given decimals, rounding down.
func Parse(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount: %q must not be negative", s)
	}
	units := d.Shift(int32(decimals)).Floor().BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return units.Uint64(), nil
}

// Format renders base units as a decimal string, e.g. 1500000000 with 9
// decimals is "1.5".
func Format(units uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals)).String()
}
