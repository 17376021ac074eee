// Package money provides exact commission arithmetic in currency minor units.
//
// All amounts are int64 minor units (cents for USD). The commission rate is
// an exact rational parsed from a decimal string, so the split is fully
// deterministic: commission = round-half-even(gross * rate), sellerNet =
// gross - commission. The two always sum back to gross exactly.
package money

import (
	"errors"
	"math/big"
	"strings"
)

var (
	ErrInvalidGross = errors.New("gross amount must be positive")
	ErrInvalidRate  = errors.New("commission rate must be in [0, 1)")
)

// maxRateDigits bounds the fractional precision of a rate string.
// Anything finer than a hundredth of a basis point is a typo.
const maxRateDigits = 6

var one = big.NewRat(1, 1)

// ParseRate converts a decimal string (e.g. "0.08") into an exact rational.
// Rates must satisfy 0 <= rate < 1.
func ParseRate(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, ErrInvalidRate
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > maxRateDigits {
		return nil, ErrInvalidRate
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, ErrInvalidRate
	}
	if r.Sign() < 0 || r.Cmp(one) >= 0 {
		return nil, ErrInvalidRate
	}
	return r, nil
}

// FormatRate renders a rate back to its canonical decimal form.
func FormatRate(rate *big.Rat) string {
	return strings.TrimRight(strings.TrimRight(rate.FloatString(maxRateDigits), "0"), ".")
}

// Compute splits a gross amount into platform commission and seller net.
//
// commission is gross*rate rounded half-to-even; sellerNet is the exact
// remainder, never rounded independently, so commission+sellerNet == gross
// for every valid input.
func Compute(grossMinor int64, rate *big.Rat) (commissionMinor, sellerNetMinor int64, err error) {
	if grossMinor <= 0 {
		return 0, 0, ErrInvalidGross
	}
	if rate == nil || rate.Sign() < 0 || rate.Cmp(one) >= 0 {
		return 0, 0, ErrInvalidRate
	}

	product := new(big.Rat).Mul(new(big.Rat).SetInt64(grossMinor), rate)
	commission := roundHalfEven(product)

	return commission, grossMinor - commission, nil
}

// roundHalfEven rounds a non-negative rational to the nearest integer,
// breaking ties toward the even neighbor (banker's rounding).
func roundHalfEven(r *big.Rat) int64 {
	num := r.Num()
	den := r.Denom()

	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	doubled := rem.Lsh(rem, 1) // 2*remainder vs denominator decides direction

	switch doubled.Cmp(den) {
	case 1:
		quo.Add(quo, big.NewInt(1))
	case 0:
		if quo.Bit(0) == 1 {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return quo.Int64()
}
