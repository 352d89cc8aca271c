package math

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrOverflow  = errors.New("math: overflow")
	ErrUnderflow = errors.New("math: underflow")
	ErrNegative  = errors.New("math: negative amount")
)

// MaxDecimals bounds the token precision the vault accepts.
const MaxDecimals = 36

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// Add returns a + b, or ErrOverflow if the sum leaves the int64 range.
func Add(a, b int64) (int64, error) {
	sum := a + b
	// Overflow iff both operands share a sign that the result lacks.
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubNonNegative returns a - b, or ErrUnderflow if the result would drop
// below zero. Token balances never go negative.
func SubNonNegative(a, b int64) (int64, error) {
	if b < 0 {
		return Add(a, -b)
	}
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// FromBig narrows an on-chain uint256 amount into the ledger's int64 units.
func FromBig(v *big.Int) (int64, error) {
	if v == nil {
		return 0, nil
	}
	if v.Sign() < 0 {
		return 0, ErrNegative
	}
	if !v.IsInt64() {
		return 0, ErrOverflow
	}
	return v.Int64(), nil
}

// ToBig widens a non-negative ledger amount for contract calls.
func ToBig(amount int64) (*big.Int, error) {
	if amount < 0 {
		return nil, ErrNegative
	}
	return new(big.Int).SetInt64(amount), nil
}

// FormatUnits renders a fixed-point amount with the given precision,
// e.g. FormatUnits(1_500_000, 6) == "1.5".
func FormatUnits(amount int64, decimals uint8) string {
	if decimals == 0 {
		return big.NewInt(amount).String()
	}

	v := getInt128()
	defer putInt128(v)
	v.SetInt64(amount)

	neg := v.Sign() < 0
	v.Abs(v)

	scale := getInt128()
	defer putInt128(scale)
	scale.Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	whole := getInt128()
	defer putInt128(whole)
	frac := getInt128()
	defer putInt128(frac)
	whole.QuoRem(v, scale, frac)

	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		digits = strings.Repeat("0", int(decimals)-len(digits)) + digits
		out += "." + strings.TrimRight(digits, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
