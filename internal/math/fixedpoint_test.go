package math_test

import (
	"errors"
	stdmath "math"
	"math/big"
	"testing"

	fpmath "NeuroVault/internal/math"
)

func TestAdd(t *testing.T) {
	if got, err := fpmath.Add(1_000_000, 2_500_000); err != nil || got != 3_500_000 {
		t.Errorf("got (%d, %v), want 3500000", got, err)
	}
	if _, err := fpmath.Add(stdmath.MaxInt64, 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("max+1: got %v, want ErrOverflow", err)
	}
	if _, err := fpmath.Add(stdmath.MinInt64, -1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("min-1: got %v, want ErrOverflow", err)
	}
	if got, err := fpmath.Add(stdmath.MaxInt64, -1); err != nil || got != stdmath.MaxInt64-1 {
		t.Errorf("mixed signs: got (%d, %v)", got, err)
	}
}

func TestSubNonNegative(t *testing.T) {
	if got, err := fpmath.SubNonNegative(5, 5); err != nil || got != 0 {
		t.Errorf("got (%d, %v), want 0", got, err)
	}
	if _, err := fpmath.SubNonNegative(5, 6); !errors.Is(err, fpmath.ErrUnderflow) {
		t.Errorf("got %v, want ErrUnderflow", err)
	}
}

func TestFromBig(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	if _, err := fpmath.FromBig(huge); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("2^70: got %v, want ErrOverflow", err)
	}
	if _, err := fpmath.FromBig(big.NewInt(-1)); !errors.Is(err, fpmath.ErrNegative) {
		t.Errorf("-1: got %v, want ErrNegative", err)
	}
	if got, err := fpmath.FromBig(big.NewInt(42)); err != nil || got != 42 {
		t.Errorf("42: got (%d, %v)", got, err)
	}
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		amount   int64
		decimals uint8
		want     string
	}{
		{1_500_000, 6, "1.5"},
		{1_000_000, 6, "1"},
		{1, 7, "0.0000001"},
		{-25, 1, "-2.5"},
		{12, 0, "12"},
	}
	for _, tt := range tests {
		if got := fpmath.FormatUnits(tt.amount, tt.decimals); got != tt.want {
			t.Errorf("FormatUnits(%d, %d) = %q, want %q", tt.amount, tt.decimals, got, tt.want)
		}
	}
}
