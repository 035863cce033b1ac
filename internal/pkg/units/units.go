// Package units holds the integer base-unit arithmetic shared by the vault
// packages. Amounts are decimal.Decimal values that always carry whole base
// units (no fractional part); every division rounds explicitly.
package units

import (
	"github.com/shopspring/decimal"
)

// Bps is 100% expressed in basis points.
const Bps = 10000

// SecondsPerYear is the annualization base for management fees.
const SecondsPerYear = 365 * 24 * 60 * 60

var (
	Zero   = decimal.Zero
	One    = decimal.NewFromInt(1)
	BpsDec = decimal.NewFromInt(Bps)
)

// FromWhole converts whole tokens into base units, e.g. FromWhole(100, 18).
func FromWhole(n int64, decimals int32) decimal.Decimal {
	return decimal.New(n, decimals)
}

// MulDiv returns floor(a*b/c). c must be positive.
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q
}

// MulDivUp returns ceil(a*b/c). c must be positive.
func MulDivUp(a, b, c decimal.Decimal) decimal.Decimal {
	q, r := a.Mul(b).QuoRem(c, 0)
	if r.Sign() > 0 {
		q = q.Add(One)
	}
	return q
}

// ApplyBps returns floor(amount*bps/10000).
func ApplyBps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return MulDiv(amount, decimal.NewFromInt(bps), BpsDec)
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// SubFloor returns max(a-b, 0).
func SubFloor(a, b decimal.Decimal) decimal.Decimal {
	d := a.Sub(b)
	if d.Sign() < 0 {
		return Zero
	}
	return d
}

// IsWhole reports whether d carries no fractional base units.
func IsWhole(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}
