// Package fee computes performance and management fee dilution in shares.
package fee

import (
	"errors"
	"fmt"

	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/shopspring/decimal"
)

const (
	MaxPerformanceBps = 3000
	MaxManagementBps  = 500
)

var ErrFeeTooHigh = errors.New("fee rate above ceiling")

type Engine struct {
	PerformanceBps int64 `json:"performance_bps"`
	ManagementBps  int64 `json:"management_bps"`
}

func New(performanceBps, managementBps int64) (Engine, error) {
	e := Engine{PerformanceBps: performanceBps, ManagementBps: managementBps}
	return e, e.Validate()
}

func (e Engine) Validate() error {
	if e.PerformanceBps < 0 || e.PerformanceBps > MaxPerformanceBps {
		return fmt.Errorf("performance fee %d bps (max %d): %w", e.PerformanceBps, MaxPerformanceBps, ErrFeeTooHigh)
	}
	if e.ManagementBps < 0 || e.ManagementBps > MaxManagementBps {
		return fmt.Errorf("management fee %d bps (max %d): %w", e.ManagementBps, MaxManagementBps, ErrFeeTooHigh)
	}
	return nil
}

// ManagementShares is supply * rate * elapsed / (10000 * secondsPerYear),
// rounded down.
func (e Engine) ManagementShares(supply decimal.Decimal, elapsedSeconds int64) decimal.Decimal {
	if e.ManagementBps == 0 || elapsedSeconds <= 0 || supply.Sign() <= 0 {
		return decimal.Zero
	}
	num := decimal.NewFromInt(e.ManagementBps).Mul(decimal.NewFromInt(elapsedSeconds))
	den := units.BpsDec.Mul(decimal.NewFromInt(units.SecondsPerYear))
	return units.MulDiv(supply, num, den)
}

// PerformanceFee returns the asset amount owed on a positive profit.
func (e Engine) PerformanceFee(profit decimal.Decimal) decimal.Decimal {
	if profit.Sign() <= 0 || e.PerformanceBps == 0 {
		return decimal.Zero
	}
	return units.ApplyBps(profit, e.PerformanceBps)
}

// PerformanceShares converts feeAssets into shares that dilute existing
// holders by exactly feeAssets: fee * supply / max(assetsAfter - fee, 1).
func PerformanceShares(feeAssets, supply, assetsAfter decimal.Decimal) decimal.Decimal {
	if feeAssets.Sign() <= 0 {
		return decimal.Zero
	}
	if supply.Sign() <= 0 {
		return feeAssets
	}
	den := units.Max(assetsAfter.Sub(feeAssets), units.One)
	return units.MulDiv(feeAssets, supply, den)
}
