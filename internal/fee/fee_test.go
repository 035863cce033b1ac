package fee

import (
	"testing"

	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineValidate(t *testing.T) {
	tests := []struct {
		name       string
		perf, mgmt int64
		wantErr    bool
	}{
		{"defaults", 200, 100, false},
		{"ceilings", MaxPerformanceBps, MaxManagementBps, false},
		{"perf too high", MaxPerformanceBps + 1, 0, true},
		{"mgmt too high", 0, MaxManagementBps + 1, true},
		{"negative", -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.perf, tt.mgmt)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFeeTooHigh)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestManagementSharesOneYear(t *testing.T) {
	e, err := New(0, 100)
	require.NoError(t, err)
	supply := units.FromWhole(1000, 18)
	got := e.ManagementShares(supply, units.SecondsPerYear)
	assert.True(t, got.Equal(units.FromWhole(10, 18)), got.String())

	assert.True(t, e.ManagementShares(supply, 0).IsZero())
	assert.True(t, e.ManagementShares(decimal.Zero, 100).IsZero())
}

func TestPerformanceSharesPreservePrice(t *testing.T) {
	e, err := New(2000, 0)
	require.NoError(t, err)

	supply := decimal.NewFromInt(1000)
	assetsAfter := decimal.NewFromInt(1100)
	feeAssets := e.PerformanceFee(decimal.NewFromInt(100))
	require.True(t, feeAssets.Equal(decimal.NewFromInt(20)))

	shares := PerformanceShares(feeAssets, supply, assetsAfter)
	// 20 * 1000 / 1080 = 18.5 -> 18
	assert.True(t, shares.Equal(decimal.NewFromInt(18)), shares.String())

	// Recipient value never exceeds the fee.
	value := units.MulDiv(shares, assetsAfter, supply.Add(shares))
	assert.True(t, value.LessThanOrEqual(feeAssets))
}

func TestPerformanceFeeIgnoresLoss(t *testing.T) {
	e := Engine{PerformanceBps: 2000}
	assert.True(t, e.PerformanceFee(decimal.NewFromInt(-5)).IsZero())
	assert.True(t, PerformanceShares(decimal.Zero, decimal.NewFromInt(10), decimal.NewFromInt(10)).IsZero())
	assert.True(t, PerformanceShares(decimal.NewFromInt(3), decimal.NewFromInt(10), decimal.NewFromInt(3)).Equal(decimal.NewFromInt(30)))
}
