package vault

import (
	"time"

	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Conversions price against adjusted assets. Rounding always favors the
// vault: shares out and assets out round down, shares in and assets in
// round up.

func toShares(assets, total, supply decimal.Decimal, up bool) decimal.Decimal {
	if supply.Sign() <= 0 {
		return assets
	}
	den := units.Max(total, units.One)
	if up {
		return units.MulDivUp(assets, supply, den)
	}
	return units.MulDiv(assets, supply, den)
}

func toAssets(shares, total, supply decimal.Decimal, up bool) decimal.Decimal {
	if supply.Sign() <= 0 {
		return shares
	}
	if up {
		return units.MulDivUp(shares, total, supply)
	}
	return units.MulDiv(shares, total, supply)
}

// TotalAssets is idle + strategy debt - locked profit, floored at zero.
func (v *Vault) TotalAssets() decimal.Decimal {
	return v.totalAssetsAt(v.viewTime())
}

func (v *Vault) TotalSupply() decimal.Decimal { return v.shares.TotalSupply() }

func (v *Vault) LockedProfit() decimal.Decimal {
	return v.st.lock.LockedAt(v.viewTime())
}

func (v *Vault) BalanceOf(account common.Address) decimal.Decimal {
	return v.shares.BalanceOf(account)
}

func (v *Vault) ConvertToShares(assets decimal.Decimal) decimal.Decimal {
	return toShares(assets, v.TotalAssets(), v.shares.TotalSupply(), false)
}

func (v *Vault) ConvertToAssets(shares decimal.Decimal) decimal.Decimal {
	return toAssets(shares, v.TotalAssets(), v.shares.TotalSupply(), false)
}

// Previews ignore fee accrual that has not been materialized yet.

func (v *Vault) PreviewDeposit(assets decimal.Decimal) decimal.Decimal {
	return v.ConvertToShares(assets)
}

func (v *Vault) PreviewMint(shares decimal.Decimal) decimal.Decimal {
	return toAssets(shares, v.TotalAssets(), v.shares.TotalSupply(), true)
}

func (v *Vault) PreviewWithdraw(assets decimal.Decimal) decimal.Decimal {
	return toShares(assets, v.TotalAssets(), v.shares.TotalSupply(), true)
}

func (v *Vault) PreviewRedeem(shares decimal.Decimal) decimal.Decimal {
	return v.ConvertToAssets(shares)
}

// MaxDeposit is the headroom under the deposit cap, zero while paused and
// -1 when the vault is uncapped.
func (v *Vault) MaxDeposit() decimal.Decimal {
	if v.st.paused {
		return decimal.Zero
	}
	if v.st.depositCap.IsZero() {
		return decimal.NewFromInt(-1)
	}
	return units.SubFloor(v.st.depositCap, v.TotalAssets())
}

// PricePerShare is the asset value of one whole share in base units.
func (v *Vault) PricePerShare() decimal.Decimal {
	return v.pricePerShareAt(v.viewTime())
}

func (v *Vault) pricePerShareAt(now time.Time) decimal.Decimal {
	one := units.FromWhole(1, v.decimals)
	return toAssets(one, v.totalAssetsAt(now), v.shares.TotalSupply(), false)
}

func (v *Vault) viewTime() time.Time {
	now := v.clock.Now()
	if v.entered && now.Before(v.now) {
		return v.now
	}
	return now
}

// slippageLimit returns expected*(10000+tol)/10000 rounded up when widen is
// set, otherwise expected*(10000-tol)/10000 rounded down.
func slippageLimit(expected decimal.Decimal, tolBps int64, widen bool) decimal.Decimal {
	if widen {
		return units.MulDivUp(expected, decimal.NewFromInt(units.Bps+tolBps), units.BpsDec)
	}
	return units.MulDiv(expected, decimal.NewFromInt(units.Bps-tolBps), units.BpsDec)
}
