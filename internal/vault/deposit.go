package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Deposit pulls amount from caller, mints shares to receiver at the adjusted
// price and forwards idle capital to the allocator. A positive minShares
// bounds the minted amount.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, amount decimal.Decimal, receiver common.Address, minShares decimal.Decimal) (decimal.Decimal, error) {
	var minted decimal.Decimal
	err := v.exec(ctx, "deposit", func(ctx context.Context, now time.Time) error {
		if err := v.requireActive(); err != nil {
			return err
		}
		if amount.Sign() <= 0 {
			return fmt.Errorf("amount %s: %w", amount, ErrInvalidArgument)
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		total := v.totalAssetsAt(now)
		shares := toShares(amount, total, v.shares.TotalSupply(), false)
		if shares.IsZero() {
			return fmt.Errorf("deposit of %s mints zero shares: %w", amount, ErrInvalidArgument)
		}
		if minShares.Sign() > 0 && shares.LessThan(minShares) {
			return fmt.Errorf("minted %s < min %s: %w", shares, minShares, ErrSlippage)
		}
		if err := v.pay(ctx, caller, receiver, amount, shares, total); err != nil {
			return err
		}
		minted = shares
		return nil
	})
	return minted, err
}

// Mint issues exactly shares to receiver, charging the rounded-up asset
// cost. A positive maxAssets bounds the cost.
func (v *Vault) Mint(ctx context.Context, caller common.Address, shares decimal.Decimal, receiver common.Address, maxAssets decimal.Decimal) (decimal.Decimal, error) {
	var cost decimal.Decimal
	err := v.exec(ctx, "mint", func(ctx context.Context, now time.Time) error {
		if err := v.requireActive(); err != nil {
			return err
		}
		if shares.Sign() <= 0 {
			return fmt.Errorf("shares %s: %w", shares, ErrInvalidArgument)
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		total := v.totalAssetsAt(now)
		assets := toAssets(shares, total, v.shares.TotalSupply(), true)
		if assets.IsZero() {
			return fmt.Errorf("mint of %s costs nothing: %w", shares, ErrInvalidArgument)
		}
		if maxAssets.Sign() > 0 && assets.GreaterThan(maxAssets) {
			return fmt.Errorf("cost %s > max %s: %w", assets, maxAssets, ErrSlippage)
		}
		if err := v.pay(ctx, caller, receiver, assets, shares, total); err != nil {
			return err
		}
		cost = assets
		return nil
	})
	return cost, err
}

func (v *Vault) pay(ctx context.Context, caller, receiver common.Address, assets, shares, total decimal.Decimal) error {
	if receiver == (common.Address{}) {
		return fmt.Errorf("receiver: %w", ErrZeroAddress)
	}
	if limit := v.st.depositCap; limit.Sign() > 0 && total.Add(assets).GreaterThan(limit) {
		return fmt.Errorf("%s + %s > cap %s: %w", total, assets, limit, ErrDepositCap)
	}
	if err := v.asset.Transfer(caller, v.addr, assets); err != nil {
		return err
	}
	if err := v.shares.Mint(receiver, shares); err != nil {
		return err
	}
	if err := v.deploy(ctx); err != nil {
		return err
	}
	v.emit(model.EventDeposit, caller, total, total.Add(assets), map[string]string{
		"receiver": receiver.Hex(),
		"assets":   assets.String(),
		"shares":   shares.String(),
	})
	return nil
}
