package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// exec runs fn as one atomic vault transition. The re-entrancy latch rejects
// nested calls; on error every collaborator is rolled back to its checkpoint
// and buffered events are dropped.
func (v *Vault) exec(ctx context.Context, op string, fn func(ctx context.Context, now time.Time) error) error {
	if v.entered {
		return fmt.Errorf("%s: %w", op, ErrReentrant)
	}
	v.entered = true
	defer func() { v.entered = false }()

	now := v.clock.Now()
	if now.Before(v.st.lastAccrual) {
		now = v.st.lastAccrual
	}
	v.now = now
	restore := v.checkpoint()
	v.pending = nil

	if err := fn(strategy.WithCaller(ctx, v.addr), now); err != nil {
		restore()
		v.pending = nil
		return fmt.Errorf("%s: %w", op, err)
	}

	events := v.pending
	v.pending = nil
	for _, e := range events {
		for _, fn := range v.listeners {
			fn(e)
		}
	}
	return nil
}

func (v *Vault) checkpoint() func() {
	saved := v.st
	saved.roles = cloneRoles(v.st.roles)
	breakerState := v.breaker.State()
	breakerCfg := v.breaker.Config()

	restores := []func(){
		v.shares.Checkpoint(),
		v.queue.Checkpoint(),
		v.alloc.Checkpoint(),
	}
	if cp, ok := v.asset.(ledger.Checkpointer); ok {
		restores = append(restores, cp.Checkpoint())
	}
	return func() {
		v.st = saved
		v.breaker.Restore(breakerState)
		_ = v.breaker.SetConfig(breakerCfg)
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}
}

func (v *Vault) emit(typ model.EventType, actor common.Address, before, after decimal.Decimal, data map[string]string) {
	v.st.seq++
	v.pending = append(v.pending, model.Event{
		ID:        uuid.NewString(),
		Seq:       v.st.seq,
		Source:    model.SourceVault,
		Type:      typ,
		Actor:     actor.Hex(),
		Before:    before,
		After:     after,
		Data:      data,
		CreatedAt: v.now,
	})
}

// prelude brings pricing up to date: profit unlock first, then management
// fee accrual.
func (v *Vault) prelude(now time.Time) error {
	before := v.st.lock.Remaining
	if released := v.st.lock.Unlock(now); released.Sign() > 0 {
		v.emit(model.EventProfitUnlocked, v.addr, before, v.st.lock.Remaining, map[string]string{
			"released": released.String(),
		})
	}
	return v.accrueManagement(now)
}

// accrueManagement mints time-based fee shares. The accrual timestamp always
// advances so elapsed time is never counted twice.
func (v *Vault) accrueManagement(now time.Time) error {
	elapsed := int64(now.Sub(v.st.lastAccrual) / time.Second)
	if elapsed <= 0 {
		return nil
	}
	minted := v.st.fees.ManagementShares(v.shares.TotalSupply(), elapsed)
	v.st.lastAccrual = v.st.lastAccrual.Add(time.Duration(elapsed) * time.Second)
	if minted.IsZero() {
		return nil
	}
	return v.mintFee(minted, "management", decimal.Zero)
}

func (v *Vault) mintFee(shares decimal.Decimal, kind string, assets decimal.Decimal) error {
	before := v.shares.BalanceOf(v.st.feeRecipient)
	if err := v.shares.Mint(v.st.feeRecipient, shares); err != nil {
		return err
	}
	v.emit(model.EventFeeMinted, v.st.feeRecipient, before, before.Add(shares), map[string]string{
		"kind":   kind,
		"shares": shares.String(),
		"assets": assets.String(),
	})
	return nil
}

// deploy forwards idle balance to the allocator.
func (v *Vault) deploy(ctx context.Context) error {
	idle := v.idle()
	if idle.Sign() <= 0 {
		return nil
	}
	if _, err := v.alloc.Deploy(ctx, idle); err != nil {
		return fmt.Errorf("%w: %v", ErrStrategyFailure, err)
	}
	return nil
}

func (v *Vault) idle() decimal.Decimal {
	return v.asset.BalanceOf(v.addr)
}

// bookAssets is idle plus recorded strategy debt, including locked profit.
func (v *Vault) bookAssets() decimal.Decimal {
	return v.idle().Add(v.alloc.TotalDebt())
}

// rawAssets marks strategies down to their live balance when it has fallen
// below debt. Unreported gains count only once harvested.
func (v *Vault) rawAssets() decimal.Decimal {
	return units.SubFloor(v.bookAssets(), v.alloc.UnrealizedLoss())
}

// totalAssetsAt lets locked profit absorb an unreported loss first, the same
// way the next harvest will book it.
func (v *Vault) totalAssetsAt(now time.Time) decimal.Decimal {
	hidden := decimal.Max(v.st.lock.LockedAt(now), v.alloc.UnrealizedLoss())
	return units.SubFloor(v.bookAssets(), hidden)
}

// lossBase is the pre-loss value a harvest loss is measured against.
func (v *Vault) lossBase(now time.Time) decimal.Decimal {
	return units.SubFloor(v.bookAssets(), v.st.lock.LockedAt(now))
}
