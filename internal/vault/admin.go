package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/fee"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/risk"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func (v *Vault) Pause(ctx context.Context, caller common.Address) error {
	return v.exec(ctx, "pause", func(_ context.Context, _ time.Time) error {
		if err := v.require(caller, RoleGuardian); err != nil {
			return err
		}
		v.setPaused(caller, true, "guardian")
		return nil
	})
}

func (v *Vault) Unpause(ctx context.Context, caller common.Address) error {
	return v.exec(ctx, "unpause", func(_ context.Context, _ time.Time) error {
		if err := v.require(caller, RoleGuardian); err != nil {
			return err
		}
		v.setPaused(caller, false, "guardian")
		return nil
	})
}

// EmergencyPause pauses and records a manual violation.
func (v *Vault) EmergencyPause(ctx context.Context, caller common.Address, reason string) error {
	return v.exec(ctx, "emergency_pause", func(_ context.Context, now time.Time) error {
		if err := v.require(caller, RoleGuardian); err != nil {
			return err
		}
		t := v.breaker.RecordViolation(now, risk.ReasonManual)
		t.Pause = true
		v.trip(now, t, nil, map[string]string{"note": reason})
		return nil
	})
}

// ResetBreaker clears the violation counter and optionally re-bases the
// high-water-mark at the current share price.
func (v *Vault) ResetBreaker(ctx context.Context, caller common.Address, resetHighWaterMark bool) error {
	return v.exec(ctx, "reset_breaker", func(_ context.Context, now time.Time) error {
		if err := v.require(caller, RoleGuardian); err != nil {
			return err
		}
		before := decimal.NewFromInt(int64(v.breaker.State().ViolationCount))
		v.breaker.Reset()
		if resetHighWaterMark {
			v.breaker.ResetHighWaterMark(now, v.pricePerShareAt(now))
		}
		v.emit(model.EventBreakerReset, caller, before, decimal.Zero, map[string]string{
			"high_water_mark": v.breaker.State().HighWaterMark.String(),
		})
		return nil
	})
}

func (v *Vault) SetBreakerConfig(ctx context.Context, caller common.Address, cfg risk.Config) error {
	return v.exec(ctx, "set_breaker_config", func(_ context.Context, _ time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		if err := v.breaker.SetConfig(cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		v.emitParam(caller, "breaker", "", fmt.Sprintf("%+v", cfg))
		return nil
	})
}

// SetFees accrues management fees at the old rate before switching.
func (v *Vault) SetFees(ctx context.Context, caller common.Address, performanceBps, managementBps int64) error {
	return v.exec(ctx, "set_fees", func(_ context.Context, now time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		next, err := fee.New(performanceBps, managementBps)
		if err != nil {
			return err
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		prev := v.st.fees
		v.st.fees = next
		v.emitParam(caller, "fees", fmt.Sprintf("%d/%d", prev.PerformanceBps, prev.ManagementBps), fmt.Sprintf("%d/%d", performanceBps, managementBps))
		return nil
	})
}

func (v *Vault) SetDepositCap(ctx context.Context, caller common.Address, limit decimal.Decimal) error {
	return v.exec(ctx, "set_deposit_cap", func(_ context.Context, _ time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		if limit.Sign() < 0 {
			return fmt.Errorf("deposit cap %s: %w", limit, ErrInvalidArgument)
		}
		prev := v.st.depositCap
		v.st.depositCap = limit
		v.emitParam(caller, "deposit_cap", prev.String(), limit.String())
		return nil
	})
}

// SetFeeRecipient accrues pending management fees to the old recipient.
func (v *Vault) SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	return v.exec(ctx, "set_fee_recipient", func(_ context.Context, now time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		if recipient == (common.Address{}) {
			return fmt.Errorf("fee recipient: %w", ErrZeroAddress)
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		prev := v.st.feeRecipient
		v.st.feeRecipient = recipient
		v.emitParam(caller, "fee_recipient", prev.Hex(), recipient.Hex())
		return nil
	})
}

// SetProfitUnlockWindow re-spreads the still-locked profit over the new
// window starting now.
func (v *Vault) SetProfitUnlockWindow(ctx context.Context, caller common.Address, window time.Duration) error {
	return v.exec(ctx, "set_unlock_window", func(_ context.Context, now time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		if window < 0 {
			return fmt.Errorf("unlock window %s: %w", window, ErrInvalidArgument)
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		prev := v.st.lock.Window
		v.st.lock.Lock(now, decimal.Zero)
		v.st.lock.Window = window
		v.emitParam(caller, "profit_unlock_window", prev.String(), window.String())
		return nil
	})
}

func (v *Vault) SetMaxWithdrawDelay(ctx context.Context, caller common.Address, delay time.Duration) error {
	return v.exec(ctx, "set_max_withdraw_delay", func(_ context.Context, _ time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		if delay < 0 {
			return fmt.Errorf("max delay %s: %w", delay, ErrInvalidArgument)
		}
		prev := v.st.maxDelay
		v.st.maxDelay = delay
		v.emitParam(caller, "max_withdraw_delay", prev.String(), delay.String())
		return nil
	})
}

// SetStrategy migrates the single-strategy variant to next and redeploys.
// The old strategy is harvested first so its unreported gains are locked
// and charged like any other profit.
func (v *Vault) SetStrategy(ctx context.Context, caller common.Address, next strategy.Strategy) error {
	return v.exec(ctx, "set_strategy", func(ctx context.Context, now time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		single, ok := v.alloc.(*manager.Single)
		if !ok {
			return fmt.Errorf("set strategy: %w", ErrUnsupported)
		}
		if next == nil || next.Address() == (common.Address{}) {
			return fmt.Errorf("strategy: %w", ErrZeroAddress)
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		prev := common.Address{}
		if cur := single.Strategy(); cur != nil {
			prev = cur.Address()
		}
		before := v.totalAssetsAt(now)
		if single.Strategy() != nil {
			base := v.lossBase(now)
			rep, err := single.Harvest(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStrategyFailure, err)
			}
			if _, err := v.book(now, rep, base); err != nil {
				return err
			}
		}
		base := v.lossBase(now)
		_, rep, err := single.Migrate(ctx, next)
		if errors.Is(err, manager.ErrIlliquid) {
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStrategyFailure, err)
		}
		if _, err := v.book(now, rep, base); err != nil {
			return err
		}
		if err := v.deploy(ctx); err != nil {
			return err
		}
		v.emit(model.EventStrategyChanged, caller, before, v.totalAssetsAt(now), map[string]string{
			"action": "migrate",
			"from":   prev.Hex(),
			"to":     next.Address().Hex(),
		})
		return nil
	})
}

func (v *Vault) AddStrategy(ctx context.Context, caller common.Address, s strategy.Strategy, targetBps int64, maxDebt decimal.Decimal) error {
	return v.withManager(ctx, caller, "add_strategy", func(ctx context.Context, m *manager.StrategyManager) (map[string]string, error) {
		if err := m.AddStrategy(s, targetBps, maxDebt); err != nil {
			return nil, err
		}
		return map[string]string{"action": "add", "strategy": s.Address().Hex(), "target_bps": fmt.Sprint(targetBps), "max_debt": maxDebt.String()}, nil
	})
}

// RemoveStrategy recalls the strategy's capital to idle before dropping it.
// A recall that differs from the recorded debt is booked like a harvest; a
// capped recall fails the whole call.
func (v *Vault) RemoveStrategy(ctx context.Context, caller, addr common.Address) error {
	return v.withManager(ctx, caller, "remove_strategy", func(ctx context.Context, m *manager.StrategyManager) (map[string]string, error) {
		base := v.lossBase(v.now)
		got, rep, err := m.RemoveStrategy(ctx, addr)
		if err != nil {
			return nil, err
		}
		res, err := v.book(v.now, rep, base)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"action":   "remove",
			"strategy": addr.Hex(),
			"recalled": got.String(),
			"profit":   res.Profit.String(),
			"loss":     res.Loss.String(),
		}, nil
	})
}

func (v *Vault) UpdateAllocation(ctx context.Context, caller, addr common.Address, targetBps int64, maxDebt decimal.Decimal) error {
	return v.withManager(ctx, caller, "update_allocation", func(ctx context.Context, m *manager.StrategyManager) (map[string]string, error) {
		if err := m.UpdateAllocation(addr, targetBps, maxDebt); err != nil {
			return nil, err
		}
		return map[string]string{"action": "update", "strategy": addr.Hex(), "target_bps": fmt.Sprint(targetBps), "max_debt": maxDebt.String()}, nil
	})
}

func (v *Vault) withManager(ctx context.Context, caller common.Address, op string, fn func(context.Context, *manager.StrategyManager) (map[string]string, error)) error {
	return v.exec(ctx, op, func(ctx context.Context, now time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		m, ok := v.alloc.(*manager.StrategyManager)
		if !ok {
			return ErrUnsupported
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		before := v.totalAssetsAt(now)
		data, err := fn(ctx, m)
		if err != nil {
			return err
		}
		v.emit(model.EventStrategyChanged, caller, before, v.totalAssetsAt(now), data)
		return nil
	})
}

func (v *Vault) GrantRole(ctx context.Context, caller common.Address, role Role, account common.Address) error {
	return v.exec(ctx, "grant_role", func(_ context.Context, _ time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		if _, err := ParseRole(string(role)); err != nil {
			return err
		}
		if account == (common.Address{}) {
			return fmt.Errorf("grant %s: %w", role, ErrZeroAddress)
		}
		if v.st.roles[role][account] {
			return nil
		}
		v.st.roles[role][account] = true
		v.emit(model.EventRoleChanged, caller, decimal.Zero, decimal.NewFromInt(1), map[string]string{"role": string(role), "account": account.Hex()})
		return nil
	})
}

// RevokeRole refuses to remove the last owner.
func (v *Vault) RevokeRole(ctx context.Context, caller common.Address, role Role, account common.Address) error {
	return v.exec(ctx, "revoke_role", func(_ context.Context, _ time.Time) error {
		if err := v.require(caller, RoleOwner); err != nil {
			return err
		}
		if _, err := ParseRole(string(role)); err != nil {
			return err
		}
		if !v.st.roles[role][account] {
			return nil
		}
		if role == RoleOwner && len(v.st.roles[RoleOwner]) == 1 {
			return fmt.Errorf("cannot revoke the last owner: %w", ErrInvalidArgument)
		}
		delete(v.st.roles[role], account)
		v.emit(model.EventRoleChanged, caller, decimal.NewFromInt(1), decimal.Zero, map[string]string{"role": string(role), "account": account.Hex()})
		return nil
	})
}

// ApproveShares lets spender withdraw or redeem owner's shares.
func (v *Vault) ApproveShares(ctx context.Context, owner, spender common.Address, amount decimal.Decimal) error {
	return v.exec(ctx, "approve", func(_ context.Context, _ time.Time) error {
		before := v.shares.Allowance(owner, spender)
		if err := v.shares.Approve(owner, spender, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		v.emit(model.EventApproval, owner, before, amount, map[string]string{"spender": spender.Hex()})
		return nil
	})
}

func (v *Vault) emitParam(caller common.Address, name, from, to string) {
	v.emit(model.EventParamsUpdated, caller, decimal.Zero, decimal.Zero, map[string]string{
		"param": name,
		"from":  from,
		"to":    to,
	})
}
