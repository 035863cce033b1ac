package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/GoPolymarket/polyvault/internal/queue"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ExitRequest describes a withdraw (by assets) or redeem (by shares).
// MaxLossBps, when set, bounds divergence from the unadjusted price.
type ExitRequest struct {
	Caller     common.Address
	Owner      common.Address
	Receiver   common.Address
	Amount     decimal.Decimal
	MaxLossBps *int64
}

// Withdraw escrows the shares worth req.Amount assets and enqueues a
// withdraw request. Funds move when the queue is processed.
func (v *Vault) Withdraw(ctx context.Context, req ExitRequest) (queue.Request, error) {
	var out queue.Request
	err := v.exec(ctx, "withdraw", func(ctx context.Context, now time.Time) error {
		if err := v.checkExit(req); err != nil {
			return err
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		total := v.totalAssetsAt(now)
		supply := v.shares.TotalSupply()
		assets := req.Amount
		if err := v.breaker.CheckWithdrawal(assets, total); err != nil {
			return err
		}
		shares := toShares(assets, total, supply, true)
		if req.MaxLossBps != nil {
			expected := toShares(assets, v.rawAssets(), supply, true)
			if limit := slippageLimit(expected, *req.MaxLossBps, true); shares.GreaterThan(limit) {
				return fmt.Errorf("burns %s shares, limit %s: %w", shares, limit, ErrSlippage)
			}
		}
		r, err := v.escrow(req, shares, assets, total, now)
		out = r
		return err
	})
	return out, err
}

// Redeem escrows req.Amount shares and enqueues their current asset value.
func (v *Vault) Redeem(ctx context.Context, req ExitRequest) (queue.Request, error) {
	var out queue.Request
	err := v.exec(ctx, "redeem", func(ctx context.Context, now time.Time) error {
		if err := v.checkExit(req); err != nil {
			return err
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		total := v.totalAssetsAt(now)
		supply := v.shares.TotalSupply()
		shares := req.Amount
		assets := toAssets(shares, total, supply, false)
		if assets.IsZero() {
			return fmt.Errorf("redeem of %s shares is worth nothing: %w", shares, ErrInvalidArgument)
		}
		if err := v.breaker.CheckWithdrawal(assets, total); err != nil {
			return err
		}
		if req.MaxLossBps != nil {
			expected := toAssets(shares, v.rawAssets(), supply, false)
			if limit := slippageLimit(expected, *req.MaxLossBps, false); assets.LessThan(limit) {
				return fmt.Errorf("returns %s assets, limit %s: %w", assets, limit, ErrSlippage)
			}
		}
		r, err := v.escrow(req, shares, assets, total, now)
		out = r
		return err
	})
	return out, err
}

func (v *Vault) checkExit(req ExitRequest) error {
	if err := v.requireActive(); err != nil {
		return err
	}
	if req.Amount.Sign() <= 0 || !units.IsWhole(req.Amount) {
		return fmt.Errorf("amount %s: %w", req.Amount, ErrInvalidArgument)
	}
	if req.Receiver == (common.Address{}) || req.Owner == (common.Address{}) {
		return fmt.Errorf("receiver/owner: %w", ErrZeroAddress)
	}
	if tol := req.MaxLossBps; tol != nil && (*tol < 0 || *tol > units.Bps) {
		return fmt.Errorf("max loss %d bps: %w", *tol, ErrInvalidArgument)
	}
	return nil
}

// escrow moves the owner's shares to the vault address and enqueues the
// request. Escrowed shares stay in supply until settlement burns them.
func (v *Vault) escrow(req ExitRequest, shares, assets, total decimal.Decimal, now time.Time) (queue.Request, error) {
	if err := v.shares.SpendAllowance(req.Owner, req.Caller, shares); err != nil {
		return queue.Request{}, err
	}
	if err := v.shares.Transfer(req.Owner, v.addr, shares); err != nil {
		return queue.Request{}, err
	}
	r := v.queue.Enqueue(req.Owner, req.Receiver, shares, assets, now)
	v.emit(model.EventWithdrawRequested, req.Caller, total, total, map[string]string{
		"index":    fmt.Sprint(r.Index),
		"owner":    req.Owner.Hex(),
		"receiver": req.Receiver.Hex(),
		"shares":   shares.String(),
		"assets":   assets.String(),
	})
	return r, nil
}

// ProcessWithdrawQueue settles up to maxCount queued requests. Anyone may
// call it and it keeps working while the vault is paused.
func (v *Vault) ProcessWithdrawQueue(ctx context.Context, caller common.Address, maxCount int) (queue.Result, error) {
	var res queue.Result
	err := v.exec(ctx, "process_queue", func(ctx context.Context, now time.Time) error {
		if err := v.prelude(now); err != nil {
			return err
		}
		r, err := v.queue.Process(ctx, now, v.st.maxDelay, maxCount, settler{v: v, actor: caller})
		res = r
		return err
	})
	return res, err
}

// autoProcess drains the queue after a harvest. A failure here is logged and
// does not undo the harvest; requests settled before it stay settled.
func (v *Vault) autoProcess(ctx context.Context, now time.Time, actor common.Address) {
	if v.queue.Pending() == 0 {
		return
	}
	res, err := v.queue.Process(ctx, now, v.st.maxDelay, v.queue.BatchSize(), settler{v: v, actor: actor})
	if err != nil {
		logger.Warn("auto queue processing stopped", "error", err, "settled", len(res.Settled))
	}
}

// settler pays queued requests from idle, pulling from the allocator when
// short.
type settler struct {
	v     *Vault
	actor common.Address
}

// Owed is the smaller of the requested assets and the current value of the
// escrowed shares.
func (s settler) Owed(req queue.Request) decimal.Decimal {
	value := toAssets(req.Shares, s.v.totalAssetsAt(s.v.now), s.v.shares.TotalSupply(), false)
	return units.Min(req.Assets, value)
}

func (s settler) Available() decimal.Decimal { return s.v.idle() }

func (s settler) Pull(ctx context.Context, shortfall decimal.Decimal) (decimal.Decimal, error) {
	got, err := s.v.alloc.Pull(ctx, shortfall)
	if err != nil {
		return got, fmt.Errorf("%w: %v", ErrStrategyFailure, err)
	}
	return got, nil
}

func (s settler) Settle(_ context.Context, req queue.Request, paid decimal.Decimal, forced bool) error {
	before := s.v.totalAssetsAt(s.v.now)
	if paid.Sign() > 0 {
		if err := s.v.asset.Transfer(s.v.addr, req.Receiver, paid); err != nil {
			return err
		}
	}
	if err := s.v.shares.Burn(s.v.addr, req.Shares); err != nil {
		return err
	}
	s.v.emit(model.EventWithdrawSettled, s.actor, before, s.v.totalAssetsAt(s.v.now), map[string]string{
		"index":     fmt.Sprint(req.Index),
		"receiver":  req.Receiver.Hex(),
		"shares":    req.Shares.String(),
		"requested": req.Assets.String(),
		"paid":      paid.String(),
		"forced":    fmt.Sprint(forced),
	})
	return nil
}

// EmergencyWithdraw pays caller the pro-rata value of all their shares
// immediately, bypassing the queue. Strategy pulls are best effort and any
// shortfall is forfeited to the remaining holders. It works while paused.
func (v *Vault) EmergencyWithdraw(ctx context.Context, caller common.Address) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := v.exec(ctx, "emergency_withdraw", func(ctx context.Context, now time.Time) error {
		if err := v.prelude(now); err != nil {
			return err
		}
		shares := v.shares.BalanceOf(caller)
		if shares.IsZero() {
			return fmt.Errorf("%s holds no shares: %w", caller.Hex(), ErrInvalidArgument)
		}
		total := v.totalAssetsAt(now)
		value := toAssets(shares, total, v.shares.TotalSupply(), false)
		if idle := v.idle(); idle.LessThan(value) {
			v.alloc.PullBestEffort(ctx, value.Sub(idle))
		}
		paid = units.Min(value, v.idle())
		if paid.Sign() > 0 {
			if err := v.asset.Transfer(v.addr, caller, paid); err != nil {
				return err
			}
		}
		if err := v.shares.Burn(caller, shares); err != nil {
			return err
		}
		v.emit(model.EventEmergencyWithdraw, caller, total, v.totalAssetsAt(now), map[string]string{
			"shares":    shares.String(),
			"value":     value.String(),
			"paid":      paid.String(),
			"forfeited": value.Sub(paid).String(),
		})
		return nil
	})
	return paid, err
}
