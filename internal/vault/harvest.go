package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/fee"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/GoPolymarket/polyvault/internal/risk"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type HarvestResult struct {
	Profit      decimal.Decimal  `json:"profit"`
	Loss        decimal.Decimal  `json:"loss"`
	FeeAssets   decimal.Decimal  `json:"fee_assets"`
	FeeShares   decimal.Decimal  `json:"fee_shares"`
	Locked      decimal.Decimal  `json:"locked"`
	Absorbed    decimal.Decimal  `json:"absorbed"`
	Failed      []common.Address `json:"failed,omitempty"`
	Trips       []risk.Trip      `json:"trips,omitempty"`
	PausedAfter bool             `json:"paused_after"`
}

// Harvest books strategy profit and loss. Net profit pays the performance
// fee and the rest is locked for gradual release; net loss is absorbed by
// locked profit first and checked against the breaker. The queue is
// processed at the end.
func (v *Vault) Harvest(ctx context.Context, caller common.Address) (HarvestResult, error) {
	var res HarvestResult
	err := v.exec(ctx, "harvest", func(ctx context.Context, now time.Time) error {
		if err := v.require(caller, RoleKeeper, RoleOwner); err != nil {
			return err
		}
		if err := v.requireActive(); err != nil {
			return err
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		before := v.totalAssetsAt(now)
		base := v.lossBase(now)

		rep, err := v.alloc.Harvest(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStrategyFailure, err)
		}
		if res, err = v.book(now, rep, base); err != nil {
			return err
		}
		v.emit(model.EventHarvest, caller, before, v.totalAssetsAt(now), map[string]string{
			"profit":     res.Profit.String(),
			"loss":       res.Loss.String(),
			"fee_shares": res.FeeShares.String(),
			"locked":     res.Locked.String(),
			"failed":     fmt.Sprint(len(res.Failed)),
		})
		logger.Info("harvest",
			"profit", res.Profit.String(),
			"loss", res.Loss.String(),
			"fee_shares", res.FeeShares.String(),
			"paused", v.st.paused,
		)

		v.autoProcess(ctx, now, caller)
		res.PausedAfter = v.st.paused
		return nil
	})
	return res, err
}

// book applies one allocator report: net profit pays the performance fee and
// is locked, net loss is absorbed and checked against base, and the drawdown
// mark moves.
func (v *Vault) book(now time.Time, rep manager.Report, base decimal.Decimal) (HarvestResult, error) {
	res := HarvestResult{
		FeeAssets: decimal.Zero,
		FeeShares: decimal.Zero,
		Locked:    decimal.Zero,
		Absorbed:  decimal.Zero,
		Failed:    rep.Failed,
	}
	net := rep.Net()
	res.Profit = decimal.Max(net, decimal.Zero)
	res.Loss = decimal.Max(net.Neg(), decimal.Zero)

	for _, addr := range rep.Failed {
		v.trip(now, v.breaker.RecordViolation(now, risk.ReasonStrategy), &res, map[string]string{"strategy": addr.Hex()})
	}
	switch net.Sign() {
	case 1:
		if err := v.bookProfit(now, net, &res); err != nil {
			return res, err
		}
	case -1:
		res.Absorbed = v.st.lock.Absorb(now, res.Loss)
		v.trip(now, v.breaker.CheckLoss(now, res.Loss, base), &res, map[string]string{"loss": res.Loss.String()})
	}
	v.trip(now, v.breaker.CheckDrawdown(now, v.pricePerShareAt(now)), &res, nil)
	return res, nil
}

// bookProfit mints performance fee shares against assets before the new
// profit is locked, then locks what remains.
func (v *Vault) bookProfit(now time.Time, profit decimal.Decimal, res *HarvestResult) error {
	v.breaker.RecordProfit(profit)
	feeAssets := v.st.fees.PerformanceFee(profit)
	if feeAssets.Sign() > 0 {
		shares := fee.PerformanceShares(feeAssets, v.shares.TotalSupply(), v.totalAssetsAt(now))
		if shares.Sign() > 0 {
			if err := v.mintFee(shares, "performance", feeAssets); err != nil {
				return err
			}
		}
		res.FeeAssets, res.FeeShares = feeAssets, shares
	}
	res.Locked = profit.Sub(feeAssets)
	v.st.lock.Lock(now, res.Locked)
	return nil
}

// trip records a breaker verdict and pauses when it asks to.
func (v *Vault) trip(now time.Time, t *risk.Trip, res *HarvestResult, data map[string]string) {
	if t == nil {
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["reason"] = string(t.Reason)
	data["count"] = fmt.Sprint(t.Count)
	v.emit(model.EventViolation, v.addr, decimal.NewFromInt(int64(t.Count-1)), decimal.NewFromInt(int64(t.Count)), data)
	logger.Warn("circuit breaker violation", "reason", t.Reason, "count", t.Count, "pause", t.Pause)
	if res != nil {
		res.Trips = append(res.Trips, *t)
	}
	if t.Pause {
		v.setPaused(v.addr, true, string(t.Reason))
	}
}

func (v *Vault) setPaused(actor common.Address, paused bool, reason string) {
	if v.st.paused == paused {
		return
	}
	v.st.paused = paused
	typ, before, after := model.EventUnpaused, decimal.NewFromInt(1), decimal.Zero
	if paused {
		typ, before, after = model.EventPaused, decimal.Zero, decimal.NewFromInt(1)
	}
	v.emit(typ, actor, before, after, map[string]string{"reason": reason})
}

// Rebalance moves capital towards target weights in the multi-strategy
// variant.
func (v *Vault) Rebalance(ctx context.Context, caller common.Address) (manager.RebalanceResult, error) {
	var res manager.RebalanceResult
	err := v.exec(ctx, "rebalance", func(ctx context.Context, now time.Time) error {
		if err := v.require(caller, RoleKeeper, RoleOwner); err != nil {
			return err
		}
		if err := v.requireActive(); err != nil {
			return err
		}
		m, ok := v.alloc.(*manager.StrategyManager)
		if !ok {
			return fmt.Errorf("rebalance: %w", ErrUnsupported)
		}
		if err := v.prelude(now); err != nil {
			return err
		}
		r, err := m.Rebalance(ctx, now, v.idle())
		if err != nil {
			return err
		}
		res = r
		v.emit(model.EventRebalanced, caller, r.Pulled, r.Pushed, nil)
		return nil
	})
	return res, err
}
