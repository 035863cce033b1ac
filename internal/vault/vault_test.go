package vault

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/polyvault/internal/fee"
	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/clock"
	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/GoPolymarket/polyvault/internal/risk"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dec = 18

var (
	t0        = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vaultAddr = common.HexToAddress("0x000000000000000000000000000000000000fa17")
	stratAddr = common.HexToAddress("0x0000000000000000000000000000000000005701")
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	feeTo     = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func w(n int64) decimal.Decimal { return units.FromWhole(n, dec) }

type fixture struct {
	clk    *clock.Manual
	asset  *ledger.Token
	strat  *strategy.Simulated
	v      *Vault
	events []model.Event
}

func newFixture(t *testing.T, mutate func(*Params)) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	asset := ledger.NewToken("USDC", dec)
	strat := strategy.NewSimulated("sim", stratAddr, vaultAddr, asset)

	p := DefaultParams()
	p.FeeRecipient = feeTo
	p.PerformanceFeeBps = 0
	p.ManagementFeeBps = 0
	p.Breaker = risk.Config{}
	if mutate != nil {
		mutate(&p)
	}
	v, err := New(Options{
		Address:   vaultAddr,
		Owner:     owner,
		Asset:     asset,
		Decimals:  dec,
		Clock:     clk,
		Allocator: manager.NewSingle(asset, vaultAddr, strat),
		Params:    p,
	})
	require.NoError(t, err)

	f := &fixture{clk: clk, asset: asset, strat: strat, v: v}
	v.Subscribe(func(e model.Event) { f.events = append(f.events, e) })
	for _, u := range []common.Address{alice, bob, carol} {
		require.NoError(t, asset.Mint(u, w(1000)))
	}
	return f
}

func (f *fixture) deposit(t *testing.T, who common.Address, n int64) decimal.Decimal {
	t.Helper()
	shares, err := f.v.Deposit(context.Background(), who, w(n), who, decimal.Zero)
	require.NoError(t, err)
	return shares
}

func (f *fixture) redeemAll(t *testing.T, who common.Address) {
	t.Helper()
	_, err := f.v.Redeem(context.Background(), ExitRequest{
		Caller: who, Owner: who, Receiver: who, Amount: f.v.BalanceOf(who),
	})
	require.NoError(t, err)
}

func (f *fixture) harvest(t *testing.T) HarvestResult {
	t.Helper()
	res, err := f.v.Harvest(context.Background(), owner)
	require.NoError(t, err)
	return res
}

func assertApprox(t *testing.T, want, got, tol decimal.Decimal) {
	t.Helper()
	assert.True(t, want.Sub(got).Abs().LessThanOrEqual(tol), "want %s got %s (tol %s)", want, got, tol)
}

func TestScenarioFeesAndFullExit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Params) {
		p.PerformanceFeeBps = 200
		p.ManagementFeeBps = 100
	})

	f.deposit(t, alice, 100)
	f.deposit(t, bob, 200)
	f.deposit(t, carol, 50)
	require.True(t, f.v.TotalAssets().Equal(w(350)))

	require.NoError(t, f.strat.SimulateGain(w(70)))
	f.clk.Advance(time.Hour)
	f.harvest(t)
	firstFee := f.v.BalanceOf(feeTo)
	assert.True(t, firstFee.Sign() > 0)

	require.NoError(t, f.strat.SimulateGain(w(35)))
	f.clk.Advance(time.Hour)
	f.harvest(t)
	assert.True(t, f.v.BalanceOf(feeTo).GreaterThan(firstFee))

	f.clk.Advance(7 * time.Hour)
	for _, u := range []common.Address{alice, bob, carol, feeTo} {
		f.redeemAll(t, u)
	}
	_, err := f.v.ProcessWithdrawQueue(ctx, alice, 0)
	require.NoError(t, err)

	assert.Zero(t, f.v.PendingCount())
	assert.True(t, f.v.TotalSupply().IsZero())
	tol := units.FromWhole(1, 9) // 1e-9 of a token
	assertApprox(t, decimal.Zero, f.v.TotalAssets(), tol)

	userOut := decimal.Zero
	for _, u := range []common.Address{alice, bob, carol} {
		userOut = userOut.Add(f.asset.BalanceOf(u))
	}
	userOut = userOut.Sub(w(3000 - 350))
	feeOut := f.asset.BalanceOf(feeTo)
	assert.True(t, feeOut.Sign() > 0)
	assert.True(t, userOut.LessThan(w(455)))
	assertApprox(t, w(455), userOut.Add(feeOut), tol)
}

func TestScenarioSingleWithdrawalCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Params) { p.Breaker.MaxSingleWithdrawalBps = 500 })
	f.deposit(t, alice, 200)

	_, err := f.v.Withdraw(ctx, ExitRequest{Caller: alice, Owner: alice, Receiver: alice, Amount: w(15)})
	assert.ErrorIs(t, err, risk.ErrWithdrawalTooLarge)
	assert.Zero(t, f.v.PendingCount())
	assert.True(t, f.v.BalanceOf(alice).Equal(w(200)))

	req, err := f.v.Withdraw(ctx, ExitRequest{Caller: alice, Owner: alice, Receiver: alice, Amount: w(8)})
	require.NoError(t, err)
	assert.Equal(t, 1, f.v.PendingCount())
	assert.True(t, req.Shares.Equal(w(8)))
	assert.True(t, f.v.BalanceOf(vaultAddr).Equal(w(8)))
	assert.True(t, f.v.BalanceOf(alice).Equal(w(192)))
}

func TestQueueFIFOUnderLiquidityShortage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)
	f.deposit(t, bob, 100)
	f.strat.SetLiquidityCap(w(20))

	_, err := f.v.Redeem(ctx, ExitRequest{Caller: alice, Owner: alice, Receiver: alice, Amount: w(50)})
	require.NoError(t, err)
	_, err = f.v.Redeem(ctx, ExitRequest{Caller: bob, Owner: bob, Receiver: bob, Amount: w(10)})
	require.NoError(t, err)

	res, err := f.v.ProcessWithdrawQueue(ctx, carol, 0)
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Empty(t, res.Settled)
	assert.Equal(t, 2, f.v.PendingCount())
	assert.True(t, f.asset.BalanceOf(bob).Equal(w(900)))

	_, ahead, ok := f.v.QueuePosition(bob)
	require.True(t, ok)
	assert.Equal(t, 1, ahead)
}

func TestQueueForcedSettlementAfterMaxDelay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Params) { p.MaxWithdrawDelay = time.Hour })
	f.deposit(t, alice, 100)
	f.strat.SetLiquidityCap(decimal.Zero)

	_, err := f.v.Redeem(ctx, ExitRequest{Caller: alice, Owner: alice, Receiver: alice, Amount: w(40)})
	require.NoError(t, err)

	f.clk.Advance(time.Hour + time.Second)
	res, err := f.v.ProcessWithdrawQueue(ctx, bob, 0)
	require.NoError(t, err)
	require.Len(t, res.Settled, 1)
	assert.True(t, res.Settled[0].Forced)
	assert.True(t, res.Settled[0].Paid.IsZero())
	assert.Zero(t, f.v.PendingCount())

	_, rc, err := f.v.QueueEntry(0)
	require.NoError(t, err)
	assert.Equal(t, "forced", string(rc.Status))
	assert.True(t, f.v.TotalSupply().Equal(w(60)))
	assert.True(t, f.v.ConvertToAssets(w(60)).Equal(w(100)))
}

func TestBreakerLossThresholdPauses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Params) {
		p.Breaker = risk.Config{MaxLossBps: 1000, MaxViolations: 3, ViolationWindow: time.Hour}
	})
	f.deposit(t, alice, 1000)

	require.NoError(t, f.strat.SimulateLoss(w(100)))
	res := f.harvest(t)
	assert.True(t, res.Loss.Equal(w(100)))
	assert.False(t, f.v.Paused(), "a loss at the threshold must not pause")

	require.NoError(t, f.strat.SimulateLoss(w(91)))
	res = f.harvest(t)
	assert.True(t, res.PausedAfter)
	assert.True(t, f.v.Paused())
	require.Len(t, res.Trips, 1)
	assert.Equal(t, risk.ReasonLoss, res.Trips[0].Reason)

	_, err := f.v.Deposit(ctx, bob, w(1), bob, decimal.Zero)
	assert.ErrorIs(t, err, ErrPaused)
	_, err = f.v.Harvest(ctx, owner)
	assert.ErrorIs(t, err, ErrPaused)
	_, err = f.v.ProcessWithdrawQueue(ctx, bob, 0)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.v.Unpause(ctx, alice), ErrUnauthorized)
	require.NoError(t, f.v.Unpause(ctx, owner))
	assert.False(t, f.v.Paused())
}

func TestMonotonicPriceAcrossDepositsAndPerformanceFee(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.PerformanceFeeBps = 2000 })
	f.deposit(t, alice, 100)
	prev := f.v.PricePerShare()

	check := func(step string) {
		cur := f.v.PricePerShare()
		assert.True(t, cur.GreaterThanOrEqual(prev), "%s: %s < %s", step, cur, prev)
		prev = cur
	}

	require.NoError(t, f.strat.SimulateGain(w(13)))
	f.harvest(t)
	check("harvest")
	f.deposit(t, bob, 37)
	check("deposit bob")
	_, err := f.v.Mint(context.Background(), carol, units.FromWhole(3, dec-1), carol, decimal.Zero)
	require.NoError(t, err)
	check("mint carol")
	f.clk.Advance(time.Hour)
	check("unlock")
}

func TestReentrantCallIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	var nested error
	f.strat.OnCall = func(ctx context.Context, op strategy.Op) {
		if op == strategy.OpInvest {
			_, nested = f.v.Deposit(ctx, bob, w(1), bob, decimal.Zero)
		}
	}

	f.deposit(t, alice, 100)
	assert.ErrorIs(t, nested, ErrReentrant)
	assert.True(t, f.v.TotalSupply().Equal(w(100)))
	assert.True(t, f.asset.BalanceOf(bob).Equal(w(1000)))
}

func TestFailedDepositRevertsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.strat.FailNext(strategy.OpInvest)

	_, err := f.v.Deposit(ctx, alice, w(100), alice, decimal.Zero)
	assert.ErrorIs(t, err, ErrStrategyFailure)
	assert.True(t, f.asset.BalanceOf(alice).Equal(w(1000)))
	assert.True(t, f.asset.BalanceOf(vaultAddr).IsZero())
	assert.True(t, f.asset.BalanceOf(stratAddr).IsZero())
	assert.True(t, f.v.TotalSupply().IsZero())
	assert.True(t, f.v.Allocator().TotalDebt().IsZero())
	assert.Empty(t, f.events)

	f.deposit(t, alice, 100)
	require.Len(t, f.events, 1)
	assert.Equal(t, model.EventDeposit, f.events[0].Type)
}

func TestUnharvestedLossIsSharedProRata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)
	bobShares := f.deposit(t, bob, 100)

	require.NoError(t, f.strat.SimulateLoss(w(100)))
	assert.True(t, f.v.TotalAssets().Equal(w(100)), "loss is priced before any harvest")
	assert.True(t, f.v.ConvertToAssets(bobShares).Equal(w(50)))

	f.redeemAll(t, alice)
	_, err := f.v.ProcessWithdrawQueue(ctx, carol, 0)
	require.NoError(t, err)
	assert.True(t, f.asset.BalanceOf(alice).Equal(w(950)))
	assert.True(t, f.v.ConvertToAssets(bobShares).Equal(w(50)))

	res := f.harvest(t)
	assert.True(t, res.Loss.Equal(w(100)))
	assert.True(t, f.v.ConvertToAssets(bobShares).Equal(w(50)), "harvest books the loss without moving the price again")
}

func TestRemoveStrategyWithCappedRecallFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := testParams()
	p.Breaker = risk.Config{}
	m := manager.NewStrategyManager(f.asset, vaultAddr, manager.DefaultConfig())
	v, err := New(Options{
		Address: vaultAddr, Owner: owner, Asset: f.asset, Decimals: dec,
		Clock: f.clk, Allocator: m, Params: p,
	})
	require.NoError(t, err)
	a := strategy.NewSimulated("a", common.HexToAddress("0x5a"), vaultAddr, f.asset)
	require.NoError(t, v.AddStrategy(ctx, owner, a, 10000, decimal.Zero))
	_, err = v.Deposit(ctx, alice, w(100), alice, decimal.Zero)
	require.NoError(t, err)

	a.SetLiquidityCap(w(10))
	err = v.RemoveStrategy(ctx, owner, a.Address())
	assert.ErrorIs(t, err, manager.ErrIlliquid)
	assert.True(t, a.CurrentBalance().Equal(w(100)), "partial recall is rolled back")
	assert.Len(t, v.Strategies(), 1)
	assert.True(t, v.TotalAssets().Equal(w(100)))

	a.SetLiquidityCap(w(-1))
	require.NoError(t, a.SimulateLoss(w(5)))
	require.NoError(t, v.RemoveStrategy(ctx, owner, a.Address()))
	assert.Empty(t, v.Strategies())
	assert.True(t, v.TotalAssets().Equal(w(95)))

	// 重新启用后不会再次报告已记账的亏损
	require.NoError(t, v.AddStrategy(ctx, owner, a, 10000, decimal.Zero))
	_, err = v.Deposit(ctx, bob, w(10), bob, decimal.Zero)
	require.NoError(t, err)
	res, err := v.Harvest(ctx, owner)
	require.NoError(t, err)
	assert.True(t, res.Loss.IsZero())
	assert.True(t, v.TotalAssets().Equal(w(105)))
}

func TestSetStrategyWithCappedRecallFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)
	f.strat.SetLiquidityCap(w(10))

	next := strategy.NewSimulated("next", common.HexToAddress("0x5c"), vaultAddr, f.asset)
	err := f.v.SetStrategy(ctx, owner, next)
	assert.ErrorIs(t, err, manager.ErrIlliquid)
	single := f.v.Allocator().(*manager.Single)
	assert.Equal(t, stratAddr, single.Strategy().Address())
	assert.True(t, f.strat.CurrentBalance().Equal(w(100)))
	assert.True(t, next.CurrentBalance().IsZero())
	assert.True(t, f.v.TotalAssets().Equal(w(100)))
}

func TestOverdueRequestSettlesWhenStrategyFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Params) { p.MaxWithdrawDelay = time.Hour })
	f.deposit(t, alice, 100)
	_, err := f.v.Redeem(ctx, ExitRequest{Caller: alice, Owner: alice, Receiver: alice, Amount: w(40)})
	require.NoError(t, err)

	f.clk.Advance(2 * time.Hour)
	f.strat.FailNext(strategy.OpWithdraw)
	res, err := f.v.ProcessWithdrawQueue(ctx, bob, 0)
	require.NoError(t, err)
	require.Len(t, res.Settled, 1)
	assert.True(t, res.Settled[0].Forced)
	assert.Zero(t, f.v.PendingCount())
	assert.True(t, f.v.TotalSupply().Equal(w(60)))
	assert.True(t, f.v.ConvertToAssets(w(60)).Equal(w(100)))
}

func TestManagementAccrualSkipsEmptySupply(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.ManagementFeeBps = 100 })

	f.clk.Advance(30 * 24 * time.Hour)
	f.deposit(t, alice, 100)
	assert.True(t, f.v.BalanceOf(feeTo).IsZero())

	f.clk.Advance(time.Hour)
	f.deposit(t, bob, 1)
	want := fee.Engine{ManagementBps: 100}.ManagementShares(w(100), 3600)
	require.True(t, want.Sign() > 0)
	assert.True(t, f.v.BalanceOf(feeTo).Equal(want), "want %s got %s", want, f.v.BalanceOf(feeTo))
}

func TestManagementAccrualDoesNotBackfillAfterZeroRate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	f.clk.Advance(30 * 24 * time.Hour)
	require.NoError(t, f.v.SetFees(ctx, owner, 0, 100))
	assert.True(t, f.v.BalanceOf(feeTo).IsZero(), "time at a zero rate is not charged later")

	f.clk.Advance(time.Hour)
	f.deposit(t, bob, 1)
	want := fee.Engine{ManagementBps: 100}.ManagementShares(w(100), 3600)
	assert.True(t, f.v.BalanceOf(feeTo).Equal(want), "want %s got %s", want, f.v.BalanceOf(feeTo))
}
