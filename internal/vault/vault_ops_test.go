package vault

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfitLockReleasesLinearlyAndAbsorbsLoss(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	require.NoError(t, f.strat.SimulateGain(w(10)))
	res := f.harvest(t)
	assert.True(t, res.Locked.Equal(w(10)))
	assert.True(t, f.v.TotalAssets().Equal(w(100)), "profit is hidden right after harvest")

	f.clk.Advance(3 * time.Hour)
	assert.True(t, f.v.LockedProfit().Equal(w(5)))
	assert.True(t, f.v.TotalAssets().Equal(w(105)))

	require.NoError(t, f.strat.SimulateLoss(w(4)))
	assert.True(t, f.v.TotalAssets().Equal(w(105)), "locked profit covers the unreported loss")
	res = f.harvest(t)
	assert.True(t, res.Absorbed.Equal(w(4)))
	assert.True(t, f.v.LockedProfit().Equal(w(1)))
	assert.True(t, f.v.TotalAssets().Equal(w(105)), "absorbed loss leaves the price untouched")

	f.clk.Advance(6 * time.Hour)
	assert.True(t, f.v.LockedProfit().IsZero())
	assert.True(t, f.v.TotalAssets().Equal(w(106)))
}

func TestProfitLockZeroWindowReleasesImmediately(t *testing.T) {
	p := ProfitLock{Window: 0}
	p.Lock(t0, w(7))
	assert.True(t, p.LockedAt(t0.Add(time.Nanosecond)).IsZero())

	p = ProfitLock{Window: time.Hour}
	p.Lock(t0, w(6))
	p.Lock(t0.Add(30*time.Minute), w(2))
	assert.True(t, p.LockedAt(t0.Add(30*time.Minute)).Equal(w(5)), "new profit stacks on the unreleased remainder")
	assert.True(t, p.LockedAt(t0.Add(90*time.Minute)).IsZero())
}

func TestEmergencyWithdrawWhilePausedForfeitsShortfall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)
	bobShares := f.deposit(t, bob, 100)
	require.NoError(t, f.v.Pause(ctx, owner))

	_, err := f.v.Deposit(ctx, carol, w(1), carol, decimal.Zero)
	require.ErrorIs(t, err, ErrPaused)

	f.strat.SetLiquidityCap(w(30))
	paid, err := f.v.EmergencyWithdraw(ctx, alice)
	require.NoError(t, err)
	assert.True(t, paid.Equal(w(30)))
	assert.True(t, f.asset.BalanceOf(alice).Equal(w(930)))
	assert.True(t, f.v.BalanceOf(alice).IsZero())
	assert.True(t, f.v.ConvertToAssets(bobShares).Equal(w(170)))

	_, err = f.v.EmergencyWithdraw(ctx, alice)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRedeemSlippageAgainstUnadjustedPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)
	require.NoError(t, f.strat.SimulateGain(w(10)))
	f.harvest(t)

	strict := int64(0)
	_, err := f.v.Redeem(ctx, ExitRequest{Caller: alice, Owner: alice, Receiver: alice, Amount: w(50), MaxLossBps: &strict})
	assert.ErrorIs(t, err, ErrSlippage)
	assert.Zero(t, f.v.PendingCount())

	loose := int64(1000)
	req, err := f.v.Redeem(ctx, ExitRequest{Caller: alice, Owner: alice, Receiver: alice, Amount: w(50), MaxLossBps: &loose})
	require.NoError(t, err)
	assert.True(t, req.Assets.Equal(w(50)))

	bad := int64(10001)
	_, err = f.v.Redeem(ctx, ExitRequest{Caller: alice, Owner: alice, Receiver: alice, Amount: w(1), MaxLossBps: &bad})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDepositSlippageAndCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Params) { p.DepositCap = w(150) })

	_, err := f.v.Deposit(ctx, alice, w(100), alice, w(101))
	assert.ErrorIs(t, err, ErrSlippage)

	f.deposit(t, alice, 100)
	assert.True(t, f.v.MaxDeposit().Equal(w(50)))
	_, err = f.v.Deposit(ctx, bob, w(51), bob, decimal.Zero)
	assert.ErrorIs(t, err, ErrDepositCap)
	f.deposit(t, bob, 50)
	assert.True(t, f.v.MaxDeposit().IsZero())

	require.NoError(t, f.v.SetDepositCap(ctx, owner, decimal.Zero))
	assert.True(t, f.v.MaxDeposit().IsNegative(), "zero cap is unlimited")
	f.deposit(t, carol, 500)
}

func TestWithdrawOnBehalfNeedsShareAllowance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	exit := ExitRequest{Caller: bob, Owner: alice, Receiver: bob, Amount: w(10)}
	_, err := f.v.Withdraw(ctx, exit)
	assert.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	require.NoError(t, f.v.ApproveShares(ctx, alice, bob, w(10)))
	_, err = f.v.Withdraw(ctx, exit)
	require.NoError(t, err)

	_, err = f.v.ProcessWithdrawQueue(ctx, carol, 0)
	require.NoError(t, err)
	assert.True(t, f.asset.BalanceOf(bob).Equal(w(1010)))
	assert.True(t, f.v.BalanceOf(alice).Equal(w(90)))
}

func TestRoleChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	keeper := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	assert.ErrorIs(t, f.v.Pause(ctx, alice), ErrUnauthorized)
	assert.ErrorIs(t, f.v.SetFees(ctx, alice, 100, 100), ErrUnauthorized)
	_, err := f.v.Harvest(ctx, keeper)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.v.GrantRole(ctx, owner, RoleKeeper, keeper))
	_, err = f.v.Harvest(ctx, keeper)
	require.NoError(t, err)
	assert.ErrorIs(t, f.v.SetFees(ctx, keeper, 100, 100), ErrUnauthorized)

	assert.ErrorIs(t, f.v.SetFees(ctx, owner, 3001, 0), ErrFeeTooHigh)
	assert.ErrorIs(t, f.v.RevokeRole(ctx, owner, RoleOwner, owner), ErrInvalidArgument)
	assert.ErrorIs(t, f.v.SetFeeRecipient(ctx, owner, common.Address{}), ErrZeroAddress)
}

func TestFailedHarvestIsRolledBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Params) { p.PerformanceFeeBps = 1000 })
	f.deposit(t, alice, 100)
	require.NoError(t, f.strat.SimulateGain(w(10)))
	f.strat.FailNext(strategy.OpHarvest)
	seq := len(f.events)

	_, err := f.v.Harvest(ctx, owner)
	assert.ErrorIs(t, err, ErrStrategyFailure)
	assert.Len(t, f.events, seq)
	assert.True(t, f.v.BalanceOf(feeTo).IsZero())
	assert.True(t, f.v.LockedProfit().IsZero())

	res := f.harvest(t)
	assert.True(t, res.Profit.Equal(w(10)))
	assert.True(t, res.FeeAssets.Equal(w(1)))
	assert.True(t, res.Locked.Equal(w(9)))
}

func TestEventsCarryMonotonicSequence(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, alice, 10)
	f.deposit(t, bob, 10)
	require.NoError(t, f.v.Pause(context.Background(), owner))

	require.Len(t, f.events, 3)
	for i, e := range f.events {
		assert.EqualValues(t, i+1, e.Seq)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, model.EventPaused, f.events[2].Type)
	assert.Equal(t, owner.Hex(), f.events[2].Actor)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *Params) { p.PerformanceFeeBps = 1000 })
	f.deposit(t, alice, 100)
	f.deposit(t, bob, 50)
	require.NoError(t, f.strat.SimulateGain(w(15)))
	f.harvest(t)
	require.NoError(t, f.v.ApproveShares(ctx, alice, carol, w(3)))
	_, err := f.v.Redeem(ctx, ExitRequest{Caller: bob, Owner: bob, Receiver: bob, Amount: w(20)})
	require.NoError(t, err)
	f.clk.Advance(time.Hour)

	snap := f.v.Snapshot()
	restored, err := New(Options{
		Address:   vaultAddr,
		Owner:     owner,
		Asset:     f.asset,
		Decimals:  dec,
		Clock:     f.clk,
		Allocator: manager.NewSingle(f.asset, vaultAddr, f.strat),
		Params:    testParams(),
	})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))

	assert.True(t, restored.TotalAssets().Equal(f.v.TotalAssets()))
	assert.True(t, restored.TotalSupply().Equal(f.v.TotalSupply()))
	assert.True(t, restored.LockedProfit().Equal(f.v.LockedProfit()))
	assert.True(t, restored.BalanceOf(feeTo).Equal(f.v.BalanceOf(feeTo)))
	assert.Equal(t, f.v.PendingCount(), restored.PendingCount())
	assert.Equal(t, f.v.Params(), restored.Params())

	_, err = restored.Withdraw(ctx, ExitRequest{Caller: carol, Owner: alice, Receiver: carol, Amount: w(1)})
	require.NoError(t, err, "restored allowance")

	snap.Version = 99
	assert.ErrorIs(t, restored.Restore(snap), ErrUnsupported)
}

func TestMultiStrategyVault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	m := manager.NewStrategyManager(f.asset, vaultAddr, manager.Config{MaxStrategies: 4, MinRebalanceDelay: time.Hour})
	v, err := New(Options{
		Address: vaultAddr, Owner: owner, Asset: f.asset, Decimals: dec,
		Clock: f.clk, Allocator: m, Params: testParams(),
	})
	require.NoError(t, err)

	a := strategy.NewSimulated("a", common.HexToAddress("0x5a"), vaultAddr, f.asset)
	b := strategy.NewSimulated("b", common.HexToAddress("0x5b"), vaultAddr, f.asset)
	require.NoError(t, v.AddStrategy(ctx, owner, a, 6000, decimal.Zero))
	assert.ErrorIs(t, v.AddStrategy(ctx, owner, b, 5000, decimal.Zero), manager.ErrAllocationExceeded)
	require.NoError(t, v.AddStrategy(ctx, owner, b, 3000, decimal.Zero))
	assert.ErrorIs(t, v.UpdateAllocation(ctx, owner, a.Address(), 7001, decimal.Zero), manager.ErrAllocationExceeded)

	_, err = v.Deposit(ctx, alice, w(100), alice, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance().Equal(w(60)))
	assert.True(t, b.CurrentBalance().Equal(w(30)))
	assert.True(t, v.TotalAssets().Equal(w(100)))

	require.NoError(t, v.UpdateAllocation(ctx, owner, a.Address(), 2000, decimal.Zero))
	_, err = v.Rebalance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance().Equal(w(20)))
	_, err = v.Rebalance(ctx, owner)
	assert.ErrorIs(t, err, manager.ErrRebalanceTooSoon)

	require.NoError(t, v.RemoveStrategy(ctx, owner, b.Address()))
	assert.True(t, b.CurrentBalance().IsZero())
	assert.True(t, v.TotalAssets().Equal(w(100)))

	assert.ErrorIs(t, v.SetStrategy(ctx, owner, b), ErrUnsupported)
	assert.ErrorIs(t, f.v.AddStrategy(ctx, owner, b, 100, decimal.Zero), ErrUnsupported)
}

func TestSetStrategyMigratesFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)
	require.NoError(t, f.strat.SimulateGain(w(4)))

	next := strategy.NewSimulated("next", common.HexToAddress("0x5c"), vaultAddr, f.asset)
	require.NoError(t, f.v.SetStrategy(ctx, owner, next))
	assert.True(t, f.strat.CurrentBalance().IsZero())
	assert.True(t, next.CurrentBalance().Equal(w(104)))
	assert.True(t, f.v.LockedProfit().Equal(w(4)), "gain realized during migration is locked")
	assert.True(t, f.v.TotalAssets().Equal(w(100)))
}

func testParams() Params {
	p := DefaultParams()
	p.FeeRecipient = feeTo
	return p
}
