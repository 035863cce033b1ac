package manager

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vaultAddr = common.HexToAddress("0x000000000000000000000000000000000000fa17")
	t0        = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
)

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func fixture(t *testing.T, idle int64, n int) (*ledger.Token, []*strategy.Simulated) {
	t.Helper()
	tok := ledger.NewToken("USDC", 6)
	require.NoError(t, tok.Mint(vaultAddr, d(idle)))
	out := make([]*strategy.Simulated, n)
	for i := range out {
		addr := common.BigToAddress(big.NewInt(int64(0x5000 + i)))
		out[i] = strategy.NewSimulated("s", addr, vaultAddr, tok)
	}
	return tok, out
}

func TestAddStrategyBounds(t *testing.T) {
	tok, ss := fixture(t, 0, 3)
	m := NewStrategyManager(tok, vaultAddr, Config{MaxStrategies: 2})

	require.NoError(t, m.AddStrategy(ss[0], 6000, decimal.Zero))
	assert.ErrorIs(t, m.AddStrategy(ss[0], 100, decimal.Zero), ErrDuplicateStrategy)
	assert.ErrorIs(t, m.AddStrategy(ss[1], 4001, decimal.Zero), ErrAllocationExceeded)
	require.NoError(t, m.AddStrategy(ss[1], 4000, decimal.Zero))
	assert.ErrorIs(t, m.AddStrategy(ss[2], 0, decimal.Zero), ErrRegistryFull)

	assert.ErrorIs(t, m.UpdateAllocation(ss[2].Address(), 1, decimal.Zero), ErrUnknownStrategy)
	assert.ErrorIs(t, m.UpdateAllocation(ss[0].Address(), 6001, decimal.Zero), ErrAllocationExceeded)
	assert.EqualValues(t, 10000, m.TotalTargetBps())
}

func TestDeployAndHarvestAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	tok, ss := fixture(t, 1000, 2)
	m := NewStrategyManager(tok, vaultAddr, DefaultConfig())
	require.NoError(t, m.AddStrategy(ss[0], 5000, decimal.Zero))
	require.NoError(t, m.AddStrategy(ss[1], 3000, d(200)))

	deployed, err := m.Deploy(ctx, d(1000))
	require.NoError(t, err)
	assert.True(t, deployed.Equal(d(700)), deployed.String())
	assert.True(t, tok.BalanceOf(vaultAddr).Equal(d(300)))

	require.NoError(t, ss[0].SimulateGain(d(50)))
	require.NoError(t, ss[1].SimulateGain(d(20)))
	ss[1].FailNext(strategy.OpHarvest)

	rep, err := m.Harvest(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Profit.Equal(d(50)))
	assert.Equal(t, []common.Address{ss[1].Address()}, rep.Failed)
	assert.True(t, m.TotalDebt().Equal(d(750)))
}

func TestRemoveStrategySwapsWithLast(t *testing.T) {
	ctx := context.Background()
	tok, ss := fixture(t, 900, 3)
	m := NewStrategyManager(tok, vaultAddr, DefaultConfig())
	for _, s := range ss {
		require.NoError(t, m.AddStrategy(s, 3000, decimal.Zero))
	}
	_, err := m.Deploy(ctx, d(900))
	require.NoError(t, err)

	got, rep, err := m.RemoveStrategy(ctx, ss[0].Address())
	require.NoError(t, err)
	assert.True(t, got.Equal(d(270)))
	assert.True(t, rep.Net().IsZero())

	infos := m.Strategies()
	require.Len(t, infos, 2)
	assert.Equal(t, ss[2].Address(), infos[0].Address)
	assert.Equal(t, ss[1].Address(), infos[1].Address)

	// a removed strategy can come back
	require.NoError(t, m.AddStrategy(ss[0], 1000, decimal.Zero))
	assert.Len(t, m.Strategies(), 3)
}

func TestRebalanceMovesTowardsTargets(t *testing.T) {
	ctx := context.Background()
	tok, ss := fixture(t, 1000, 2)
	m := NewStrategyManager(tok, vaultAddr, Config{MaxStrategies: 5, MinRebalanceDelay: time.Hour})
	require.NoError(t, m.AddStrategy(ss[0], 8000, decimal.Zero))
	require.NoError(t, m.AddStrategy(ss[1], 2000, decimal.Zero))
	_, err := m.Deploy(ctx, d(1000))
	require.NoError(t, err)

	require.NoError(t, m.UpdateAllocation(ss[0].Address(), 5000, decimal.Zero))
	require.NoError(t, m.UpdateAllocation(ss[1].Address(), 5000, decimal.Zero))

	res, err := m.Rebalance(ctx, t0, tok.BalanceOf(vaultAddr))
	require.NoError(t, err)
	assert.True(t, res.Pulled.Equal(d(300)))
	assert.True(t, res.Pushed.Equal(d(300)))
	assert.True(t, ss[0].CurrentBalance().Equal(d(500)))
	assert.True(t, ss[1].CurrentBalance().Equal(d(500)))

	_, err = m.Rebalance(ctx, t0.Add(time.Minute), decimal.Zero)
	assert.ErrorIs(t, err, ErrRebalanceTooSoon)
}

func TestPullSkipsFailingStrategy(t *testing.T) {
	ctx := context.Background()
	tok, ss := fixture(t, 200, 2)
	m := NewStrategyManager(tok, vaultAddr, DefaultConfig())
	require.NoError(t, m.AddStrategy(ss[0], 5000, decimal.Zero))
	require.NoError(t, m.AddStrategy(ss[1], 5000, decimal.Zero))
	_, err := m.Deploy(ctx, d(200))
	require.NoError(t, err)

	ss[0].FailNext(strategy.OpWithdraw)
	got, err := m.Pull(ctx, d(150))
	require.NoError(t, err)
	assert.True(t, got.Equal(d(100)))
}

func TestSingleMigrateAndPropagation(t *testing.T) {
	ctx := context.Background()
	tok, ss := fixture(t, 100, 2)
	m := NewSingle(tok, vaultAddr, ss[0])

	_, err := m.Deploy(ctx, d(100))
	require.NoError(t, err)
	assert.True(t, m.TotalDebt().Equal(d(100)))

	ss[0].FailNext(strategy.OpWithdraw)
	_, err = m.Pull(ctx, d(10))
	assert.ErrorIs(t, err, strategy.ErrInjected)

	recalled, _, err := m.Migrate(ctx, ss[1])
	require.NoError(t, err)
	assert.True(t, recalled.Equal(d(100)))
	assert.True(t, m.TotalDebt().IsZero())
	assert.Equal(t, ss[1], m.Strategy())
}

func TestCheckpointRestoresRegistry(t *testing.T) {
	ctx := context.Background()
	tok, ss := fixture(t, 100, 2)
	m := NewStrategyManager(tok, vaultAddr, DefaultConfig())
	require.NoError(t, m.AddStrategy(ss[0], 5000, decimal.Zero))

	restore := m.Checkpoint()
	require.NoError(t, m.AddStrategy(ss[1], 5000, decimal.Zero))
	_, err := m.Deploy(ctx, d(100))
	require.NoError(t, err)
	restore()

	assert.Len(t, m.Strategies(), 1)
	assert.True(t, m.TotalDebt().IsZero())
	_, ok := m.Lookup(ss[1].Address())
	assert.False(t, ok)
}

func TestRestoreNeedsRegisteredStrategies(t *testing.T) {
	ctx := context.Background()
	tok, ss := fixture(t, 1000, 2)
	m := NewStrategyManager(tok, vaultAddr, DefaultConfig())
	require.NoError(t, m.AddStrategy(ss[0], 5000, decimal.Zero))
	require.NoError(t, m.AddStrategy(ss[1], 3000, decimal.Zero))
	_, err := m.Deploy(ctx, d(1000))
	require.NoError(t, err)
	_, _, err = m.RemoveStrategy(ctx, ss[1].Address())
	require.NoError(t, err)

	records := m.Export()
	require.Len(t, records, 2, "removed strategies stay in the registry")

	fresh := NewStrategyManager(tok, vaultAddr, DefaultConfig())
	assert.ErrorIs(t, fresh.Restore(records), ErrUnknownStrategy)

	fresh.Register(ss[0])
	fresh.Register(ss[1])
	fresh.Register(ss[1])
	require.NoError(t, fresh.Restore(records))
	require.Len(t, fresh.Strategies(), 1)
	assert.Equal(t, ss[0].Address(), fresh.Strategies()[0].Address)
	assert.True(t, fresh.TotalDebt().Equal(d(500)), fresh.TotalDebt().String())
	assert.EqualValues(t, 5000, fresh.TotalTargetBps())
}

func TestRemoveStrategyKeepsCappedCapitalTracked(t *testing.T) {
	ctx := context.Background()
	tok, ss := fixture(t, 100, 1)
	m := NewStrategyManager(tok, vaultAddr, DefaultConfig())
	require.NoError(t, m.AddStrategy(ss[0], 10000, decimal.Zero))
	_, err := m.Deploy(ctx, d(100))
	require.NoError(t, err)

	ss[0].SetLiquidityCap(d(10))
	got, _, err := m.RemoveStrategy(ctx, ss[0].Address())
	assert.ErrorIs(t, err, ErrIlliquid)
	assert.True(t, got.Equal(d(10)))
	require.Len(t, m.Strategies(), 1, "strategy stays active")
	assert.True(t, m.TotalDebt().Equal(d(90)))
	assert.True(t, m.UnrealizedLoss().IsZero())

	// 亏损后全部取回：差额记为亏损
	ss[0].SetLiquidityCap(d(-1))
	require.NoError(t, ss[0].SimulateLoss(d(15)))
	assert.True(t, m.UnrealizedLoss().Equal(d(15)))
	got, rep, err := m.RemoveStrategy(ctx, ss[0].Address())
	require.NoError(t, err)
	assert.True(t, got.Equal(d(75)))
	assert.True(t, rep.Loss.Equal(d(15)))
	assert.True(t, rep.Profit.IsZero())
	assert.Empty(t, m.Strategies())
	assert.True(t, m.TotalDebt().IsZero())
}

func TestSingleMigrateRefusesCappedRecall(t *testing.T) {
	ctx := context.Background()
	tok, ss := fixture(t, 100, 2)
	m := NewSingle(tok, vaultAddr, ss[0])
	_, err := m.Deploy(ctx, d(100))
	require.NoError(t, err)

	ss[0].SetLiquidityCap(d(30))
	_, _, err = m.Migrate(ctx, ss[1])
	assert.ErrorIs(t, err, ErrIlliquid)
	assert.Equal(t, ss[0], m.Strategy())
	assert.True(t, m.TotalDebt().Equal(d(70)))

	ss[0].SetLiquidityCap(d(-1))
	require.NoError(t, ss[0].SimulateGain(d(5)))
	recalled, rep, err := m.Migrate(ctx, ss[1])
	require.NoError(t, err)
	assert.True(t, recalled.Equal(d(75)))
	assert.True(t, rep.Profit.Equal(d(5)))
	assert.Equal(t, ss[1], m.Strategy())
}
