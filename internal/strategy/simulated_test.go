package strategy

import (
	"context"
	"testing"

	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vaultAddr = common.HexToAddress("0x000000000000000000000000000000000000fa17")
	stratAddr = common.HexToAddress("0x0000000000000000000000000000000000005701")
)

func newFunded(t *testing.T, amount int64) (*Simulated, *ledger.Token) {
	t.Helper()
	tok := ledger.NewToken("USDC", 6)
	s := NewSimulated("sim", stratAddr, vaultAddr, tok)
	require.NoError(t, tok.Mint(stratAddr, decimal.NewFromInt(amount)))
	require.NoError(t, s.Invest(context.Background(), decimal.NewFromInt(amount)))
	return s, tok
}

func TestSimulatedHarvestReportsDelta(t *testing.T) {
	ctx := context.Background()
	s, _ := newFunded(t, 100)

	require.NoError(t, s.SimulateGain(decimal.NewFromInt(7)))
	profit, loss, err := s.Harvest(ctx)
	require.NoError(t, err)
	assert.True(t, profit.Equal(decimal.NewFromInt(7)))
	assert.True(t, loss.IsZero())

	require.NoError(t, s.SimulateLoss(decimal.NewFromInt(10)))
	profit, loss, err = s.Harvest(ctx)
	require.NoError(t, err)
	assert.True(t, profit.IsZero())
	assert.True(t, loss.Equal(decimal.NewFromInt(10)))
}

func TestSimulatedWithdrawBoundedByLiquidity(t *testing.T) {
	ctx := context.Background()
	s, tok := newFunded(t, 100)
	s.SetLiquidityCap(decimal.NewFromInt(30))

	got, err := s.Withdraw(ctx, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(30)))
	assert.True(t, tok.BalanceOf(vaultAddr).Equal(decimal.NewFromInt(30)))

	s.SetLiquidityCap(decimal.NewFromInt(-1))
	got, err = s.WithdrawAllToVault(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(70)))
	assert.True(t, s.CurrentBalance().IsZero())
}

func TestSimulatedRejectsForeignCaller(t *testing.T) {
	s, _ := newFunded(t, 10)
	ctx := WithCaller(context.Background(), common.HexToAddress("0x1"))
	_, err := s.Withdraw(ctx, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrUnauthorizedVault)
}

func TestSimulatedFailNext(t *testing.T) {
	s, _ := newFunded(t, 10)
	s.FailNext(OpHarvest)
	_, _, err := s.Harvest(context.Background())
	assert.ErrorIs(t, err, ErrInjected)
	_, _, err = s.Harvest(context.Background())
	assert.NoError(t, err)
}

func TestSimulatedExportImportKeepsHarvestBaseline(t *testing.T) {
	s, tok := newFunded(t, 100)
	s.SetLiquidityCap(decimal.NewFromInt(40))
	require.NoError(t, s.SimulateGain(decimal.NewFromInt(7)))

	st := s.Export()
	assert.Equal(t, "sim", st.Name)
	require.NotNil(t, st.LiquidityCap)

	restored := NewSimulated(st.Name, st.Address, vaultAddr, tok)
	restored.Import(st)
	profit, _, err := restored.Harvest(context.Background())
	require.NoError(t, err)
	assert.True(t, profit.Equal(decimal.NewFromInt(7)))

	got, err := restored.Withdraw(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(40)))
}
