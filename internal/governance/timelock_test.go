package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/clock"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/GoPolymarket/polyvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0        = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	lockAddr  = common.HexToAddress("0x00000000000000000000000000000000000071c0")
	vaultAddr = common.HexToAddress("0x000000000000000000000000000000000000fa17")
	proposer  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	guardian  = common.HexToAddress("0x00000000000000000000000000000000000000a9")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

type recorder struct {
	ran  []Operation
	fail error
}

func (r *recorder) Validate(op Operation) error {
	if op.Action == "" {
		return errors.New("empty action")
	}
	return nil
}

func (r *recorder) Execute(_ context.Context, op Operation) error {
	if r.fail != nil {
		return r.fail
	}
	r.ran = append(r.ran, op)
	return nil
}

func newLock(t *testing.T, exec Executor) (*Timelock, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	tl, err := NewTimelock(Config{
		Address:    lockAddr,
		Delay:      24 * time.Hour,
		Proposers:  []common.Address{proposer},
		Cancellers: []common.Address{guardian},
	}, clk, exec)
	require.NoError(t, err)
	return tl, clk
}

func TestTimelockLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	tl, clk := newLock(t, rec)
	var events []model.Event
	tl.Subscribe(func(e model.Event) { events = append(events, e) })

	_, err := tl.Schedule(stranger, "set_fees", nil)
	assert.ErrorIs(t, err, ErrNotProposer)

	op, err := tl.Schedule(proposer, "set_fees", map[string]string{"performance_bps": "100"})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(24*time.Hour), op.ETA)
	assert.Len(t, tl.Pending(), 1)

	clk.Advance(23 * time.Hour)
	_, err = tl.Execute(ctx, stranger, op.ID)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, rec.ran)

	clk.Advance(time.Hour)
	done, err := tl.Execute(ctx, stranger, op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, done.Status)
	assert.Equal(t, stranger, done.DoneBy)
	require.Len(t, rec.ran, 1)

	_, err = tl.Execute(ctx, stranger, op.ID)
	assert.ErrorIs(t, err, ErrAlreadyDone)
	_, err = tl.Cancel(guardian, op.ID)
	assert.ErrorIs(t, err, ErrAlreadyDone)
	_, err = tl.Execute(ctx, stranger, "nope")
	assert.ErrorIs(t, err, ErrUnknownOperation)

	assert.Empty(t, tl.Pending())
	require.Len(t, events, 2)
	assert.Equal(t, model.EventScheduled, events[0].Type)
	assert.Equal(t, model.EventExecuted, events[1].Type)
	assert.Equal(t, op.ID, events[1].Data["operation_id"])
}

func TestTimelockCancelAndFailedExecution(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{fail: errors.New("boom")}
	tl, clk := newLock(t, rec)

	a, err := tl.Schedule(proposer, "a", nil)
	require.NoError(t, err)
	b, err := tl.Schedule(proposer, "b", nil)
	require.NoError(t, err)
	_, err = tl.Schedule(proposer, "", nil)
	assert.Error(t, err)

	_, err = tl.Cancel(stranger, a.ID)
	assert.ErrorIs(t, err, ErrNotProposer)
	cancelled, err := tl.Cancel(guardian, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	clk.Advance(25 * time.Hour)
	_, err = tl.Execute(ctx, proposer, b.ID)
	require.Error(t, err)
	got, err := tl.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status, "failed execution stays pending")

	rec.fail = nil
	_, err = tl.Execute(ctx, proposer, b.ID)
	require.NoError(t, err)

	restored, _ := newLock(t, rec)
	restored.Restore(tl.Export())
	assert.Len(t, restored.Export(), 2)
	assert.Empty(t, restored.Pending())
}

func TestVaultExecutorAppliesSetters(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(t0)
	asset := ledger.NewToken("USDC", 6)
	strat := strategy.NewSimulated("sim", common.HexToAddress("0x5701"), vaultAddr, asset)
	p := vault.DefaultParams()
	p.FeeRecipient = proposer
	v, err := vault.New(vault.Options{
		Address: vaultAddr, Owner: lockAddr, Asset: asset, Decimals: 6,
		Clock: clk, Allocator: manager.NewSingle(asset, vaultAddr, strat), Params: p,
	})
	require.NoError(t, err)

	exec := NewVaultExecutor(lockAddr, func(ctx context.Context, fn func(context.Context, *vault.Vault) error) error {
		return fn(ctx, v)
	})
	tl, err := NewTimelock(Config{Address: lockAddr, Delay: time.Hour, Proposers: []common.Address{proposer}}, clk, exec)
	require.NoError(t, err)

	_, err = tl.Schedule(proposer, "self_destruct", nil)
	assert.ErrorIs(t, err, vault.ErrInvalidArgument)
	_, err = tl.Schedule(proposer, "set_fees", map[string]string{"performance_bps": "100"})
	assert.ErrorIs(t, err, vault.ErrInvalidArgument)

	fees, err := tl.Schedule(proposer, "set_fees", map[string]string{"performance_bps": "1000", "management_bps": "50"})
	require.NoError(t, err)
	capOp, err := tl.Schedule(proposer, "set_deposit_cap", map[string]string{"cap": "5000000"})
	require.NoError(t, err)
	grant, err := tl.Schedule(proposer, "grant_role", map[string]string{"role": "keeper", "account": guardian.Hex()})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	for _, id := range []string{fees.ID, capOp.ID, grant.ID} {
		_, err := tl.Execute(ctx, stranger, id)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1000, v.FeeEngine().PerformanceBps)
	assert.EqualValues(t, 50, v.FeeEngine().ManagementBps)
	assert.True(t, v.DepositCap().Equal(decimal.NewFromInt(5000000)))
	assert.True(t, v.HasRole(vault.RoleKeeper, guardian))

	bad, err := tl.Schedule(proposer, "set_fees", map[string]string{"performance_bps": "9000", "management_bps": "0"})
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = tl.Execute(ctx, stranger, bad.ID)
	assert.ErrorIs(t, err, vault.ErrFeeTooHigh)

	assert.Contains(t, Actions(), "set_fees")
}
