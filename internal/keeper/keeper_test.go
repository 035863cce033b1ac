package keeper

import (
	"context"
	"errors"
	"testing"

	"github.com/GoPolymarket/polyvault/internal/config"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/queue"
	"github.com/GoPolymarket/polyvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVault struct {
	mode       string
	calls      []string
	harvestErr error
}

func (f *fakeVault) Operator() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000ee")
}
func (f *fakeVault) Mode() string { return f.mode }

func (f *fakeVault) Harvest(context.Context, common.Address) (vault.HarvestResult, error) {
	f.calls = append(f.calls, "harvest")
	return vault.HarvestResult{}, f.harvestErr
}

func (f *fakeVault) ProcessQueue(_ context.Context, _ common.Address, maxCount int) (queue.Result, error) {
	f.calls = append(f.calls, "queue")
	return queue.Result{}, nil
}

func (f *fakeVault) Rebalance(context.Context, common.Address) (manager.RebalanceResult, error) {
	f.calls = append(f.calls, "rebalance")
	return manager.RebalanceResult{}, nil
}

func (f *fakeVault) ExecuteReady(context.Context, common.Address) int {
	f.calls = append(f.calls, "timelock")
	return 0
}

func TestRegisterAllSkipsRebalanceInSingleMode(t *testing.T) {
	cfg := config.KeeperConfig{HarvestSpec: "0 0 * * * *", QueueSpec: "0 */5 * * * *", RebalanceSpec: "0 30 * * * *"}

	single := New(context.Background(), &fakeVault{mode: "single"})
	require.NoError(t, single.RegisterAll(cfg, 10))
	assert.Len(t, single.cron.Entries(), 3)

	multi := New(context.Background(), &fakeVault{mode: "multi"})
	require.NoError(t, multi.RegisterAll(cfg, 10))
	assert.Len(t, multi.cron.Entries(), 4)

	bad := New(context.Background(), &fakeVault{mode: "single"})
	assert.Error(t, bad.RegisterAll(config.KeeperConfig{HarvestSpec: "every hour"}, 10))
}

func TestRunLogsFailuresAndContinues(t *testing.T) {
	fv := &fakeVault{mode: "single", harvestErr: errors.New("strategy down")}
	k := New(context.Background(), fv)

	k.run("harvest", k.RunHarvest)
	k.run("process_queue", func(ctx context.Context) error { return k.RunQueue(ctx, 5) })
	k.run("timelock", k.RunTimelock)
	assert.Equal(t, []string{"harvest", "queue", "timelock"}, fv.calls)
	assert.False(t, k.running["harvest"])
}
