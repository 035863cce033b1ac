// Package keeper drives the periodic vault upkeep: harvest, queue
// processing, rebalancing and matured timelock operations.
package keeper

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoPolymarket/polyvault/internal/config"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/GoPolymarket/polyvault/internal/queue"
	"github.com/GoPolymarket/polyvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// Vault is the part of service.VaultService the keeper drives.
type Vault interface {
	Operator() common.Address
	Mode() string
	Harvest(ctx context.Context, caller common.Address) (vault.HarvestResult, error)
	ProcessQueue(ctx context.Context, caller common.Address, maxCount int) (queue.Result, error)
	Rebalance(ctx context.Context, caller common.Address) (manager.RebalanceResult, error)
	ExecuteReady(ctx context.Context, caller common.Address) int
}

type job struct {
	name string
	spec string
	fn   func(context.Context) error
}

type Keeper struct {
	cron  *cron.Cron
	vault Vault
	ctx   context.Context

	// 同一任务不重入，上一轮没跑完就跳过
	mu      sync.Mutex
	running map[string]bool
}

func New(ctx context.Context, v Vault) *Keeper {
	return &Keeper{
		cron:    cron.New(cron.WithSeconds()),
		vault:   v,
		ctx:     ctx,
		running: make(map[string]bool),
	}
}

// RegisterAll schedules the vault jobs. An empty spec disables that job;
// rebalance only runs in multi mode.
func (k *Keeper) RegisterAll(cfg config.KeeperConfig, batchSize int) error {
	jobs := []job{
		{"harvest", cfg.HarvestSpec, k.RunHarvest},
		{"process_queue", cfg.QueueSpec, func(ctx context.Context) error { return k.RunQueue(ctx, batchSize) }},
		{"timelock", cfg.QueueSpec, k.RunTimelock},
	}
	if k.vault.Mode() == "multi" {
		jobs = append(jobs, job{"rebalance", cfg.RebalanceSpec, k.RunRebalance})
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if err := k.AddJob(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// AddJob schedules fn under spec (six fields, with seconds). Failures are
// logged and never stop the scheduler.
func (k *Keeper) AddJob(name, spec string, fn func(context.Context) error) error {
	if _, err := k.cron.AddFunc(spec, func() { k.run(name, fn) }); err != nil {
		return fmt.Errorf("register %s job: %w", name, err)
	}
	return nil
}

func (k *Keeper) run(name string, fn func(context.Context) error) {
	k.mu.Lock()
	if k.running[name] {
		k.mu.Unlock()
		logger.Warn("keeper job still running, skipped", "job", name)
		return
	}
	k.running[name] = true
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.running[name] = false
		k.mu.Unlock()
	}()

	if err := fn(k.ctx); err != nil {
		logger.Warn("keeper job failed", "job", name, "error", err)
	}
}

func (k *Keeper) Start() {
	k.cron.Start()
	logger.Info("keeper started", "jobs", len(k.cron.Entries()), "operator", k.vault.Operator().Hex())
}

// Stop waits for running jobs to finish.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	logger.Info("keeper stopped")
}

func (k *Keeper) RunHarvest(ctx context.Context) error {
	res, err := k.vault.Harvest(ctx, k.vault.Operator())
	if err != nil {
		return err
	}
	logger.Info("keeper harvest",
		"profit", res.Profit.String(),
		"loss", res.Loss.String(),
		"failed", len(res.Failed),
		"paused", res.PausedAfter,
	)
	return nil
}

func (k *Keeper) RunQueue(ctx context.Context, maxCount int) error {
	res, err := k.vault.ProcessQueue(ctx, k.vault.Operator(), maxCount)
	if err != nil {
		return err
	}
	if len(res.Settled) > 0 || res.Blocked {
		logger.Info("keeper processed queue", "settled", len(res.Settled), "blocked", res.Blocked, "head", res.Head)
	}
	return nil
}

func (k *Keeper) RunRebalance(ctx context.Context) error {
	_, err := k.vault.Rebalance(ctx, k.vault.Operator())
	return err
}

func (k *Keeper) RunTimelock(ctx context.Context) error {
	if n := k.vault.ExecuteReady(ctx, k.vault.Operator()); n > 0 {
		logger.Info("keeper executed timelock operations", "count", n)
	}
	return nil
}
