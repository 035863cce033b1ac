package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/GoPolymarket/polyvault/internal/config"
	"github.com/GoPolymarket/polyvault/internal/governance"
	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyvault/internal/pkg/clock"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/GoPolymarket/polyvault/internal/pkg/metrics"
	"github.com/GoPolymarket/polyvault/internal/queue"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/GoPolymarket/polyvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// EventPublisher receives every committed vault and timelock event.
type EventPublisher interface {
	Publish(evt model.Event)
}

type Options struct {
	Clock  clock.Clock
	Store  SnapshotStore
	Events EventPublisher
}

// VaultService serializes every call into the vault, persists the state
// after each committed mutation and keeps the gauges current.
type VaultService struct {
	mu sync.Mutex

	addr     common.Address
	owner    common.Address
	operator common.Address
	mode     string
	faucet   bool
	clock    clock.Clock

	vault      *vault.Vault
	asset      *ledger.Token
	strategies map[common.Address]*strategy.Simulated
	order      []common.Address
	timelock   *governance.Timelock

	store  SnapshotStore
	events EventPublisher
}

var defaultTimelockAddress = common.BytesToAddress(crypto.Keccak256([]byte("polyvault.timelock"))[12:])

func NewVaultService(ctx context.Context, cfg *config.Config, opts Options) (*VaultService, error) {
	addr, err := ParseAddress("vault.address", cfg.Vault.Address)
	if err != nil {
		return nil, err
	}
	owner, err := ParseAddress("auth.owner", cfg.Auth.Owner)
	if err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewMonotonic(clock.System{})
	}
	s := &VaultService{
		addr:       addr,
		owner:      owner,
		operator:   owner,
		mode:       cfg.Vault.Mode,
		faucet:     cfg.Server.Faucet,
		clock:      clk,
		asset:      ledger.NewToken(cfg.Vault.AssetSymbol, cfg.Vault.Decimals),
		strategies: make(map[common.Address]*strategy.Simulated),
		store:      opts.Store,
		events:     opts.Events,
	}
	if cfg.Keeper.Address != "" {
		if s.operator, err = ParseAddress("keeper.address", cfg.Keeper.Address); err != nil {
			return nil, err
		}
	}

	var saved *VaultState
	if s.store != nil {
		data, err := s.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load vault state: %w", err)
		}
		if data != nil {
			if saved, err = decodeState(data, s.mode); err != nil {
				return nil, err
			}
		}
	}

	params, err := paramsFromConfig(cfg, owner)
	if err != nil {
		return nil, err
	}
	alloc, specs, err := s.buildAllocator(cfg, saved)
	if err != nil {
		return nil, err
	}

	// 启用治理时 timelock 即 vault owner
	vaultOwner := owner
	if cfg.Governance.Enabled {
		lockAddr := defaultTimelockAddress
		if cfg.Governance.Address != "" {
			if lockAddr, err = ParseAddress("governance.address", cfg.Governance.Address); err != nil {
				return nil, err
			}
		}
		proposers, err := ParseAddresses("governance.proposers", cfg.Governance.Proposers)
		if err != nil {
			return nil, err
		}
		cancellers, err := ParseAddresses("governance.cancellers", cfg.Governance.Cancellers)
		if err != nil {
			return nil, err
		}
		s.timelock, err = governance.NewTimelock(governance.Config{
			Address:    lockAddr,
			Delay:      cfg.Governance.Delay,
			Proposers:  append(proposers, owner),
			Cancellers: append(cancellers, owner),
		}, clk, governance.NewVaultExecutor(lockAddr, s.runLocked))
		if err != nil {
			return nil, err
		}
		vaultOwner = lockAddr
	}

	shareSymbol := cfg.Vault.ShareSymbol
	if shareSymbol == "" {
		shareSymbol = "pv" + cfg.Vault.AssetSymbol
	}
	s.vault, err = vault.New(vault.Options{
		Address:     addr,
		Owner:       vaultOwner,
		Asset:       s.asset,
		ShareSymbol: shareSymbol,
		Decimals:    cfg.Vault.Decimals,
		Clock:       clk,
		Allocator:   alloc,
		Params:      params,
	})
	if err != nil {
		return nil, err
	}

	if saved != nil {
		if err := s.asset.Import(saved.Asset); err != nil {
			return nil, fmt.Errorf("restore asset balances: %w", err)
		}
		if err := s.vault.Restore(saved.Vault); err != nil {
			return nil, fmt.Errorf("restore vault: %w", err)
		}
		if s.timelock != nil {
			s.timelock.Restore(saved.Operations)
		}
	}

	s.vault.Subscribe(s.onEvent)
	if s.timelock != nil {
		s.timelock.Subscribe(s.onEvent)
	}

	if saved == nil {
		if err := s.bootstrap(ctx, cfg, vaultOwner, specs); err != nil {
			return nil, err
		}
		s.persist(ctx)
		logger.Info("vault initialized", "address", addr.Hex(), "mode", s.mode, "owner", vaultOwner.Hex())
	} else {
		logger.Info("vault restored", "address", addr.Hex(), "mode", s.mode, "saved_at", saved.SavedAt)
	}
	s.refreshGauges()
	return s, nil
}

func paramsFromConfig(cfg *config.Config, owner common.Address) (vault.Params, error) {
	p := vault.DefaultParams()
	p.FeeRecipient = owner
	if cfg.Vault.FeeRecipient != "" {
		r, err := ParseAddress("vault.fee_recipient", cfg.Vault.FeeRecipient)
		if err != nil {
			return p, err
		}
		p.FeeRecipient = r
	}
	limit, err := ParseAmount("vault.deposit_cap", cfg.Vault.DepositCap)
	if err != nil {
		return p, err
	}
	p.DepositCap = limit
	p.PerformanceFeeBps = cfg.Vault.PerformanceFeeBps
	p.ManagementFeeBps = cfg.Vault.ManagementFeeBps
	p.ProfitUnlockWindow = cfg.Vault.ProfitUnlockWindow
	p.MaxWithdrawDelay = cfg.Vault.MaxWithdrawDelay
	if cfg.Vault.QueueBatchSize > 0 {
		p.QueueBatchSize = cfg.Vault.QueueBatchSize
	}
	p.Breaker = cfg.Breaker
	return p, nil
}

// bootstrap grants the configured roles and registers the configured
// strategies on a fresh vault.
func (s *VaultService) bootstrap(ctx context.Context, cfg *config.Config, vaultOwner common.Address, specs []StrategySpec) error {
	grants := map[vault.Role][]string{
		vault.RoleGuardian: cfg.Auth.Guardians,
		vault.RoleKeeper:   cfg.Auth.Keepers,
	}
	if vaultOwner != s.owner {
		grants[vault.RoleGuardian] = append(grants[vault.RoleGuardian], s.owner.Hex())
		grants[vault.RoleKeeper] = append(grants[vault.RoleKeeper], s.owner.Hex())
	}
	if s.operator != s.owner {
		grants[vault.RoleKeeper] = append(grants[vault.RoleKeeper], s.operator.Hex())
	}
	for _, role := range []vault.Role{vault.RoleGuardian, vault.RoleKeeper} {
		accounts, err := ParseAddresses("auth."+string(role)+"s", grants[role])
		if err != nil {
			return err
		}
		for _, a := range accounts {
			if s.vault.HasRole(role, a) {
				continue
			}
			if err := s.vault.GrantRole(ctx, vaultOwner, role, a); err != nil {
				return fmt.Errorf("grant %s to %s: %w", role, a.Hex(), err)
			}
		}
	}
	if s.mode == "multi" {
		for _, spec := range specs {
			if err := s.vault.AddStrategy(ctx, vaultOwner, s.strategies[spec.Address], spec.TargetBps, spec.MaxDebt); err != nil {
				return fmt.Errorf("add strategy %s: %w", spec.Name, err)
			}
		}
	}
	return nil
}

// runLocked is the timelock's path into the vault. It only runs inside
// ExecuteProposal, which already holds s.mu.
func (s *VaultService) runLocked(ctx context.Context, fn func(context.Context, *vault.Vault) error) error {
	return fn(ctx, s.vault)
}

// mutate runs fn under the service lock and commits the result.
func (s *VaultService) mutate(ctx context.Context, op string, actor common.Address, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(ctx); err != nil {
		metrics.OperationsTotal.WithLabelValues(op, "error").Inc()
		metrics.Rejections.WithLabelValues(string(apperrors.Wrap(err).Type)).Inc()
		logger.Debug("vault operation rejected", "op", op, "actor", actor.Hex(), "error", err)
		return err
	}
	metrics.OperationsTotal.WithLabelValues(op, "ok").Inc()
	s.persist(ctx)
	s.refreshGauges()
	logger.Info("vault operation committed", "op", op, "actor", actor.Hex())
	return nil
}

// persist 失败只记日志，内存状态已经提交
func (s *VaultService) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(s.exportState())
	if err != nil {
		logger.LogError(ctx, err, "encode vault state")
		return
	}
	if err := s.store.Save(ctx, data); err != nil {
		logger.LogError(ctx, err, "persist vault state")
	}
}

func (s *VaultService) onEvent(evt model.Event) {
	switch evt.Type {
	case model.EventFeeMinted:
		metrics.FeeShares.WithLabelValues(evt.Data["kind"]).Add(s.whole(evt.Data["shares"]))
	case model.EventHarvest:
		metrics.HarvestResult.WithLabelValues("profit").Add(s.whole(evt.Data["profit"]))
		metrics.HarvestResult.WithLabelValues("loss").Add(s.whole(evt.Data["loss"]))
	case model.EventViolation:
		metrics.BreakerViolations.WithLabelValues(evt.Data["reason"]).Inc()
		logger.Warn("circuit breaker violation", "reason", evt.Data["reason"], "count", evt.Data["count"])
	}
	if s.events != nil {
		s.events.Publish(evt)
	}
}

func (s *VaultService) whole(raw string) float64 {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0
	}
	return d.Shift(-s.asset.Decimals()).InexactFloat64()
}

func (s *VaultService) refreshGauges() {
	exp := -s.asset.Decimals()
	metrics.TotalAssets.Set(s.vault.TotalAssets().Shift(exp).InexactFloat64())
	metrics.LockedProfit.Set(s.vault.LockedProfit().Shift(exp).InexactFloat64())
	metrics.SharePrice.Set(s.vault.PricePerShare().InexactFloat64())
	metrics.QueuePending.Set(float64(s.vault.PendingCount()))
	if s.vault.Paused() {
		metrics.Paused.Set(1)
	} else {
		metrics.Paused.Set(0)
	}
}

// Address is the vault address, also the EIP-712 verifying contract.
func (s *VaultService) Address() common.Address { return s.addr }

// Operator is the account the keeper acts as.
func (s *VaultService) Operator() common.Address { return s.operator }

func (s *VaultService) Mode() string { return s.mode }

func (s *VaultService) GovernanceEnabled() bool { return s.timelock != nil }

// HasRole reports whether account holds role.
func (s *VaultService) HasRole(role vault.Role, account common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.HasRole(role, account)
}

func receiverOr(field, raw string, fallback common.Address) (common.Address, error) {
	if raw == "" {
		return fallback, nil
	}
	return ParseAddress(field, raw)
}

func (s *VaultService) Deposit(ctx context.Context, caller common.Address, req model.DepositRequest) (decimal.Decimal, error) {
	amount, err := ParseAmount("amount", req.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	minShares, err := ParseAmount("min_shares", req.MinShares)
	if err != nil {
		return decimal.Zero, err
	}
	receiver, err := receiverOr("receiver", req.Receiver, caller)
	if err != nil {
		return decimal.Zero, err
	}
	var shares decimal.Decimal
	err = s.mutate(ctx, "deposit", caller, func(ctx context.Context) error {
		shares, err = s.vault.Deposit(ctx, caller, amount, receiver, minShares)
		return err
	})
	return shares, err
}

func (s *VaultService) Mint(ctx context.Context, caller common.Address, req model.MintRequest) (decimal.Decimal, error) {
	shares, err := ParseAmount("shares", req.Shares)
	if err != nil {
		return decimal.Zero, err
	}
	maxAssets, err := ParseAmount("max_assets", req.MaxAssets)
	if err != nil {
		return decimal.Zero, err
	}
	receiver, err := receiverOr("receiver", req.Receiver, caller)
	if err != nil {
		return decimal.Zero, err
	}
	var cost decimal.Decimal
	err = s.mutate(ctx, "mint", caller, func(ctx context.Context) error {
		cost, err = s.vault.Mint(ctx, caller, shares, receiver, maxAssets)
		return err
	})
	return cost, err
}

func (s *VaultService) exitRequest(caller common.Address, req model.ExitRequest) (vault.ExitRequest, error) {
	amount, err := ParseAmount("amount", req.Amount)
	if err != nil {
		return vault.ExitRequest{}, err
	}
	owner, err := receiverOr("owner", req.Owner, caller)
	if err != nil {
		return vault.ExitRequest{}, err
	}
	receiver, err := receiverOr("receiver", req.Receiver, caller)
	if err != nil {
		return vault.ExitRequest{}, err
	}
	return vault.ExitRequest{Caller: caller, Owner: owner, Receiver: receiver, Amount: amount, MaxLossBps: req.MaxLossBps}, nil
}

// Withdraw queues an exit for a number of assets.
func (s *VaultService) Withdraw(ctx context.Context, caller common.Address, req model.ExitRequest) (queue.Request, error) {
	exit, err := s.exitRequest(caller, req)
	if err != nil {
		return queue.Request{}, err
	}
	var out queue.Request
	err = s.mutate(ctx, "withdraw", caller, func(ctx context.Context) error {
		out, err = s.vault.Withdraw(ctx, exit)
		return err
	})
	return out, err
}

// Redeem queues an exit for a number of shares.
func (s *VaultService) Redeem(ctx context.Context, caller common.Address, req model.ExitRequest) (queue.Request, error) {
	exit, err := s.exitRequest(caller, req)
	if err != nil {
		return queue.Request{}, err
	}
	var out queue.Request
	err = s.mutate(ctx, "redeem", caller, func(ctx context.Context) error {
		out, err = s.vault.Redeem(ctx, exit)
		return err
	})
	return out, err
}

func (s *VaultService) EmergencyWithdraw(ctx context.Context, caller common.Address) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := s.mutate(ctx, "emergency_withdraw", caller, func(ctx context.Context) (err error) {
		paid, err = s.vault.EmergencyWithdraw(ctx, caller)
		return err
	})
	return paid, err
}

func (s *VaultService) Approve(ctx context.Context, caller common.Address, req model.ApproveRequest) error {
	spender, err := ParseAddress("spender", req.Spender)
	if err != nil {
		return err
	}
	amount, err := ParseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "approve", caller, func(ctx context.Context) error {
		return s.vault.ApproveShares(ctx, caller, spender, amount)
	})
}

func (s *VaultService) ProcessQueue(ctx context.Context, caller common.Address, maxCount int) (queue.Result, error) {
	var res queue.Result
	err := s.mutate(ctx, "process_queue", caller, func(ctx context.Context) (err error) {
		res, err = s.vault.ProcessWithdrawQueue(ctx, caller, maxCount)
		return err
	})
	return res, err
}

func (s *VaultService) Harvest(ctx context.Context, caller common.Address) (vault.HarvestResult, error) {
	var res vault.HarvestResult
	err := s.mutate(ctx, "harvest", caller, func(ctx context.Context) (err error) {
		res, err = s.vault.Harvest(ctx, caller)
		return err
	})
	if err == nil && len(res.Failed) > 0 {
		logger.Warn("harvest skipped failing strategies", "failed", len(res.Failed))
	}
	return res, err
}

func (s *VaultService) Rebalance(ctx context.Context, caller common.Address) (manager.RebalanceResult, error) {
	var res manager.RebalanceResult
	err := s.mutate(ctx, "rebalance", caller, func(ctx context.Context) (err error) {
		res, err = s.vault.Rebalance(ctx, caller)
		return err
	})
	return res, err
}

func (s *VaultService) Pause(ctx context.Context, caller common.Address) error {
	return s.mutate(ctx, "pause", caller, func(ctx context.Context) error {
		return s.vault.Pause(ctx, caller)
	})
}

func (s *VaultService) Unpause(ctx context.Context, caller common.Address) error {
	return s.mutate(ctx, "unpause", caller, func(ctx context.Context) error {
		return s.vault.Unpause(ctx, caller)
	})
}

func (s *VaultService) EmergencyPause(ctx context.Context, caller common.Address, reason string) error {
	return s.mutate(ctx, "emergency_pause", caller, func(ctx context.Context) error {
		return s.vault.EmergencyPause(ctx, caller, reason)
	})
}

func (s *VaultService) ResetBreaker(ctx context.Context, caller common.Address, resetHWM bool) error {
	return s.mutate(ctx, "reset_breaker", caller, func(ctx context.Context) error {
		return s.vault.ResetBreaker(ctx, caller, resetHWM)
	})
}

func (s *VaultService) SetFees(ctx context.Context, caller common.Address, req model.FeesRequest) error {
	return s.mutate(ctx, "set_fees", caller, func(ctx context.Context) error {
		return s.vault.SetFees(ctx, caller, req.PerformanceBps, req.ManagementBps)
	})
}

func (s *VaultService) SetDepositCap(ctx context.Context, caller common.Address, raw string) error {
	limit, err := ParseAmount("cap", raw)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "set_deposit_cap", caller, func(ctx context.Context) error {
		return s.vault.SetDepositCap(ctx, caller, limit)
	})
}

func (s *VaultService) SetFeeRecipient(ctx context.Context, caller common.Address, raw string) error {
	recipient, err := ParseAddress("address", raw)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "set_fee_recipient", caller, func(ctx context.Context) error {
		return s.vault.SetFeeRecipient(ctx, caller, recipient)
	})
}

// SetStrategy swaps the single-mode strategy, creating the adapter when the
// address is new.
func (s *VaultService) SetStrategy(ctx context.Context, caller common.Address, req model.StrategyRequest) error {
	spec, err := specFromRequest(req)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "set_strategy", caller, func(ctx context.Context) error {
		return s.withAdapter(spec, func(sim *strategy.Simulated) error {
			return s.vault.SetStrategy(ctx, caller, sim)
		})
	})
}

func (s *VaultService) AddStrategy(ctx context.Context, caller common.Address, req model.StrategyRequest) error {
	spec, err := specFromRequest(req)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "add_strategy", caller, func(ctx context.Context) error {
		return s.withAdapter(spec, func(sim *strategy.Simulated) error {
			return s.vault.AddStrategy(ctx, caller, sim, spec.TargetBps, spec.MaxDebt)
		})
	})
}

func (s *VaultService) UpdateAllocation(ctx context.Context, caller common.Address, rawAddr string, req model.AllocationRequest) error {
	addr, err := ParseAddress("address", rawAddr)
	if err != nil {
		return err
	}
	maxDebt, err := ParseAmount("max_debt", req.MaxDebt)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "update_allocation", caller, func(ctx context.Context) error {
		return s.vault.UpdateAllocation(ctx, caller, addr, req.TargetBps, maxDebt)
	})
}

func (s *VaultService) RemoveStrategy(ctx context.Context, caller common.Address, rawAddr string) error {
	addr, err := ParseAddress("address", rawAddr)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "remove_strategy", caller, func(ctx context.Context) error {
		return s.vault.RemoveStrategy(ctx, caller, addr)
	})
}

// withAdapter registers the adapter for spec and drops it again when fn
// fails and the adapter was new.
func (s *VaultService) withAdapter(spec StrategySpec, fn func(*strategy.Simulated) error) error {
	_, existed := s.strategies[spec.Address]
	sim := s.register(spec)
	if err := fn(sim); err != nil {
		if !existed {
			s.unregister(spec.Address)
		}
		return err
	}
	return nil
}

func specFromRequest(req model.StrategyRequest) (StrategySpec, error) {
	addr, err := ParseAddress("address", req.Address)
	if err != nil {
		return StrategySpec{}, err
	}
	maxDebt, err := ParseAmount("max_debt", req.MaxDebt)
	if err != nil {
		return StrategySpec{}, err
	}
	spec := StrategySpec{Name: req.Name, Address: addr, TargetBps: req.TargetBps, MaxDebt: maxDebt}
	if req.LiquidityCap != "" {
		limit, err := ParseAmount("liquidity_cap", req.LiquidityCap)
		if err != nil {
			return StrategySpec{}, err
		}
		spec.LiquidityCap = &limit
	}
	return spec, nil
}

func (s *VaultService) GrantRole(ctx context.Context, caller common.Address, req model.RoleRequest) error {
	role, account, err := parseRoleRequest(req)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "grant_role", caller, func(ctx context.Context) error {
		return s.vault.GrantRole(ctx, caller, role, account)
	})
}

func (s *VaultService) RevokeRole(ctx context.Context, caller common.Address, req model.RoleRequest) error {
	role, account, err := parseRoleRequest(req)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "revoke_role", caller, func(ctx context.Context) error {
		return s.vault.RevokeRole(ctx, caller, role, account)
	})
}

func parseRoleRequest(req model.RoleRequest) (vault.Role, common.Address, error) {
	role, err := vault.ParseRole(req.Role)
	if err != nil {
		return "", common.Address{}, err
	}
	account, err := ParseAddress("account", req.Account)
	return role, account, err
}

var errNoGovernance = fmt.Errorf("governance is disabled: %w", vault.ErrUnsupported)

func (s *VaultService) Propose(ctx context.Context, caller common.Address, req model.ProposalRequest) (governance.Operation, error) {
	if s.timelock == nil {
		return governance.Operation{}, errNoGovernance
	}
	var op governance.Operation
	err := s.mutate(ctx, "propose", caller, func(context.Context) (err error) {
		op, err = s.timelock.Schedule(caller, req.Action, req.Params)
		return err
	})
	return op, err
}

func (s *VaultService) ExecuteProposal(ctx context.Context, caller common.Address, id string) (governance.Operation, error) {
	if s.timelock == nil {
		return governance.Operation{}, errNoGovernance
	}
	var op governance.Operation
	err := s.mutate(ctx, "execute_proposal", caller, func(ctx context.Context) (err error) {
		op, err = s.timelock.Execute(ctx, caller, id)
		return err
	})
	return op, err
}

func (s *VaultService) CancelProposal(ctx context.Context, caller common.Address, id string) (governance.Operation, error) {
	if s.timelock == nil {
		return governance.Operation{}, errNoGovernance
	}
	var op governance.Operation
	err := s.mutate(ctx, "cancel_proposal", caller, func(context.Context) (err error) {
		op, err = s.timelock.Cancel(caller, id)
		return err
	})
	return op, err
}

// Proposals lists timelock operations; pendingOnly drops finished ones.
func (s *VaultService) Proposals(pendingOnly bool) ([]governance.Operation, error) {
	if s.timelock == nil {
		return nil, errNoGovernance
	}
	if pendingOnly {
		return s.timelock.Pending(), nil
	}
	return s.timelock.Export(), nil
}

// ExecuteReady runs every pending operation whose delay has passed and
// returns how many went through. Failures stay pending.
func (s *VaultService) ExecuteReady(ctx context.Context, caller common.Address) int {
	if s.timelock == nil {
		return 0
	}
	now := s.clock.Now()
	done := 0
	for _, op := range s.timelock.Pending() {
		if now.Before(op.ETA) {
			continue
		}
		if _, err := s.ExecuteProposal(ctx, caller, op.ID); err != nil {
			logger.Warn("timelock operation failed", "id", op.ID, "action", op.Action, "error", err)
			continue
		}
		done++
	}
	return done
}

var errDevOnly = fmt.Errorf("faucet and simulation are disabled: %w", vault.ErrUnsupported)

// SimulateYield moves a simulated strategy's balance up (gain) or down.
func (s *VaultService) SimulateYield(ctx context.Context, caller common.Address, req model.SimulateRequest, gain bool) error {
	if !s.faucet {
		return errDevOnly
	}
	addr, err := ParseAddress("strategy", req.Strategy)
	if err != nil {
		return err
	}
	amount, err := ParseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	op := "simulate_loss"
	if gain {
		op = "simulate_gain"
	}
	return s.mutate(ctx, op, caller, func(context.Context) error {
		if !s.vault.HasRole(vault.RoleKeeper, caller) && !s.vault.HasRole(vault.RoleOwner, caller) {
			return fmt.Errorf("%s: %w", op, vault.ErrUnauthorized)
		}
		sim, ok := s.strategies[addr]
		if !ok {
			return fmt.Errorf("strategy %s: %w", addr.Hex(), manager.ErrUnknownStrategy)
		}
		if gain {
			return sim.SimulateGain(amount)
		}
		return sim.SimulateLoss(amount)
	})
}

// Faucet mints test asset to an account.
func (s *VaultService) Faucet(ctx context.Context, req model.FaucetRequest) error {
	if !s.faucet {
		return errDevOnly
	}
	to, err := ParseAddress("address", req.Address)
	if err != nil {
		return err
	}
	amount, err := ParseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "faucet", to, func(context.Context) error {
		return s.asset.Mint(to, amount)
	})
}

func (s *VaultService) Status() vault.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.Status()
}

// Preview answers the read-only conversion ops.
func (s *VaultService) Preview(op, raw string) (model.PreviewResponse, error) {
	amount, err := ParseAmount("amount", raw)
	if err != nil {
		return model.PreviewResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out decimal.Decimal
	switch op {
	case "deposit":
		out = s.vault.PreviewDeposit(amount)
	case "mint":
		out = s.vault.PreviewMint(amount)
	case "withdraw":
		out = s.vault.PreviewWithdraw(amount)
	case "redeem":
		out = s.vault.PreviewRedeem(amount)
	case "convert_to_shares":
		out = s.vault.ConvertToShares(amount)
	case "convert_to_assets":
		out = s.vault.ConvertToAssets(amount)
	default:
		return model.PreviewResponse{}, fmt.Errorf("preview op %q: %w", op, vault.ErrInvalidArgument)
	}
	return model.PreviewResponse{Op: op, Input: amount.String(), Output: out.String()}, nil
}

func (s *VaultService) Balance(account common.Address) model.BalanceResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	shares := s.vault.BalanceOf(account)
	return model.BalanceResponse{
		Address:     account.Hex(),
		Shares:      shares.String(),
		Assets:      s.vault.ConvertToAssets(shares).String(),
		AssetWallet: s.asset.BalanceOf(account).String(),
		MaxDeposit:  s.vault.MaxDeposit().String(),
	}
}

func (s *VaultService) Queue(limit int) []queue.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.PendingRequests(limit)
}

func (s *VaultService) QueueEntry(index uint64) (queue.Request, queue.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.QueueEntry(index)
}

// QueuePosition returns the account's first pending request and how many
// requests are ahead of it.
func (s *VaultService) QueuePosition(account common.Address) (queue.Request, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.QueuePosition(account)
}

// StrategyView is an allocation joined with its adapter name.
type StrategyView struct {
	Name string `json:"name"`
	manager.StrategyInfo
}

func (s *VaultService) Strategies() []StrategyView {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := s.vault.Strategies()
	out := make([]StrategyView, 0, len(infos))
	for _, info := range infos {
		v := StrategyView{StrategyInfo: info}
		if sim, ok := s.strategies[info.Address]; ok {
			v.Name = sim.Name()
		}
		out = append(out, v)
	}
	return out
}

// Roles lists role members as hex strings, sorted.
func (s *VaultService) Roles() map[vault.Role][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[vault.Role][]string)
	for role, accounts := range s.vault.Roles() {
		for _, a := range accounts {
			out[role] = append(out[role], a.Hex())
		}
		sort.Strings(out[role])
	}
	return out
}
