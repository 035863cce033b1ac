package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type Config struct {
	MaxStrategies     int           `mapstructure:"max_strategies"`
	MinRebalanceDelay time.Duration `mapstructure:"min_rebalance_delay"`
}

func DefaultConfig() Config {
	return Config{MaxStrategies: 20, MinRebalanceDelay: time.Hour}
}

// Params is the manager's record for one strategy. A zero MaxDebt means the
// strategy is only bounded by its target weight.
type Params struct {
	Strategy  strategy.Strategy
	TargetBps int64
	Debt      decimal.Decimal
	MaxDebt   decimal.Decimal
	Active    bool
}

func (p *Params) info() StrategyInfo {
	return StrategyInfo{
		Address:   p.Strategy.Address(),
		TargetBps: p.TargetBps,
		Debt:      p.Debt,
		MaxDebt:   p.MaxDebt,
		Balance:   p.Strategy.CurrentBalance(),
		Active:    p.Active,
	}
}

// target is totalAvailable*bps/10000 capped by MaxDebt.
func (p *Params) target(totalAvailable decimal.Decimal) decimal.Decimal {
	t := units.ApplyBps(totalAvailable, p.TargetBps)
	if p.MaxDebt.Sign() > 0 {
		t = units.Min(t, p.MaxDebt)
	}
	return t
}

type RebalanceResult struct {
	Pulled decimal.Decimal `json:"pulled"`
	Pushed decimal.Decimal `json:"pushed"`
}

// StrategyManager splits capital across weighted strategies. Removed
// strategies stay in the registry as inactive and can be re-added.
type StrategyManager struct {
	asset         ledger.Asset
	vault         common.Address
	cfg           Config
	registry      map[common.Address]*Params
	active        []*Params
	lastRebalance time.Time
}

func NewStrategyManager(asset ledger.Asset, vault common.Address, cfg Config) *StrategyManager {
	if cfg.MaxStrategies <= 0 {
		cfg.MaxStrategies = DefaultConfig().MaxStrategies
	}
	return &StrategyManager{
		asset:    asset,
		vault:    vault,
		cfg:      cfg,
		registry: make(map[common.Address]*Params),
	}
}

func (m *StrategyManager) Config() Config { return m.cfg }

func (m *StrategyManager) LastRebalance() time.Time { return m.lastRebalance }

func (m *StrategyManager) TotalTargetBps() int64 {
	var sum int64
	for _, p := range m.active {
		sum += p.TargetBps
	}
	return sum
}

func (m *StrategyManager) TotalDebt() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.active {
		total = total.Add(p.Debt)
	}
	return total
}

// UnrealizedLoss nets live balances against debt across active strategies.
func (m *StrategyManager) UnrealizedLoss() decimal.Decimal {
	balance := decimal.Zero
	for _, p := range m.active {
		balance = balance.Add(p.Strategy.CurrentBalance())
	}
	return units.SubFloor(m.TotalDebt(), balance)
}

// Register makes s known by address without activating it. Restore needs
// every recorded strategy registered first.
func (m *StrategyManager) Register(s strategy.Strategy) {
	if _, ok := m.registry[s.Address()]; !ok {
		m.registry[s.Address()] = &Params{Strategy: s, Debt: decimal.Zero, MaxDebt: decimal.Zero}
	}
}

func (m *StrategyManager) AddStrategy(s strategy.Strategy, targetBps int64, maxDebt decimal.Decimal) error {
	if s == nil || s.Address() == (common.Address{}) {
		return fmt.Errorf("add strategy: %w", ledger.ErrZeroAddress)
	}
	if targetBps < 0 || maxDebt.Sign() < 0 {
		return fmt.Errorf("add strategy %s: negative target or max debt: %w", s.Address().Hex(), ErrAllocationExceeded)
	}
	if len(m.active) >= m.cfg.MaxStrategies {
		return fmt.Errorf("add strategy %s (max %d): %w", s.Address().Hex(), m.cfg.MaxStrategies, ErrRegistryFull)
	}
	existing, known := m.registry[s.Address()]
	if known && existing.Active {
		return fmt.Errorf("add strategy %s: %w", s.Address().Hex(), ErrDuplicateStrategy)
	}
	if sum := m.TotalTargetBps() + targetBps; sum > units.Bps {
		return fmt.Errorf("add strategy %s: %d bps: %w", s.Address().Hex(), sum, ErrAllocationExceeded)
	}

	p := &Params{Strategy: s, TargetBps: targetBps, Debt: decimal.Zero, MaxDebt: maxDebt, Active: true}
	if known {
		existing.Strategy = s
		existing.TargetBps, existing.MaxDebt, existing.Active = targetBps, maxDebt, true
		p = existing
	}
	m.registry[s.Address()] = p
	m.active = append(m.active, p)
	return nil
}

// RemoveStrategy recalls all capital from addr, deactivates it and drops it
// from the active list by swapping with the last entry. The report books the
// recall against the recorded debt. When the strategy cannot return all of
// its capital it stays active with the remainder as debt and ErrIlliquid is
// returned.
func (m *StrategyManager) RemoveStrategy(ctx context.Context, addr common.Address) (decimal.Decimal, Report, error) {
	idx := m.indexOf(addr)
	if idx < 0 {
		return decimal.Zero, Report{}, fmt.Errorf("remove %s: %w", addr.Hex(), ErrUnknownStrategy)
	}
	p := m.active[idx]
	got, err := p.Strategy.WithdrawAllToVault(ctx)
	if err != nil {
		return decimal.Zero, Report{}, fmt.Errorf("recall from %s: %w", addr.Hex(), err)
	}
	rep, err := recallReport(p.Strategy, p.Debt, got)
	if err != nil {
		p.Debt = units.SubFloor(p.Debt, got)
		return got, rep, err
	}
	p.Debt = decimal.Zero
	p.Active = false

	last := len(m.active) - 1
	m.active[idx] = m.active[last]
	m.active[last] = nil
	m.active = m.active[:last]
	return got, rep, nil
}

func (m *StrategyManager) UpdateAllocation(addr common.Address, targetBps int64, maxDebt decimal.Decimal) error {
	idx := m.indexOf(addr)
	if idx < 0 {
		return fmt.Errorf("update %s: %w", addr.Hex(), ErrUnknownStrategy)
	}
	if targetBps < 0 || maxDebt.Sign() < 0 {
		return fmt.Errorf("update %s: negative target or max debt: %w", addr.Hex(), ErrAllocationExceeded)
	}
	p := m.active[idx]
	if sum := m.TotalTargetBps() - p.TargetBps + targetBps; sum > units.Bps {
		return fmt.Errorf("update %s: %d bps: %w", addr.Hex(), sum, ErrAllocationExceeded)
	}
	p.TargetBps, p.MaxDebt = targetBps, maxDebt
	return nil
}

// Rebalance moves every active strategy towards its target. Surpluses are
// pulled first so that the freed capital can fund deficits in the same pass.
func (m *StrategyManager) Rebalance(ctx context.Context, now time.Time, idle decimal.Decimal) (RebalanceResult, error) {
	res := RebalanceResult{Pulled: decimal.Zero, Pushed: decimal.Zero}
	if !m.lastRebalance.IsZero() && now.Sub(m.lastRebalance) < m.cfg.MinRebalanceDelay {
		return res, fmt.Errorf("next rebalance at %s: %w", m.lastRebalance.Add(m.cfg.MinRebalanceDelay).Format(time.RFC3339), ErrRebalanceTooSoon)
	}
	total := idle.Add(m.TotalDebt())

	for _, p := range m.active {
		target := p.target(total)
		if p.Debt.LessThanOrEqual(target) {
			continue
		}
		got, err := p.Strategy.Withdraw(ctx, p.Debt.Sub(target))
		if err != nil {
			return res, fmt.Errorf("rebalance pull %s: %w", p.Strategy.Address().Hex(), err)
		}
		p.Debt = units.SubFloor(p.Debt, got)
		idle = idle.Add(got)
		res.Pulled = res.Pulled.Add(got)
	}

	for _, p := range m.active {
		if idle.Sign() <= 0 {
			break
		}
		target := p.target(total)
		if p.Debt.GreaterThanOrEqual(target) {
			continue
		}
		push := units.Min(target.Sub(p.Debt), idle)
		if err := invest(ctx, m.asset, m.vault, p.Strategy, push); err != nil {
			return res, fmt.Errorf("rebalance push: %w", err)
		}
		p.Debt = p.Debt.Add(push)
		idle = idle.Sub(push)
		res.Pushed = res.Pushed.Add(push)
	}
	m.lastRebalance = now
	return res, nil
}

// HarvestAll harvests every active strategy. A failing strategy is skipped
// and listed in the report; the rest of the batch still completes.
func (m *StrategyManager) HarvestAll(ctx context.Context) Report {
	rep := Report{Profit: decimal.Zero, Loss: decimal.Zero}
	for _, p := range m.active {
		profit, loss, err := p.Strategy.Harvest(ctx)
		if err != nil {
			logger.Warn("strategy harvest skipped", "strategy", p.Strategy.Address().Hex(), "error", err)
			rep.Failed = append(rep.Failed, p.Strategy.Address())
			continue
		}
		p.Debt = units.SubFloor(p.Debt.Add(profit), loss)
		rep.Profit = rep.Profit.Add(profit)
		rep.Loss = rep.Loss.Add(loss)
	}
	return rep
}

func (m *StrategyManager) Harvest(ctx context.Context) (Report, error) {
	return m.HarvestAll(ctx), nil
}

// Deploy splits idle by target weight, bounded by each strategy's headroom.
// Weight left unallocated stays idle.
func (m *StrategyManager) Deploy(ctx context.Context, idle decimal.Decimal) (decimal.Decimal, error) {
	deployed := decimal.Zero
	if idle.Sign() <= 0 {
		return deployed, nil
	}
	for _, p := range m.active {
		amount := units.ApplyBps(idle, p.TargetBps)
		if p.MaxDebt.Sign() > 0 {
			amount = units.Min(amount, units.SubFloor(p.MaxDebt, p.Debt))
		}
		if amount.Sign() <= 0 {
			continue
		}
		if err := invest(ctx, m.asset, m.vault, p.Strategy, amount); err != nil {
			return deployed, err
		}
		p.Debt = p.Debt.Add(amount)
		deployed = deployed.Add(amount)
	}
	return deployed, nil
}

// Pull recovers up to amount, visiting strategies in list order. A strategy
// whose withdraw fails is skipped.
func (m *StrategyManager) Pull(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return m.PullBestEffort(ctx, amount), nil
}

func (m *StrategyManager) PullBestEffort(ctx context.Context, amount decimal.Decimal) decimal.Decimal {
	recovered := decimal.Zero
	for _, p := range m.active {
		left := amount.Sub(recovered)
		if left.Sign() <= 0 {
			break
		}
		ask := units.Min(left, p.Strategy.CurrentBalance())
		if ask.Sign() <= 0 {
			continue
		}
		got, err := p.Strategy.Withdraw(ctx, ask)
		if err != nil {
			logger.Warn("strategy withdraw skipped", "strategy", p.Strategy.Address().Hex(), "error", err)
			continue
		}
		p.Debt = units.SubFloor(p.Debt, got)
		recovered = recovered.Add(got)
	}
	return recovered
}

func (m *StrategyManager) Strategies() []StrategyInfo {
	out := make([]StrategyInfo, 0, len(m.active))
	for _, p := range m.active {
		out = append(out, p.info())
	}
	return out
}

// Lookup returns the registered strategy, active or not.
func (m *StrategyManager) Lookup(addr common.Address) (strategy.Strategy, bool) {
	p, ok := m.registry[addr]
	if !ok {
		return nil, false
	}
	return p.Strategy, true
}

func (m *StrategyManager) Checkpoint() func() {
	saved := make(map[common.Address]Params, len(m.registry))
	handles := make([]strategy.Strategy, 0, len(m.registry))
	for addr, p := range m.registry {
		saved[addr] = *p
		handles = append(handles, p.Strategy)
	}
	active := append([]*Params(nil), m.active...)
	last := m.lastRebalance
	restores := checkpointAll(handles...)

	return func() {
		for addr := range m.registry {
			if _, ok := saved[addr]; !ok {
				delete(m.registry, addr)
			}
		}
		for addr, v := range saved {
			if p, ok := m.registry[addr]; ok {
				*p = v
			}
		}
		m.active = active
		m.lastRebalance = last
		for _, r := range restores {
			r()
		}
	}
}

func (m *StrategyManager) Export() []DebtRecord {
	out := make([]DebtRecord, 0, len(m.registry))
	for _, p := range m.active {
		out = append(out, DebtRecord{Address: p.Strategy.Address(), TargetBps: p.TargetBps, Debt: p.Debt, MaxDebt: p.MaxDebt, Active: true})
	}
	for addr, p := range m.registry {
		if !p.Active {
			out = append(out, DebtRecord{Address: addr, TargetBps: p.TargetBps, Debt: p.Debt, MaxDebt: p.MaxDebt})
		}
	}
	return out
}

// Restore applies persisted records to strategies already registered by
// address. The active order follows the records.
func (m *StrategyManager) Restore(records []DebtRecord) error {
	active := make([]*Params, 0, len(records))
	for _, r := range records {
		p, ok := m.registry[r.Address]
		if !ok {
			return fmt.Errorf("restore %s: %w", r.Address.Hex(), ErrUnknownStrategy)
		}
		p.TargetBps, p.Debt, p.MaxDebt, p.Active = r.TargetBps, r.Debt, r.MaxDebt, r.Active
		if r.Active {
			active = append(active, p)
		}
	}
	m.active = active
	return nil
}

func (m *StrategyManager) indexOf(addr common.Address) int {
	for i, p := range m.active {
		if p.Strategy.Address() == addr {
			return i
		}
	}
	return -1
}
