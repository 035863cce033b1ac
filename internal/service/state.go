package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/GoPolymarket/polyvault/internal/config"
	"github.com/GoPolymarket/polyvault/internal/governance"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/GoPolymarket/polyvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

const stateVersion = 1

// SnapshotStore persists the service state document. Load returns nil data
// when nothing has been saved yet.
type SnapshotStore interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// VaultState 是每次提交后落盘的完整状态：vault 快照、模拟资产余额、
// 模拟策略以及 timelock 队列。
type VaultState struct {
	Version    int                        `json:"version"`
	Mode       string                     `json:"mode"`
	Vault      vault.Snapshot             `json:"vault"`
	Asset      map[string]decimal.Decimal `json:"asset"`
	Strategies []strategy.SimulatedState  `json:"strategies"`
	Operations []governance.Operation     `json:"operations,omitempty"`
	SavedAt    time.Time                  `json:"saved_at"`
}

func decodeState(data []byte, mode string) (*VaultState, error) {
	var st VaultState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode vault state: %w", err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("vault state version %d: %w", st.Version, vault.ErrUnsupported)
	}
	if st.Mode != mode {
		return nil, fmt.Errorf("vault state is %s mode, config says %s: %w", st.Mode, mode, vault.ErrInvalidArgument)
	}
	return &st, nil
}

func (s *VaultService) exportState() VaultState {
	st := VaultState{
		Version: stateVersion,
		Mode:    s.mode,
		Vault:   s.vault.Snapshot(),
		Asset:   s.asset.Export(),
		SavedAt: s.clock.Now(),
	}
	for _, addr := range s.order {
		st.Strategies = append(st.Strategies, s.strategies[addr].Export())
	}
	if s.timelock != nil {
		st.Operations = s.timelock.Export()
	}
	return st
}

// StrategySpec describes a simulated strategy adapter to register.
type StrategySpec struct {
	Name         string
	Address      common.Address
	TargetBps    int64
	MaxDebt      decimal.Decimal
	LiquidityCap *decimal.Decimal
}

// defaultStrategyAddress is used when single mode starts without a
// configured strategy.
var defaultStrategyAddress = common.BytesToAddress(crypto.Keccak256([]byte("polyvault.strategy.default"))[12:])

func strategySpecs(cfgs []config.StrategyConfig) ([]StrategySpec, error) {
	out := make([]StrategySpec, 0, len(cfgs))
	for i, c := range cfgs {
		addr, err := ParseAddress(fmt.Sprintf("strategies[%d].address", i), c.Address)
		if err != nil {
			return nil, err
		}
		maxDebt, err := ParseAmount(fmt.Sprintf("strategies[%d].max_debt", i), c.MaxDebt)
		if err != nil {
			return nil, err
		}
		spec := StrategySpec{Name: c.Name, Address: addr, TargetBps: c.TargetBps, MaxDebt: maxDebt}
		if c.LiquidityCap != "" {
			limit, err := ParseAmount(fmt.Sprintf("strategies[%d].liquidity_cap", i), c.LiquidityCap)
			if err != nil {
				return nil, err
			}
			spec.LiquidityCap = &limit
		}
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("sim-%d", i+1)
		}
		out = append(out, spec)
	}
	return out, nil
}

// buildAllocator creates the simulated strategies and the allocator. With a
// saved state the strategies come from the state, otherwise from config.
func (s *VaultService) buildAllocator(cfg *config.Config, saved *VaultState) (manager.Allocator, []StrategySpec, error) {
	var specs []StrategySpec
	if saved != nil {
		for _, st := range saved.Strategies {
			sim := s.register(StrategySpec{Name: st.Name, Address: st.Address})
			sim.Import(st)
		}
	} else {
		var err error
		if specs, err = strategySpecs(cfg.Strategies); err != nil {
			return nil, nil, err
		}
		if len(specs) == 0 && s.mode == "single" {
			specs = []StrategySpec{{Name: "sim-default", Address: defaultStrategyAddress}}
		}
		for _, spec := range specs {
			s.register(spec)
		}
	}

	if s.mode == "single" {
		var current *strategy.Simulated
		if saved != nil && len(saved.Vault.Allocations) > 0 {
			current = s.strategies[saved.Vault.Allocations[0].Address]
		} else if len(s.order) > 0 {
			current = s.strategies[s.order[0]]
		}
		if current == nil {
			return nil, nil, fmt.Errorf("single mode has no strategy: %w", vault.ErrInvalidArgument)
		}
		return manager.NewSingle(s.asset, s.addr, current), nil, nil
	}

	mgr := manager.NewStrategyManager(s.asset, s.addr, manager.Config{
		MaxStrategies:     cfg.Manager.MaxStrategies,
		MinRebalanceDelay: cfg.Manager.MinRebalanceDelay,
	})
	if saved != nil {
		// 先按地址登记，权重和债务由 vault.Restore 回填
		for _, addr := range s.order {
			mgr.Register(s.strategies[addr])
		}
		return mgr, nil, nil
	}
	// 新启动时由 bootstrap 通过 vault.AddStrategy 登记
	return mgr, specs, nil
}

// register returns the adapter for spec.Address, creating it on first use.
func (s *VaultService) register(spec StrategySpec) *strategy.Simulated {
	if sim, ok := s.strategies[spec.Address]; ok {
		if spec.LiquidityCap != nil {
			sim.SetLiquidityCap(*spec.LiquidityCap)
		}
		return sim
	}
	sim := strategy.NewSimulated(spec.Name, spec.Address, s.addr, s.asset)
	if spec.LiquidityCap != nil {
		sim.SetLiquidityCap(*spec.LiquidityCap)
	}
	s.strategies[spec.Address] = sim
	s.order = append(s.order, spec.Address)
	return sim
}

// unregister drops an adapter created for a call that failed.
func (s *VaultService) unregister(addr common.Address) {
	delete(s.strategies, addr)
	for i, a := range s.order {
		if a == addr {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func ParseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address: %w", field, raw, vault.ErrInvalidArgument)
	}
	return common.HexToAddress(raw), nil
}

func ParseAddresses(field string, raw []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(raw))
	for i, r := range raw {
		a, err := ParseAddress(fmt.Sprintf("%s[%d]", field, i), r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ParseAmount reads a whole base-unit amount; empty means zero.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.Sign() < 0 || !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("%s: %q is not a whole non-negative amount: %w", field, raw, vault.ErrInvalidArgument)
	}
	return d, nil
}
