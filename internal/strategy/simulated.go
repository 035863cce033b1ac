package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type Op string

const (
	OpInvest   Op = "invest"
	OpWithdraw Op = "withdraw"
	OpHarvest  Op = "harvest"
)

var ErrInjected = errors.New("simulated strategy failure")

// Simulated keeps its funds in the asset ledger under its own address.
// Yield and losses are injected by minting or burning that balance, which
// makes it the reference adapter for tests, demos and the daemon.
type Simulated struct {
	mu           sync.Mutex
	name         string
	address      common.Address
	vault        common.Address
	asset        *ledger.Token
	lastReported decimal.Decimal
	liquidityCap *decimal.Decimal
	failNext     map[Op]bool

	// OnCall runs at the start of every mutating call. Tests use it to
	// simulate a collaborator calling back into the vault.
	OnCall func(ctx context.Context, op Op)
}

func NewSimulated(name string, address, vault common.Address, asset *ledger.Token) *Simulated {
	return &Simulated{
		name:         name,
		address:      address,
		vault:        vault,
		asset:        asset,
		lastReported: decimal.Zero,
		failNext:     make(map[Op]bool),
	}
}

func (s *Simulated) Name() string            { return s.name }
func (s *Simulated) Address() common.Address { return s.address }

func (s *Simulated) CurrentBalance() decimal.Decimal {
	return s.asset.BalanceOf(s.address)
}

func (s *Simulated) Invest(ctx context.Context, amount decimal.Decimal) error {
	if err := s.enter(ctx, OpInvest); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReported = s.lastReported.Add(amount)
	return nil
}

func (s *Simulated) Withdraw(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := s.enter(ctx, OpWithdraw); err != nil {
		return decimal.Zero, err
	}
	return s.release(amount)
}

func (s *Simulated) WithdrawAllToVault(ctx context.Context) (decimal.Decimal, error) {
	if err := s.enter(ctx, OpWithdraw); err != nil {
		return decimal.Zero, err
	}
	got, err := s.release(s.CurrentBalance())
	if err != nil {
		return got, err
	}
	// 全部取回后重置基线，避免重新启用时重复报告亏损
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asset.BalanceOf(s.address).IsZero() {
		s.lastReported = decimal.Zero
	}
	return got, nil
}

func (s *Simulated) Harvest(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	if err := s.enter(ctx, OpHarvest); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.asset.BalanceOf(s.address)
	profit := units.SubFloor(current, s.lastReported)
	loss := units.SubFloor(s.lastReported, current)
	s.lastReported = current
	return profit, loss, nil
}

// SimulateGain credits yield to the strategy balance.
func (s *Simulated) SimulateGain(amount decimal.Decimal) error {
	return s.asset.Mint(s.address, amount)
}

// SimulateLoss destroys part of the strategy balance.
func (s *Simulated) SimulateLoss(amount decimal.Decimal) error {
	return s.asset.Burn(s.address, amount)
}

// SetLiquidityCap bounds how much a single withdraw call can return. A
// negative cap removes the bound.
func (s *Simulated) SetLiquidityCap(limit decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit.Sign() < 0 {
		s.liquidityCap = nil
		return
	}
	s.liquidityCap = &limit
}

// FailNext makes the next call of op return ErrInjected.
func (s *Simulated) FailNext(op Op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = true
}

func (s *Simulated) Checkpoint() func() {
	s.mu.Lock()
	last := s.lastReported
	var limit *decimal.Decimal
	if s.liquidityCap != nil {
		v := *s.liquidityCap
		limit = &v
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastReported = last
		s.liquidityCap = limit
	}
}

func (s *Simulated) enter(ctx context.Context, op Op) error {
	if caller, ok := CallerFrom(ctx); ok && caller != s.vault {
		return fmt.Errorf("%s %s by %s: %w", s.name, op, caller.Hex(), ErrUnauthorizedVault)
	}
	if s.OnCall != nil {
		s.OnCall(ctx, op)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext[op] {
		delete(s.failNext, op)
		return fmt.Errorf("%s %s: %w", s.name, op, ErrInjected)
	}
	return nil
}

func (s *Simulated) release(amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := units.Min(amount, s.asset.BalanceOf(s.address))
	if s.liquidityCap != nil {
		out = units.Min(out, *s.liquidityCap)
	}
	if out.Sign() <= 0 {
		return decimal.Zero, nil
	}
	if err := s.asset.Transfer(s.address, s.vault, out); err != nil {
		return decimal.Zero, err
	}
	s.lastReported = units.SubFloor(s.lastReported, out)
	return out, nil
}

// SimulatedState is the persisted part of a Simulated adapter. The balance
// itself lives in the asset ledger.
type SimulatedState struct {
	Name         string           `json:"name"`
	Address      common.Address   `json:"address"`
	LastReported decimal.Decimal  `json:"last_reported"`
	LiquidityCap *decimal.Decimal `json:"liquidity_cap,omitempty"`
}

func (s *Simulated) Export() SimulatedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SimulatedState{Name: s.name, Address: s.address, LastReported: s.lastReported}
	if s.liquidityCap != nil {
		v := *s.liquidityCap
		st.LiquidityCap = &v
	}
	return st
}

func (s *Simulated) Import(st SimulatedState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReported = st.LastReported
	s.liquidityCap = nil
	if st.LiquidityCap != nil {
		v := *st.LiquidityCap
		s.liquidityCap = &v
	}
}
