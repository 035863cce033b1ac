// Package manager decides where the vault's idle capital goes. The vault
// talks to an Allocator; Single backs the single-strategy variant and
// StrategyManager the weighted multi-strategy variant.
package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownStrategy    = errors.New("unknown strategy")
	ErrDuplicateStrategy  = errors.New("strategy already registered")
	ErrRegistryFull       = errors.New("strategy registry full")
	ErrAllocationExceeded = errors.New("total target allocation above 10000 bps")
	ErrRebalanceTooSoon   = errors.New("rebalance called before minimum delay")
	ErrIlliquid           = errors.New("strategy could not return all capital")
)

// Report aggregates one harvest pass. Failed lists strategies whose harvest
// call errored and was skipped.
type Report struct {
	Profit decimal.Decimal
	Loss   decimal.Decimal
	Failed []common.Address
}

func (r Report) Net() decimal.Decimal { return r.Profit.Sub(r.Loss) }

// StrategyInfo is the read view of one registered strategy.
type StrategyInfo struct {
	Address   common.Address  `json:"address"`
	TargetBps int64           `json:"target_bps"`
	Debt      decimal.Decimal `json:"debt"`
	MaxDebt   decimal.Decimal `json:"max_debt"`
	Balance   decimal.Decimal `json:"balance"`
	Active    bool            `json:"active"`
}

// DebtRecord is the persisted part of StrategyInfo.
type DebtRecord struct {
	Address   common.Address  `json:"address"`
	TargetBps int64           `json:"target_bps"`
	Debt      decimal.Decimal `json:"debt"`
	MaxDebt   decimal.Decimal `json:"max_debt"`
	Active    bool            `json:"active"`
}

type Allocator interface {
	// TotalDebt is the capital the vault has placed with strategies, as of
	// the last harvest.
	TotalDebt() decimal.Decimal
	// UnrealizedLoss is how far live strategy balances sit below TotalDebt.
	// Unreported gains do not offset it beyond zero.
	UnrealizedLoss() decimal.Decimal
	Deploy(ctx context.Context, idle decimal.Decimal) (decimal.Decimal, error)
	Pull(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	// PullBestEffort never fails; it returns whatever could be recovered.
	PullBestEffort(ctx context.Context, amount decimal.Decimal) decimal.Decimal
	Harvest(ctx context.Context) (Report, error)
	Strategies() []StrategyInfo
	Checkpoint() func()
	Export() []DebtRecord
	Restore(records []DebtRecord) error
}

// invest moves amount from the vault to s and lets s account for it.
func invest(ctx context.Context, asset ledger.Asset, vault common.Address, s strategy.Strategy, amount decimal.Decimal) error {
	if err := asset.Transfer(vault, s.Address(), amount); err != nil {
		return fmt.Errorf("transfer to strategy %s: %w", s.Address().Hex(), err)
	}
	if err := s.Invest(ctx, amount); err != nil {
		return fmt.Errorf("invest in %s: %w", s.Address().Hex(), err)
	}
	return nil
}

// recallReport books a full recall against the recorded debt. A recall that
// leaves capital behind books nothing and fails with ErrIlliquid.
func recallReport(s strategy.Strategy, debt, got decimal.Decimal) (Report, error) {
	if left := s.CurrentBalance(); left.Sign() > 0 {
		return Report{}, fmt.Errorf("recall from %s returned %s, %s still held: %w", s.Address().Hex(), got, left, ErrIlliquid)
	}
	return Report{Profit: units.SubFloor(got, debt), Loss: units.SubFloor(debt, got)}, nil
}

func checkpointAll(ss ...strategy.Strategy) []func() {
	var out []func()
	for _, s := range ss {
		if cp, ok := s.(ledger.Checkpointer); ok {
			out = append(out, cp.Checkpoint())
		}
	}
	return out
}
