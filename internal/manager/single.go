package manager

import (
	"context"
	"fmt"

	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/GoPolymarket/polyvault/internal/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Single forwards all idle capital to one strategy. Every collaborator error
// is returned to the caller so that a failed fund movement aborts the
// enclosing vault operation.
type Single struct {
	asset ledger.Asset
	vault common.Address
	strat strategy.Strategy
	debt  decimal.Decimal
}

func NewSingle(asset ledger.Asset, vault common.Address, s strategy.Strategy) *Single {
	return &Single{asset: asset, vault: vault, strat: s, debt: decimal.Zero}
}

func (m *Single) Strategy() strategy.Strategy { return m.strat }
func (m *Single) TotalDebt() decimal.Decimal  { return m.debt }

func (m *Single) UnrealizedLoss() decimal.Decimal {
	if m.strat == nil {
		return decimal.Zero
	}
	return units.SubFloor(m.debt, m.strat.CurrentBalance())
}

func (m *Single) Deploy(ctx context.Context, idle decimal.Decimal) (decimal.Decimal, error) {
	if m.strat == nil || idle.Sign() <= 0 {
		return decimal.Zero, nil
	}
	if err := invest(ctx, m.asset, m.vault, m.strat, idle); err != nil {
		return decimal.Zero, err
	}
	m.debt = m.debt.Add(idle)
	return idle, nil
}

func (m *Single) Pull(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if m.strat == nil || amount.Sign() <= 0 {
		return decimal.Zero, nil
	}
	got, err := m.strat.Withdraw(ctx, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("withdraw from %s: %w", m.strat.Address().Hex(), err)
	}
	m.debt = units.SubFloor(m.debt, got)
	return got, nil
}

func (m *Single) PullBestEffort(ctx context.Context, amount decimal.Decimal) decimal.Decimal {
	got, err := m.Pull(ctx, amount)
	if err != nil {
		logger.Warn("best-effort pull failed", "error", err, "amount", amount.String())
		return decimal.Zero
	}
	return got
}

func (m *Single) Harvest(ctx context.Context) (Report, error) {
	rep := Report{Profit: decimal.Zero, Loss: decimal.Zero}
	if m.strat == nil {
		return rep, nil
	}
	profit, loss, err := m.strat.Harvest(ctx)
	if err != nil {
		return rep, fmt.Errorf("harvest %s: %w", m.strat.Address().Hex(), err)
	}
	rep.Profit, rep.Loss = profit, loss
	m.debt = units.SubFloor(m.debt.Add(profit), loss)
	return rep, nil
}

// Migrate recalls everything from the current strategy and switches to next.
// The recalled amount is left idle for the caller to redeploy; the report
// carries any difference against the recorded debt. A capped recall keeps
// the current strategy and returns ErrIlliquid.
func (m *Single) Migrate(ctx context.Context, next strategy.Strategy) (decimal.Decimal, Report, error) {
	recalled, rep := decimal.Zero, Report{Profit: decimal.Zero, Loss: decimal.Zero}
	if m.strat != nil {
		got, err := m.strat.WithdrawAllToVault(ctx)
		if err != nil {
			return decimal.Zero, rep, fmt.Errorf("recall from %s: %w", m.strat.Address().Hex(), err)
		}
		if rep, err = recallReport(m.strat, m.debt, got); err != nil {
			m.debt = units.SubFloor(m.debt, got)
			return got, rep, err
		}
		recalled = got
	}
	m.strat = next
	m.debt = decimal.Zero
	return recalled, rep, nil
}

func (m *Single) Strategies() []StrategyInfo {
	if m.strat == nil {
		return nil
	}
	return []StrategyInfo{{
		Address:   m.strat.Address(),
		TargetBps: units.Bps,
		Debt:      m.debt,
		MaxDebt:   decimal.Zero,
		Balance:   m.strat.CurrentBalance(),
		Active:    true,
	}}
}

func (m *Single) Checkpoint() func() {
	strat, debt := m.strat, m.debt
	restores := checkpointAll(m.strat)
	return func() {
		m.strat, m.debt = strat, debt
		for _, r := range restores {
			r()
		}
	}
}

func (m *Single) Export() []DebtRecord {
	if m.strat == nil {
		return nil
	}
	return []DebtRecord{{Address: m.strat.Address(), TargetBps: units.Bps, Debt: m.debt, MaxDebt: decimal.Zero, Active: true}}
}

func (m *Single) Restore(records []DebtRecord) error {
	switch {
	case len(records) == 0:
		m.debt = decimal.Zero
		return nil
	case len(records) > 1:
		return fmt.Errorf("single allocator restore: %d records", len(records))
	case m.strat == nil || records[0].Address != m.strat.Address():
		return fmt.Errorf("restore %s: %w", records[0].Address.Hex(), ErrUnknownStrategy)
	}
	m.debt = records[0].Debt
	return nil
}
