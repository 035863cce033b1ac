package vault

import (
	"time"

	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/shopspring/decimal"
)

// ProfitLock releases harvested profit linearly over Window. Locked is the
// amount at LastReport; Remaining is the amount as of the last Unlock.
type ProfitLock struct {
	Locked     decimal.Decimal `json:"locked"`
	Remaining  decimal.Decimal `json:"remaining"`
	LastReport time.Time       `json:"last_report"`
	Window     time.Duration   `json:"window"`
}

// LockedAt is the still-locked amount at now, rounded up.
func (p ProfitLock) LockedAt(now time.Time) decimal.Decimal {
	if p.Locked.Sign() <= 0 {
		return decimal.Zero
	}
	elapsed := now.Sub(p.LastReport)
	if p.Window <= 0 || elapsed >= p.Window {
		return decimal.Zero
	}
	if elapsed <= 0 {
		return p.Remaining
	}
	left := decimal.NewFromInt(int64(p.Window - elapsed))
	return units.Min(units.MulDivUp(p.Locked, left, decimal.NewFromInt(int64(p.Window))), p.Remaining)
}

// Unlock materializes the release up to now and returns the released amount.
func (p *ProfitLock) Unlock(now time.Time) decimal.Decimal {
	next := p.LockedAt(now)
	released := units.SubFloor(p.Remaining, next)
	p.Remaining = next
	if next.IsZero() {
		p.Locked = decimal.Zero
	}
	return released
}

// Lock adds profit to the still-locked remainder and restarts the window.
func (p *ProfitLock) Lock(now time.Time, profit decimal.Decimal) {
	total := p.LockedAt(now).Add(profit)
	p.Locked = total
	p.Remaining = total
	p.LastReport = now
}

// Absorb covers loss from locked profit first and returns the absorbed part.
// The release schedule keeps its clock and scales proportionally.
func (p *ProfitLock) Absorb(now time.Time, loss decimal.Decimal) decimal.Decimal {
	current := p.LockedAt(now)
	if current.Sign() <= 0 || loss.Sign() <= 0 {
		return decimal.Zero
	}
	absorbed := units.Min(loss, current)
	left := current.Sub(absorbed)
	if left.IsZero() {
		p.Locked, p.Remaining = decimal.Zero, decimal.Zero
		return absorbed
	}
	p.Locked = units.MulDivUp(p.Locked, left, current)
	p.Remaining = left
	return absorbed
}
