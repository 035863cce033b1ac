// Package risk implements the vault's loss circuit breaker.
//
// The breaker only keeps bookkeeping and reports trips; pausing is applied by
// the caller so that the breaker never mutates vault state on its own.
package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/pkg/units"
	"github.com/shopspring/decimal"
)

var (
	ErrWithdrawalTooLarge = errors.New("withdrawal exceeds single-withdrawal limit")
	ErrInvalidConfig      = errors.New("invalid circuit breaker config")
)

type Reason string

const (
	ReasonLoss       Reason = "loss"
	ReasonDrawdown   Reason = "drawdown"
	ReasonStrategy   Reason = "strategy_failure"
	ReasonViolations Reason = "max_violations"
	ReasonManual     Reason = "manual"
)

// Config thresholds. A threshold <= 0 disables the corresponding check.
type Config struct {
	MaxLossBps             int64         `json:"max_loss_bps" mapstructure:"max_loss_bps"`
	MaxDrawdownBps         int64         `json:"max_drawdown_bps" mapstructure:"max_drawdown_bps"`
	MaxSingleWithdrawalBps int64         `json:"max_single_withdrawal_bps" mapstructure:"max_single_withdrawal_bps"`
	HighWaterMarkPeriod    time.Duration `json:"hwm_period" mapstructure:"hwm_period"`
	ViolationWindow        time.Duration `json:"violation_window" mapstructure:"violation_window"`
	MaxViolations          int           `json:"max_violations" mapstructure:"max_violations"`
}

func DefaultConfig() Config {
	return Config{
		MaxLossBps:             1000,
		MaxDrawdownBps:         2000,
		MaxSingleWithdrawalBps: 1000,
		HighWaterMarkPeriod:    7 * 24 * time.Hour,
		ViolationWindow:        24 * time.Hour,
		MaxViolations:          3,
	}
}

func (c Config) Validate() error {
	for name, v := range map[string]int64{
		"max_loss_bps":              c.MaxLossBps,
		"max_drawdown_bps":          c.MaxDrawdownBps,
		"max_single_withdrawal_bps": c.MaxSingleWithdrawalBps,
	} {
		if v < 0 || v > units.Bps {
			return fmt.Errorf("%s=%d: %w", name, v, ErrInvalidConfig)
		}
	}
	if c.MaxViolations < 0 || c.HighWaterMarkPeriod < 0 || c.ViolationWindow < 0 {
		return fmt.Errorf("negative period or count: %w", ErrInvalidConfig)
	}
	return nil
}

// State is the persisted breaker bookkeeping.
type State struct {
	HighWaterMark     decimal.Decimal `json:"high_water_mark"`
	LastReset         time.Time       `json:"last_reset"`
	ViolationCount    int             `json:"violation_count"`
	LastViolation     time.Time       `json:"last_violation"`
	CumulativeLosses  decimal.Decimal `json:"cumulative_losses"`
	CumulativeProfits decimal.Decimal `json:"cumulative_profits"`
}

// Trip describes a recorded violation. Pause tells the caller to pause.
type Trip struct {
	Reason Reason
	Count  int
	Pause  bool
}

type Breaker struct {
	cfg   Config
	state State
}

func NewBreaker(cfg Config, now time.Time) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Breaker{
		cfg: cfg,
		state: State{
			HighWaterMark:     decimal.Zero,
			LastReset:         now,
			CumulativeLosses:  decimal.Zero,
			CumulativeProfits: decimal.Zero,
		},
	}, nil
}

func (b *Breaker) Config() Config { return b.cfg }
func (b *Breaker) State() State   { return b.state }

// Restore replaces the bookkeeping, used by rollback and snapshot load.
func (b *Breaker) Restore(s State) { b.state = s }

// CheckLoss trips when loss/totalAssets is strictly above the max-loss
// threshold. totalAssets is the value before the loss was booked.
func (b *Breaker) CheckLoss(now time.Time, loss, totalAssets decimal.Decimal) *Trip {
	if loss.Sign() <= 0 {
		return nil
	}
	b.state.CumulativeLosses = b.state.CumulativeLosses.Add(loss)
	if b.cfg.MaxLossBps <= 0 {
		return nil
	}
	limit := decimal.NewFromInt(b.cfg.MaxLossBps).Mul(totalAssets)
	if loss.Mul(units.BpsDec).LessThanOrEqual(limit) {
		return nil
	}
	trip := b.RecordViolation(now, ReasonLoss)
	trip.Pause = true
	return trip
}

// CheckDrawdown compares value against the high-water-mark. The mark resets
// to value once the reset period has elapsed and ratchets up on new highs.
func (b *Breaker) CheckDrawdown(now time.Time, value decimal.Decimal) *Trip {
	if b.cfg.HighWaterMarkPeriod > 0 && now.Sub(b.state.LastReset) >= b.cfg.HighWaterMarkPeriod {
		b.state.HighWaterMark = value
		b.state.LastReset = now
		return nil
	}
	if value.GreaterThan(b.state.HighWaterMark) {
		b.state.HighWaterMark = value
		return nil
	}
	if b.cfg.MaxDrawdownBps <= 0 || b.state.HighWaterMark.Sign() <= 0 {
		return nil
	}
	drop := b.state.HighWaterMark.Sub(value)
	limit := decimal.NewFromInt(b.cfg.MaxDrawdownBps).Mul(b.state.HighWaterMark)
	if drop.Mul(units.BpsDec).LessThanOrEqual(limit) {
		return nil
	}
	trip := b.RecordViolation(now, ReasonDrawdown)
	trip.Pause = true
	return trip
}

// CheckWithdrawal rejects a single withdrawal above the configured fraction
// of pooled assets.
func (b *Breaker) CheckWithdrawal(amount, totalAssets decimal.Decimal) error {
	if b.cfg.MaxSingleWithdrawalBps <= 0 || totalAssets.Sign() <= 0 {
		return nil
	}
	limit := units.ApplyBps(totalAssets, b.cfg.MaxSingleWithdrawalBps)
	if amount.GreaterThan(limit) {
		return fmt.Errorf("%s > %s (%d bps of %s): %w", amount, limit, b.cfg.MaxSingleWithdrawalBps, totalAssets, ErrWithdrawalTooLarge)
	}
	return nil
}

// RecordViolation counts a violation inside the rolling window. The counter
// restarts when the previous violation is outside the window.
func (b *Breaker) RecordViolation(now time.Time, reason Reason) *Trip {
	if b.state.LastViolation.IsZero() || now.Sub(b.state.LastViolation) > b.cfg.ViolationWindow {
		b.state.ViolationCount = 0
	}
	b.state.ViolationCount++
	b.state.LastViolation = now
	trip := &Trip{Reason: reason, Count: b.state.ViolationCount}
	if b.cfg.MaxViolations > 0 && b.state.ViolationCount >= b.cfg.MaxViolations {
		trip.Pause = true
	}
	return trip
}

func (b *Breaker) RecordProfit(profit decimal.Decimal) {
	if profit.Sign() > 0 {
		b.state.CumulativeProfits = b.state.CumulativeProfits.Add(profit)
	}
}

// Reset clears the violation counter.
func (b *Breaker) Reset() {
	b.state.ViolationCount = 0
	b.state.LastViolation = time.Time{}
}

func (b *Breaker) ResetHighWaterMark(now time.Time, value decimal.Decimal) {
	b.state.HighWaterMark = value
	b.state.LastReset = now
}

// SetConfig swaps thresholds without touching bookkeeping.
func (b *Breaker) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.cfg = cfg
	return nil
}
