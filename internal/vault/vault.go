// Package vault is the pooled vault core. It owns the share ledger, the
// withdrawal queue and the circuit breaker, and orchestrates the allocator,
// fee engine and profit lock on every mutating call.
//
// A Vault is not safe for concurrent use. Callers serialize access (see
// service.VaultService); the vault itself only guards against re-entry.
package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/fee"
	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/clock"
	"github.com/GoPolymarket/polyvault/internal/queue"
	"github.com/GoPolymarket/polyvault/internal/risk"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrUnauthorized    = errors.New("caller lacks required role")
	ErrPaused          = errors.New("vault is paused")
	ErrSlippage        = errors.New("slippage bound exceeded")
	ErrReentrant       = errors.New("reentrant call")
	ErrDepositCap      = errors.New("deposit cap exceeded")
	ErrStrategyFailure = errors.New("strategy call failed")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrZeroAddress     = errors.New("zero address")
	ErrUnsupported     = errors.New("operation not supported by allocator")
	ErrFeeTooHigh      = fee.ErrFeeTooHigh
)

type Role string

const (
	RoleOwner    Role = "owner"
	RoleGuardian Role = "guardian"
	RoleKeeper   Role = "keeper"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleOwner, RoleGuardian, RoleKeeper:
		return r, nil
	}
	return "", fmt.Errorf("role %q: %w", s, ErrInvalidArgument)
}

// Params are the tunable vault parameters.
type Params struct {
	FeeRecipient       common.Address  `json:"fee_recipient"`
	PerformanceFeeBps  int64           `json:"performance_fee_bps"`
	ManagementFeeBps   int64           `json:"management_fee_bps"`
	DepositCap         decimal.Decimal `json:"deposit_cap"` // zero means unlimited
	ProfitUnlockWindow time.Duration   `json:"profit_unlock_window"`
	MaxWithdrawDelay   time.Duration   `json:"max_withdraw_delay"`
	QueueBatchSize     int             `json:"queue_batch_size"`
	Breaker            risk.Config     `json:"breaker"`
}

func DefaultParams() Params {
	return Params{
		PerformanceFeeBps:  2000,
		ManagementFeeBps:   200,
		DepositCap:         decimal.Zero,
		ProfitUnlockWindow: 6 * time.Hour,
		MaxWithdrawDelay:   72 * time.Hour,
		QueueBatchSize:     queue.DefaultBatchSize,
		Breaker:            risk.DefaultConfig(),
	}
}

type Options struct {
	Address     common.Address
	Owner       common.Address
	Asset       ledger.Asset
	ShareSymbol string
	Decimals    int32
	Clock       clock.Clock
	Allocator   manager.Allocator
	Params      Params
}

// state holds every scalar the vault mutates so that a failed call can be
// rolled back by value.
type state struct {
	fees         fee.Engine
	feeRecipient common.Address
	depositCap   decimal.Decimal
	maxDelay     time.Duration
	paused       bool
	lock         ProfitLock
	lastAccrual  time.Time
	seq          uint64
	roles        map[Role]map[common.Address]bool
}

type Vault struct {
	addr     common.Address
	asset    ledger.Asset
	shares   *ledger.Token
	decimals int32
	clock    clock.Clock
	alloc    manager.Allocator
	queue    *queue.Queue
	breaker  *risk.Breaker
	st       state

	entered   bool
	now       time.Time
	pending   []model.Event
	listeners []func(model.Event)
}

func New(opts Options) (*Vault, error) {
	if opts.Address == (common.Address{}) || opts.Owner == (common.Address{}) {
		return nil, fmt.Errorf("vault or owner address: %w", ErrZeroAddress)
	}
	if opts.Asset == nil || opts.Allocator == nil {
		return nil, fmt.Errorf("asset and allocator are required: %w", ErrInvalidArgument)
	}
	p := opts.Params
	if p.FeeRecipient == (common.Address{}) {
		return nil, fmt.Errorf("fee recipient: %w", ErrZeroAddress)
	}
	fees, err := fee.New(p.PerformanceFeeBps, p.ManagementFeeBps)
	if err != nil {
		return nil, err
	}
	if p.DepositCap.Sign() < 0 || p.ProfitUnlockWindow < 0 || p.MaxWithdrawDelay < 0 {
		return nil, fmt.Errorf("negative cap or window: %w", ErrInvalidArgument)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewMonotonic(clock.System{})
	}
	now := clk.Now()
	breaker, err := risk.NewBreaker(p.Breaker, now)
	if err != nil {
		return nil, err
	}
	symbol := opts.ShareSymbol
	if symbol == "" {
		symbol = "pv" + opts.Asset.Symbol()
	}

	v := &Vault{
		addr:     opts.Address,
		asset:    opts.Asset,
		shares:   ledger.NewToken(symbol, opts.Decimals),
		decimals: opts.Decimals,
		clock:    clk,
		alloc:    opts.Allocator,
		queue:    queue.New(p.QueueBatchSize),
		breaker:  breaker,
		st: state{
			fees:         fees,
			feeRecipient: p.FeeRecipient,
			depositCap:   p.DepositCap,
			maxDelay:     p.MaxWithdrawDelay,
			lock:         ProfitLock{Locked: decimal.Zero, Remaining: decimal.Zero, LastReport: now, Window: p.ProfitUnlockWindow},
			lastAccrual:  now,
			roles: map[Role]map[common.Address]bool{
				RoleOwner:    {opts.Owner: true},
				RoleGuardian: {opts.Owner: true},
				RoleKeeper:   {opts.Owner: true},
			},
		},
	}
	return v, nil
}

func (v *Vault) Address() common.Address         { return v.addr }
func (v *Vault) Asset() ledger.Asset             { return v.asset }
func (v *Vault) Shares() *ledger.Token           { return v.shares }
func (v *Vault) Allocator() manager.Allocator    { return v.alloc }
func (v *Vault) Decimals() int32                 { return v.decimals }
func (v *Vault) Clock() clock.Clock              { return v.clock }
func (v *Vault) Paused() bool                    { return v.st.paused }
func (v *Vault) BreakerState() risk.State        { return v.breaker.State() }
func (v *Vault) BreakerConfig() risk.Config      { return v.breaker.Config() }
func (v *Vault) FeeEngine() fee.Engine           { return v.st.fees }
func (v *Vault) FeeRecipient() common.Address    { return v.st.feeRecipient }
func (v *Vault) DepositCap() decimal.Decimal     { return v.st.depositCap }
func (v *Vault) MaxWithdrawDelay() time.Duration { return v.st.maxDelay }

// Subscribe registers fn to receive committed events in order.
func (v *Vault) Subscribe(fn func(model.Event)) {
	v.listeners = append(v.listeners, fn)
}

func (v *Vault) Params() Params {
	return Params{
		FeeRecipient:       v.st.feeRecipient,
		PerformanceFeeBps:  v.st.fees.PerformanceBps,
		ManagementFeeBps:   v.st.fees.ManagementBps,
		DepositCap:         v.st.depositCap,
		ProfitUnlockWindow: v.st.lock.Window,
		MaxWithdrawDelay:   v.st.maxDelay,
		QueueBatchSize:     v.queue.BatchSize(),
		Breaker:            v.breaker.Config(),
	}
}

func (v *Vault) HasRole(role Role, account common.Address) bool {
	return v.st.roles[role][account]
}

func (v *Vault) require(caller common.Address, roles ...Role) error {
	for _, r := range roles {
		if v.HasRole(r, caller) {
			return nil
		}
	}
	return fmt.Errorf("%s needs %v: %w", caller.Hex(), roles, ErrUnauthorized)
}

func (v *Vault) requireActive() error {
	if v.st.paused {
		return ErrPaused
	}
	return nil
}

func cloneRoles(in map[Role]map[common.Address]bool) map[Role]map[common.Address]bool {
	out := make(map[Role]map[common.Address]bool, len(in))
	for r, m := range in {
		cp := make(map[common.Address]bool, len(m))
		for k, ok := range m {
			cp[k] = ok
		}
		out[r] = cp
	}
	return out
}
