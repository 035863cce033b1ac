package vault

import (
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/fee"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/queue"
	"github.com/GoPolymarket/polyvault/internal/risk"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const SnapshotVersion = 1

// Snapshot is the persisted vault state. The pooled asset is external and is
// persisted by its owner.
type Snapshot struct {
	Version       int                                   `json:"version"`
	Address       common.Address                        `json:"address"`
	Seq           uint64                                `json:"seq"`
	Fees          fee.Engine                            `json:"fees"`
	FeeRecipient  common.Address                        `json:"fee_recipient"`
	DepositCap    decimal.Decimal                       `json:"deposit_cap"`
	MaxDelay      time.Duration                         `json:"max_delay"`
	Paused        bool                                  `json:"paused"`
	Lock          ProfitLock                            `json:"lock"`
	LastAccrual   time.Time                             `json:"last_accrual"`
	Roles         map[Role][]common.Address             `json:"roles"`
	Shares        map[string]decimal.Decimal            `json:"shares"`
	Allowances    map[string]map[string]decimal.Decimal `json:"allowances,omitempty"`
	Queue         queue.State                           `json:"queue"`
	Breaker       risk.State                            `json:"breaker"`
	BreakerConfig risk.Config                           `json:"breaker_config"`
	Allocations   []manager.DebtRecord                  `json:"allocations"`
	TakenAt       time.Time                             `json:"taken_at"`
}

func (v *Vault) Snapshot() Snapshot {
	return Snapshot{
		Version:       SnapshotVersion,
		Address:       v.addr,
		Seq:           v.st.seq,
		Fees:          v.st.fees,
		FeeRecipient:  v.st.feeRecipient,
		DepositCap:    v.st.depositCap,
		MaxDelay:      v.st.maxDelay,
		Paused:        v.st.paused,
		Lock:          v.st.lock,
		LastAccrual:   v.st.lastAccrual,
		Roles:         v.Roles(),
		Shares:        v.shares.Export(),
		Allowances:    v.shares.ExportAllowances(),
		Queue:         v.queue.Export(),
		Breaker:       v.breaker.State(),
		BreakerConfig: v.breaker.Config(),
		Allocations:   v.alloc.Export(),
		TakenAt:       v.clock.Now(),
	}
}

// Restore loads s into a freshly constructed vault. Strategies referenced by
// s.Allocations must already be registered with the allocator.
func (v *Vault) Restore(s Snapshot) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("snapshot version %d: %w", s.Version, ErrUnsupported)
	}
	if s.Address != v.addr {
		return fmt.Errorf("snapshot for %s, vault is %s: %w", s.Address.Hex(), v.addr.Hex(), ErrInvalidArgument)
	}
	if err := s.Fees.Validate(); err != nil {
		return err
	}
	if err := s.BreakerConfig.Validate(); err != nil {
		return err
	}
	if err := v.shares.Import(s.Shares); err != nil {
		return err
	}
	if err := v.shares.ImportAllowances(s.Allowances); err != nil {
		return err
	}
	if err := v.queue.Restore(s.Queue); err != nil {
		return err
	}
	if err := v.alloc.Restore(s.Allocations); err != nil {
		return err
	}
	roles := map[Role]map[common.Address]bool{RoleOwner: {}, RoleGuardian: {}, RoleKeeper: {}}
	for r, addrs := range s.Roles {
		if _, err := ParseRole(string(r)); err != nil {
			return err
		}
		for _, a := range addrs {
			roles[r][a] = true
		}
	}
	if len(roles[RoleOwner]) == 0 {
		return fmt.Errorf("snapshot has no owner: %w", ErrInvalidArgument)
	}
	_ = v.breaker.SetConfig(s.BreakerConfig)
	v.breaker.Restore(s.Breaker)
	v.st = state{
		fees:         s.Fees,
		feeRecipient: s.FeeRecipient,
		depositCap:   s.DepositCap,
		maxDelay:     s.MaxDelay,
		paused:       s.Paused,
		lock:         s.Lock,
		lastAccrual:  s.LastAccrual,
		seq:          s.Seq,
		roles:        roles,
	}
	return nil
}
