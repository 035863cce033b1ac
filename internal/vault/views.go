package vault

import (
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/queue"
	"github.com/GoPolymarket/polyvault/internal/risk"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Status is the health view of the vault.
type Status struct {
	Address        common.Address         `json:"address"`
	Asset          string                 `json:"asset"`
	ShareSymbol    string                 `json:"share_symbol"`
	Decimals       int32                  `json:"decimals"`
	TotalAssets    decimal.Decimal        `json:"total_assets"`
	TotalSupply    decimal.Decimal        `json:"total_supply"`
	Idle           decimal.Decimal        `json:"idle"`
	TotalDebt      decimal.Decimal        `json:"total_debt"`
	UnrealizedLoss decimal.Decimal        `json:"unrealized_loss"`
	LockedProfit   decimal.Decimal        `json:"locked_profit"`
	PricePerShare  decimal.Decimal        `json:"price_per_share"`
	Paused         bool                   `json:"paused"`
	PendingCount   int                    `json:"pending_count"`
	ProcessedIndex uint64                 `json:"processed_index"`
	EscrowedShares decimal.Decimal        `json:"escrowed_shares"`
	Params         Params                 `json:"params"`
	Breaker        risk.State             `json:"breaker"`
	Strategies     []manager.StrategyInfo `json:"strategies"`
	Healthy        bool                   `json:"healthy"`
}

func (v *Vault) Status() Status {
	now := v.viewTime()
	br := v.breaker.State()
	return Status{
		Address:        v.addr,
		Asset:          v.asset.Symbol(),
		ShareSymbol:    v.shares.Symbol(),
		Decimals:       v.decimals,
		TotalAssets:    v.totalAssetsAt(now),
		TotalSupply:    v.shares.TotalSupply(),
		Idle:           v.idle(),
		TotalDebt:      v.alloc.TotalDebt(),
		UnrealizedLoss: v.alloc.UnrealizedLoss(),
		LockedProfit:   v.st.lock.LockedAt(now),
		PricePerShare:  v.pricePerShareAt(now),
		Paused:         v.st.paused,
		PendingCount:   v.queue.Pending(),
		ProcessedIndex: v.queue.Head(),
		EscrowedShares: v.queue.EscrowedShares(),
		Params:         v.Params(),
		Breaker:        br,
		Strategies:     v.alloc.Strategies(),
		Healthy:        !v.st.paused && br.ViolationCount == 0,
	}
}

func (v *Vault) PendingCount() int { return v.queue.Pending() }

func (v *Vault) QueueEntry(index uint64) (queue.Request, queue.Receipt, error) {
	return v.queue.At(index)
}

// QueuePosition finds account's first pending request and how many requests
// are ahead of it.
func (v *Vault) QueuePosition(account common.Address) (queue.Request, int, bool) {
	return v.queue.Position(account)
}

func (v *Vault) PendingRequests(limit int) []queue.Request {
	return v.queue.PendingRequests(limit)
}

func (v *Vault) Strategies() []manager.StrategyInfo { return v.alloc.Strategies() }

func (v *Vault) Roles() map[Role][]common.Address {
	out := make(map[Role][]common.Address, len(v.st.roles))
	for r, m := range v.st.roles {
		for addr, ok := range m {
			if ok {
				out[r] = append(out[r], addr)
			}
		}
	}
	return out
}
