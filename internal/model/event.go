package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventType 状态变更通知类型
type EventType string

const (
	EventDeposit           EventType = "deposit"
	EventWithdrawRequested EventType = "withdraw_requested"
	EventWithdrawSettled   EventType = "withdraw_settled"
	EventEmergencyWithdraw EventType = "emergency_withdraw"
	EventFeeMinted         EventType = "fee_minted"
	EventHarvest           EventType = "harvest"
	EventProfitUnlocked    EventType = "profit_unlocked"
	EventPaused            EventType = "paused"
	EventUnpaused          EventType = "unpaused"
	EventViolation         EventType = "breaker_violation"
	EventBreakerReset      EventType = "breaker_reset"
	EventStrategyChanged   EventType = "strategy_changed"
	EventRebalanced        EventType = "rebalanced"
	EventParamsUpdated     EventType = "params_updated"
	EventRoleChanged       EventType = "role_changed"
	EventApproval          EventType = "approval"
	EventScheduled         EventType = "operation_scheduled"
	EventExecuted          EventType = "operation_executed"
	EventCancelled         EventType = "operation_cancelled"
)

// 事件来源，各来源的 Seq 独立递增
const (
	SourceVault    = "vault"
	SourceTimelock = "timelock"
)

// Event 是一次状态变更的通知，Before/After 为该事件的主要数量
// (例如存款前后的总资产)，细节放在 Data 中。
type Event struct {
	ID        string            `json:"id" db:"id"`
	Seq       uint64            `json:"seq" db:"seq"`
	Source    string            `json:"source" db:"source"`
	Type      EventType         `json:"type" db:"type"`
	Actor     string            `json:"actor" db:"actor"`
	Before    decimal.Decimal   `json:"before" db:"before_amount"`
	After     decimal.Decimal   `json:"after" db:"after_amount"`
	Data      map[string]string `json:"data,omitempty" db:"-"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// EventFilter 事件查询条件
type EventFilter struct {
	Source   string
	Type     EventType
	Actor    string
	AfterSeq uint64
	Limit    int
}

func (f EventFilter) Match(e Event) bool {
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Actor != "" && !strings.EqualFold(e.Actor, f.Actor) {
		return false
	}
	return e.Seq > f.AfterSeq
}
