package governance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownOperation = errors.New("unknown timelock operation")
	ErrNotReady         = errors.New("timelock operation not ready")
	ErrAlreadyDone      = errors.New("timelock operation already executed or cancelled")
	ErrNotProposer      = errors.New("caller may not propose or cancel")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
)

// Operation is a privileged vault call waiting out the delay.
type Operation struct {
	ID          string            `json:"id"`
	Action      string            `json:"action"`
	Params      map[string]string `json:"params,omitempty"`
	Proposer    common.Address    `json:"proposer"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	ETA         time.Time         `json:"eta"`
	Status      Status            `json:"status"`
	DoneAt      time.Time         `json:"done_at,omitempty"`
	DoneBy      common.Address    `json:"done_by,omitempty"`
}

// Executor turns an operation into the vault call it stands for. Validate
// runs at schedule time so malformed proposals fail early.
type Executor interface {
	Validate(op Operation) error
	Execute(ctx context.Context, op Operation) error
}

type Config struct {
	Address    common.Address
	Delay      time.Duration
	Proposers  []common.Address
	Cancellers []common.Address
}

// Timelock holds privileged operations for Delay before anyone may execute
// them. The timelock address itself is the vault owner.
type Timelock struct {
	mu         sync.Mutex
	addr       common.Address
	delay      time.Duration
	clock      clock.Clock
	exec       Executor
	proposers  map[common.Address]bool
	cancellers map[common.Address]bool
	ops        map[string]*Operation
	seq        uint64
	listeners  []func(model.Event)
}

func NewTimelock(cfg Config, clk clock.Clock, exec Executor) (*Timelock, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("timelock address is required")
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("negative timelock delay %s", cfg.Delay)
	}
	if exec == nil {
		return nil, fmt.Errorf("timelock executor is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	t := &Timelock{
		addr:       cfg.Address,
		delay:      cfg.Delay,
		clock:      clk,
		exec:       exec,
		proposers:  make(map[common.Address]bool),
		cancellers: make(map[common.Address]bool),
		ops:        make(map[string]*Operation),
	}
	for _, a := range cfg.Proposers {
		t.proposers[a] = true
		t.cancellers[a] = true
	}
	for _, a := range cfg.Cancellers {
		t.cancellers[a] = true
	}
	return t, nil
}

func (t *Timelock) Address() common.Address { return t.addr }
func (t *Timelock) Delay() time.Duration    { return t.delay }

func (t *Timelock) Subscribe(fn func(model.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Schedule queues action with ETA = now + delay.
func (t *Timelock) Schedule(proposer common.Address, action string, params map[string]string) (Operation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.proposers[proposer] {
		return Operation{}, fmt.Errorf("schedule by %s: %w", proposer.Hex(), ErrNotProposer)
	}
	now := t.clock.Now()
	op := Operation{
		ID:          uuid.NewString(),
		Action:      action,
		Params:      copyParams(params),
		Proposer:    proposer,
		ScheduledAt: now,
		ETA:         now.Add(t.delay),
		Status:      StatusPending,
	}
	if err := t.exec.Validate(op); err != nil {
		return Operation{}, err
	}
	t.ops[op.ID] = &op
	t.notify(model.EventScheduled, proposer, op)
	return op, nil
}

// Execute runs a pending operation once its ETA has passed. Anyone may
// execute. A failed execution leaves the operation pending.
func (t *Timelock) Execute(ctx context.Context, caller common.Address, id string) (Operation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, err := t.pending(id)
	if err != nil {
		return Operation{}, err
	}
	now := t.clock.Now()
	if now.Before(op.ETA) {
		return *op, fmt.Errorf("operation %s executable at %s: %w", id, op.ETA.Format(time.RFC3339), ErrNotReady)
	}
	if err := t.exec.Execute(ctx, *op); err != nil {
		return *op, fmt.Errorf("execute %s (%s): %w", id, op.Action, err)
	}
	op.Status, op.DoneAt, op.DoneBy = StatusExecuted, now, caller
	t.notify(model.EventExecuted, caller, *op)
	return *op, nil
}

func (t *Timelock) Cancel(caller common.Address, id string) (Operation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancellers[caller] {
		return Operation{}, fmt.Errorf("cancel by %s: %w", caller.Hex(), ErrNotProposer)
	}
	op, err := t.pending(id)
	if err != nil {
		return Operation{}, err
	}
	op.Status, op.DoneAt, op.DoneBy = StatusCancelled, t.clock.Now(), caller
	t.notify(model.EventCancelled, caller, *op)
	return *op, nil
}

func (t *Timelock) Get(id string) (Operation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok {
		return Operation{}, fmt.Errorf("operation %s: %w", id, ErrUnknownOperation)
	}
	return *op, nil
}

// Pending lists operations not yet executed or cancelled, oldest first.
func (t *Timelock) Pending() []Operation {
	return t.list(func(op *Operation) bool { return op.Status == StatusPending })
}

// Export returns every operation for persistence.
func (t *Timelock) Export() []Operation {
	return t.list(func(*Operation) bool { return true })
}

func (t *Timelock) Restore(ops []Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = make(map[string]*Operation, len(ops))
	t.seq = 0
	for i := range ops {
		op := ops[i]
		t.ops[op.ID] = &op
		// one event for scheduling, one for the outcome
		t.seq++
		if op.Status != StatusPending {
			t.seq++
		}
	}
}

func (t *Timelock) list(keep func(*Operation) bool) []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Operation, 0, len(t.ops))
	for _, op := range t.ops {
		if keep(op) {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

func (t *Timelock) pending(id string) (*Operation, error) {
	op, ok := t.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, ErrUnknownOperation)
	}
	if op.Status != StatusPending {
		return nil, fmt.Errorf("operation %s is %s: %w", id, op.Status, ErrAlreadyDone)
	}
	return op, nil
}

// notify runs under t.mu; listeners must not call back into the timelock.
func (t *Timelock) notify(typ model.EventType, actor common.Address, op Operation) {
	t.seq++
	data := copyParams(op.Params)
	data["operation_id"] = op.ID
	data["action"] = op.Action
	data["eta"] = op.ETA.Format(time.RFC3339)
	e := model.Event{
		ID:        uuid.NewString(),
		Seq:       t.seq,
		Source:    model.SourceTimelock,
		Type:      typ,
		Actor:     actor.Hex(),
		Before:    decimal.Zero,
		After:     decimal.Zero,
		Data:      data,
		CreatedAt: t.clock.Now(),
	}
	for _, fn := range t.listeners {
		fn(e)
	}
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	return out
}
