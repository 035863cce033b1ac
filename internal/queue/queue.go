// Package queue holds pending withdrawals in an append-only arena. Settled
// entries stay in place; a monotonic head cursor marks the processed prefix.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("withdraw request not found")

const DefaultBatchSize = 50

type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusForced  Status = "forced"
)

// Request is immutable once enqueued.
type Request struct {
	Index      uint64          `json:"index"`
	Owner      common.Address  `json:"owner"`
	Receiver   common.Address  `json:"receiver"`
	Shares     decimal.Decimal `json:"shares"`
	Assets     decimal.Decimal `json:"assets"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type Receipt struct {
	Status    Status          `json:"status"`
	Paid      decimal.Decimal `json:"paid"`
	SettledAt time.Time       `json:"settled_at,omitempty"`
}

// Settler moves funds for the queue. Owed is what a request is entitled to
// right now; Pull tries to raise idle liquidity by shortfall.
type Settler interface {
	Owed(req Request) decimal.Decimal
	Available() decimal.Decimal
	Pull(ctx context.Context, shortfall decimal.Decimal) (decimal.Decimal, error)
	Settle(ctx context.Context, req Request, paid decimal.Decimal, forced bool) error
}

type Settlement struct {
	Request Request         `json:"request"`
	Paid    decimal.Decimal `json:"paid"`
	Forced  bool            `json:"forced"`
}

type Result struct {
	Settled []Settlement `json:"settled"`
	// Blocked is set when processing stopped at an underfunded request that
	// has not reached the maximum delay yet.
	Blocked bool   `json:"blocked"`
	Head    uint64 `json:"head"`
}

type Queue struct {
	entries   []Request
	receipts  []Receipt
	head      uint64
	batchSize int
}

func New(batchSize int) *Queue {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Queue{batchSize: batchSize}
}

func (q *Queue) BatchSize() int { return q.batchSize }
func (q *Queue) Head() uint64   { return q.head }
func (q *Queue) Len() uint64    { return uint64(len(q.entries)) }
func (q *Queue) Pending() int   { return len(q.entries) - int(q.head) }

func (q *Queue) Enqueue(owner, receiver common.Address, shares, assets decimal.Decimal, now time.Time) Request {
	req := Request{
		Index:      uint64(len(q.entries)),
		Owner:      owner,
		Receiver:   receiver,
		Shares:     shares,
		Assets:     assets,
		EnqueuedAt: now,
	}
	q.entries = append(q.entries, req)
	q.receipts = append(q.receipts, Receipt{Status: StatusPending, Paid: decimal.Zero})
	return req
}

func (q *Queue) At(index uint64) (Request, Receipt, error) {
	if index >= uint64(len(q.entries)) {
		return Request{}, Receipt{}, fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	return q.entries[index], q.receipts[index], nil
}

// PendingRequests returns up to limit unprocessed requests in FIFO order.
func (q *Queue) PendingRequests(limit int) []Request {
	rest := q.entries[q.head:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	out := make([]Request, len(rest))
	copy(out, rest)
	return out
}

// Position scans from the head for the first pending request of account,
// as owner or receiver. ahead is the number of requests in front of it.
func (q *Queue) Position(account common.Address) (req Request, ahead int, ok bool) {
	for i := q.head; i < uint64(len(q.entries)); i++ {
		e := q.entries[i]
		if e.Owner == account || e.Receiver == account {
			return e, int(i - q.head), true
		}
	}
	return Request{}, 0, false
}

// EscrowedShares sums the shares backing pending requests.
func (q *Queue) EscrowedShares() decimal.Decimal {
	total := decimal.Zero
	for _, e := range q.entries[q.head:] {
		total = total.Add(e.Shares)
	}
	return total
}

// Process settles pending requests in strict FIFO order, at most maxCount
// (capped to the batch size). A request younger than maxDelay that cannot be
// paid in full stops the batch; an older one is force-settled with whatever
// is available, even when pulling more liquidity fails. A pull failure is
// returned only when nothing in the batch settled.
func (q *Queue) Process(ctx context.Context, now time.Time, maxDelay time.Duration, maxCount int, s Settler) (Result, error) {
	limit := maxCount
	if limit <= 0 || limit > q.batchSize {
		limit = q.batchSize
	}
	var res Result
	for n := 0; n < limit && q.head < uint64(len(q.entries)); n++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		req := q.entries[q.head]
		owed := s.Owed(req)
		avail := s.Available()
		overdue := now.Sub(req.EnqueuedAt) > maxDelay
		if avail.LessThan(owed) {
			if _, err := s.Pull(ctx, owed.Sub(avail)); err != nil {
				if !overdue && len(res.Settled) == 0 {
					return res, fmt.Errorf("pull liquidity for request %d: %w", req.Index, err)
				}
				if !overdue {
					// 已结算的部分保留，本批在此停止
					logger.Warn("pull failed, batch stopped", "index", req.Index, "error", err)
					res.Blocked = true
					break
				}
				// 超时请求不因策略故障卡住，按现有余额强制结算
				logger.Warn("pull failed for overdue request", "index", req.Index, "error", err)
			}
			avail = s.Available()
		}

		paid, forced := owed, false
		if avail.LessThan(owed) {
			if !overdue {
				res.Blocked = true
				break
			}
			paid, forced = avail, true
		}
		if err := s.Settle(ctx, req, paid, forced); err != nil {
			return res, fmt.Errorf("settle request %d: %w", req.Index, err)
		}

		status := StatusSettled
		if forced {
			status = StatusForced
		}
		q.receipts[q.head] = Receipt{Status: status, Paid: paid, SettledAt: now}
		q.head++
		res.Settled = append(res.Settled, Settlement{Request: req, Paid: paid, Forced: forced})
	}
	res.Head = q.head
	return res, nil
}

// Checkpoint captures the arena bounds; restore drops entries appended since
// and reopens receipts settled since.
func (q *Queue) Checkpoint() func() {
	n, head := len(q.entries), q.head
	return func() {
		q.entries = q.entries[:n]
		q.receipts = q.receipts[:n]
		for i := head; i < q.head && i < uint64(n); i++ {
			q.receipts[i] = Receipt{Status: StatusPending, Paid: decimal.Zero}
		}
		q.head = head
	}
}

// State is the persisted form of the arena.
type State struct {
	Entries  []Request `json:"entries"`
	Receipts []Receipt `json:"receipts"`
	Head     uint64    `json:"head"`
}

func (q *Queue) Export() State {
	st := State{
		Entries:  make([]Request, len(q.entries)),
		Receipts: make([]Receipt, len(q.receipts)),
		Head:     q.head,
	}
	copy(st.Entries, q.entries)
	copy(st.Receipts, q.receipts)
	return st
}

func (q *Queue) Restore(st State) error {
	if len(st.Entries) != len(st.Receipts) || st.Head > uint64(len(st.Entries)) {
		return fmt.Errorf("queue state: %d entries, %d receipts, head %d", len(st.Entries), len(st.Receipts), st.Head)
	}
	q.entries = append([]Request(nil), st.Entries...)
	q.receipts = append([]Receipt(nil), st.Receipts...)
	q.head = st.Head
	return nil
}
