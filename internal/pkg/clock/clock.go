package clock

import (
	"sync"
	"time"
)

// Clock is the time source the vault trusts for fee accrual, profit unlock
// and queue deadlines.
type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

// Monotonic wraps a clock so that readings never go backwards, even if the
// underlying source is adjusted.
type Monotonic struct {
	mu   sync.Mutex
	src  Clock
	last time.Time
}

func NewMonotonic(src Clock) *Monotonic {
	if src == nil {
		src = System{}
	}
	return &Monotonic{src: src}
}

func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.src.Now()
	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}
