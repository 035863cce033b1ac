package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newBreaker(t *testing.T, mutate func(*Config)) *Breaker {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewBreaker(cfg, t0)
	require.NoError(t, err)
	return b
}

func TestCheckLossThreshold(t *testing.T) {
	b := newBreaker(t, func(c *Config) { c.MaxLossBps = 1000 })

	// exactly 10% does not trip
	assert.Nil(t, b.CheckLoss(t0, decimal.NewFromInt(100), decimal.NewFromInt(1000)))

	trip := b.CheckLoss(t0, decimal.NewFromInt(101), decimal.NewFromInt(1000))
	require.NotNil(t, trip)
	assert.True(t, trip.Pause)
	assert.Equal(t, ReasonLoss, trip.Reason)
	assert.True(t, b.State().CumulativeLosses.Equal(decimal.NewFromInt(201)))
}

func TestCheckDrawdown(t *testing.T) {
	b := newBreaker(t, func(c *Config) {
		c.MaxDrawdownBps = 2000
		c.HighWaterMarkPeriod = 24 * time.Hour
	})

	assert.Nil(t, b.CheckDrawdown(t0, decimal.NewFromInt(100)))
	assert.Nil(t, b.CheckDrawdown(t0.Add(time.Hour), decimal.NewFromInt(120)))
	assert.True(t, b.State().HighWaterMark.Equal(decimal.NewFromInt(120)))

	// 20% drop is allowed, more is not.
	assert.Nil(t, b.CheckDrawdown(t0.Add(2*time.Hour), decimal.NewFromInt(96)))
	trip := b.CheckDrawdown(t0.Add(3*time.Hour), decimal.NewFromInt(95))
	require.NotNil(t, trip)
	assert.Equal(t, ReasonDrawdown, trip.Reason)

	// After the period the mark follows the current value.
	assert.Nil(t, b.CheckDrawdown(t0.Add(25*time.Hour), decimal.NewFromInt(50)))
	assert.True(t, b.State().HighWaterMark.Equal(decimal.NewFromInt(50)))
}

func TestCheckWithdrawalScenario(t *testing.T) {
	b := newBreaker(t, func(c *Config) { c.MaxSingleWithdrawalBps = 500 })
	pool := decimal.NewFromInt(200)

	assert.ErrorIs(t, b.CheckWithdrawal(decimal.NewFromInt(15), pool), ErrWithdrawalTooLarge)
	assert.NoError(t, b.CheckWithdrawal(decimal.NewFromInt(8), pool))
	assert.NoError(t, b.CheckWithdrawal(decimal.NewFromInt(10), pool))
}

func TestRecordViolationWindow(t *testing.T) {
	b := newBreaker(t, func(c *Config) {
		c.MaxViolations = 3
		c.ViolationWindow = time.Hour
	})

	assert.False(t, b.RecordViolation(t0, ReasonStrategy).Pause)
	assert.False(t, b.RecordViolation(t0.Add(10*time.Minute), ReasonStrategy).Pause)
	// outside the window: counter restarts
	trip := b.RecordViolation(t0.Add(2*time.Hour), ReasonStrategy)
	assert.Equal(t, 1, trip.Count)
	assert.False(t, trip.Pause)

	b.RecordViolation(t0.Add(2*time.Hour+time.Minute), ReasonStrategy)
	trip = b.RecordViolation(t0.Add(2*time.Hour+2*time.Minute), ReasonStrategy)
	assert.Equal(t, 3, trip.Count)
	assert.True(t, trip.Pause)

	b.Reset()
	assert.Zero(t, b.State().ViolationCount)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLossBps = 10001
	_, err := NewBreaker(cfg, t0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
