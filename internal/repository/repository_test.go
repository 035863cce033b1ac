package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoPolymarket/polyvault/internal/config"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	db, err := NewDB(config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLEventRepoInsertAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLEventRepo(openSQLite(t))

	now := time.Now().UTC().Truncate(time.Second)
	for i := 1; i <= 5; i++ {
		typ := model.EventDeposit
		if i%2 == 0 {
			typ = model.EventHarvest
		}
		e := &model.Event{
			ID:        fmt.Sprintf("evt-%d", i),
			Seq:       uint64(i),
			Source:    model.SourceVault,
			Type:      typ,
			Actor:     "0x00000000000000000000000000000000000000Aa",
			Before:    decimal.NewFromInt(int64(i * 100)),
			After:     decimal.NewFromInt(int64(i*100 + 50)),
			Data:      map[string]string{"n": fmt.Sprint(i)},
			CreatedAt: now,
		}
		require.NoError(t, repo.Insert(ctx, e))
	}
	// duplicate id is ignored
	require.NoError(t, repo.Insert(ctx, &model.Event{ID: "evt-1", Seq: 99, Type: model.EventPaused, CreatedAt: now}))

	all, err := repo.List(ctx, model.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.EqualValues(t, 5, all[0].Seq, "newest first")
	assert.True(t, all[0].Before.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "5", all[0].Data["n"])

	harvests, err := repo.List(ctx, model.EventFilter{Type: model.EventHarvest})
	require.NoError(t, err)
	assert.Len(t, harvests, 2)

	after, err := repo.List(ctx, model.EventFilter{AfterSeq: 3, Actor: "0x00000000000000000000000000000000000000aa"})
	require.NoError(t, err)
	assert.Len(t, after, 2)

	last, err := repo.LastSeq(ctx, model.SourceVault)
	require.NoError(t, err)
	assert.EqualValues(t, 5, last)

	require.NoError(t, repo.Cleanup(ctx, time.Nanosecond))
	all, err = repo.List(ctx, model.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLIdempotencyStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSQLIdempotencyStore(openSQLite(t))
	fp := common.HexToHash("0xf1")

	rec, hit := store.Reserve(ctx, "k1", fp)
	assert.False(t, hit)
	assert.Nil(t, rec)

	rec, hit = store.Reserve(ctx, "k1", common.HexToHash("0xf2"))
	require.True(t, hit)
	assert.True(t, rec.Pending)
	assert.Equal(t, fp, rec.Fingerprint, "the first reservation wins")

	store.Complete(ctx, "k1", 200, []byte(`{"shares":"10"}`))
	rec, hit = store.Reserve(ctx, "k1", fp)
	require.True(t, hit)
	assert.False(t, rec.Pending)
	assert.Equal(t, 200, rec.Status)
	assert.JSONEq(t, `{"shares":"10"}`, string(rec.Body))

	store.Release(ctx, "k1")
	_, hit = store.Reserve(ctx, "k1", fp)
	assert.False(t, hit)

	require.NoError(t, store.Cleanup(ctx, time.Nanosecond))
	_, hit = store.Reserve(ctx, "k1", fp)
	assert.False(t, hit, "cleanup dropped the pending row")
}

func TestSQLCallerRepoUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLCallerRepo(openSQLite(t))

	_, err := repo.Get(ctx, "0xabc")
	assert.ErrorIs(t, err, ErrNotFound)

	p := &model.CallerProfile{Address: "0xABC", Name: "desk", Rate: model.RateLimitConfig{QPS: 5, Burst: 10}}
	require.NoError(t, repo.Upsert(ctx, p))
	p.Disabled = true
	p.Rate.QPS = 1
	require.NoError(t, repo.Upsert(ctx, p))

	got, err := repo.Get(ctx, "0xAbC")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got.Address)
	assert.True(t, got.Disabled)
	assert.Equal(t, 1.0, got.Rate.QPS)
	assert.Equal(t, 10, got.Rate.Burst)

	list, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, "0xabc"))
	_, err = repo.Get(ctx, "0xabc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerSnapshotStoreKeepsBoundedHistory(t *testing.T) {
	ctx := context.Background()
	store, err := NewBadgerSnapshotStore(t.TempDir(), 3)
	require.NoError(t, err)
	defer store.Close()

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(ctx, []byte(fmt.Sprintf(`{"v":%d}`, i))))
	}
	data, err = store.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":4}`, string(data))
	assert.Equal(t, 3, store.HistoryLen())
}
