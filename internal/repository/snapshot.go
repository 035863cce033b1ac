package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Snapshot stores hold one opaque JSON document (the service state) plus a
// bounded history of previous versions. Load returns (nil, nil) when nothing
// has been saved yet.

const defaultHistory = 100

// RedisSnapshotStore keeps the latest document under key and older versions
// in a capped list key+":history".
type RedisSnapshotStore struct {
	client  redis.Cmdable
	key     string
	history int
}

func NewRedisSnapshotStore(client redis.Cmdable, key string, history int) *RedisSnapshotStore {
	if key == "" {
		key = "vault_snapshot"
	}
	if history <= 0 {
		history = defaultHistory
	}
	return &RedisSnapshotStore{client: client, key: key, history: history}
}

func (s *RedisSnapshotStore) Save(ctx context.Context, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key, data, 0)
	pipe.LPush(ctx, s.key+":history", data)
	pipe.LTrim(ctx, s.key+":history", 0, int64(s.history-1))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSnapshotStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (s *RedisSnapshotStore) Close() error { return nil }

// SnapshotRecord 快照历史表，每次提交一行
type SnapshotRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Data      []byte    `gorm:"type:jsonb;not null"`
	Size      int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (SnapshotRecord) TableName() string {
	return "vault_snapshots"
}

// GormSnapshotStore appends snapshot rows on postgres and prunes beyond history.
type GormSnapshotStore struct {
	db      *gorm.DB
	history int
}

func NewGormSnapshotStore(dsn string, history int) (*GormSnapshotStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db: %w", err)
	}
	return NewGormSnapshotStoreWithDB(db, history)
}

func NewGormSnapshotStoreWithDB(db *gorm.DB, history int) (*GormSnapshotStore, error) {
	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, err
	}
	if history <= 0 {
		history = defaultHistory
	}
	return &GormSnapshotStore{db: db, history: history}, nil
}

func (s *GormSnapshotStore) Save(ctx context.Context, data []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := SnapshotRecord{Data: data, Size: len(data)}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		if rec.ID > uint64(s.history) {
			return tx.Where("id <= ?", rec.ID-uint64(s.history)).Delete(&SnapshotRecord{}).Error
		}
		return nil
	})
}

func (s *GormSnapshotStore) Load(ctx context.Context) ([]byte, error) {
	var rec SnapshotRecord
	err := s.db.WithContext(ctx).Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

func (s *GormSnapshotStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	badgerLatestKey     = []byte("snapshot/latest")
	badgerHistoryPrefix = []byte("snapshot/history/")
)

// BadgerSnapshotStore is the local single-node backend.
type BadgerSnapshotStore struct {
	db      *badger.DB
	history int
}

func NewBadgerSnapshotStore(path string, history int) (*BadgerSnapshotStore, error) {
	if path == "" {
		return nil, errors.New("badger snapshot store: path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	if history <= 0 {
		history = defaultHistory
	}
	return &BadgerSnapshotStore{db: db, history: history}, nil
}

func (s *BadgerSnapshotStore) Save(_ context.Context, data []byte) error {
	// 历史 key 用定长纳秒时间戳，保证字典序即时间序
	histKey := append(append([]byte{}, badgerHistoryPrefix...), []byte(fmt.Sprintf("%020d", time.Now().UnixNano()))...)
	if err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(badgerLatestKey, data); err != nil {
			return err
		}
		return txn.Set(histKey, data)
	}); err != nil {
		return err
	}
	return s.prune()
}

func (s *BadgerSnapshotStore) prune() error {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		// reverse iteration must seek past the prefix
		seek := append(append([]byte{}, badgerHistoryPrefix...), 0xFF)
		n := 0
		for it.Seek(seek); it.ValidForPrefix(badgerHistoryPrefix); it.Next() {
			n++
			if n > s.history {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerSnapshotStore) Load(_ context.Context) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerLatestKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// HistoryLen counts stored history versions.
func (s *BadgerSnapshotStore) HistoryLen() int {
	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerHistoryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

func (s *BadgerSnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
