package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GoPolymarket/polyvault/internal/middleware"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "vault:idem:"

// RedisIdempotencyStore keeps one JSON record per key; SETNX makes the
// reservation atomic across vaultd replicas.
type RedisIdempotencyStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client redis.Cmdable, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, fp common.Hash) (*middleware.IdempotencyRecord, bool) {
	pending, _ := json.Marshal(middleware.IdempotencyRecord{Fingerprint: fp, CreatedAt: time.Now().UTC(), Pending: true})
	created, err := s.client.SetNX(ctx, idempotencyPrefix+key, pending, s.ttl).Result()
	if err != nil {
		// redis 不可用时放行，请求按非幂等处理
		logger.Warn("idempotency reserve failed", "key", key, "error", err)
		return nil, false
	}
	if created {
		return nil, false
	}
	raw, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var rec middleware.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		logger.Warn("corrupt idempotency record", "key", key, "error", err)
		return nil, false
	}
	return &rec, true
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, status int, body []byte) {
	full := idempotencyPrefix + key
	raw, err := s.client.Get(ctx, full).Bytes()
	if err != nil {
		return
	}
	var rec middleware.IdempotencyRecord
	if json.Unmarshal(raw, &rec) != nil {
		return
	}
	rec.Status, rec.Body, rec.Pending = status, body, false
	done, _ := json.Marshal(rec)
	if err := s.client.Set(ctx, full, done, s.ttl).Err(); err != nil {
		logger.Warn("idempotency complete failed", "key", key, "error", err)
	}
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) {
	_ = s.client.Del(ctx, idempotencyPrefix+key).Err()
}
