package repository

import (
	"context"
	"encoding/json"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisEventRepo keeps the most recent events in a capped list.
type RedisEventRepo struct {
	client  redis.Cmdable
	listKey string
	listMax int
}

func NewRedisEventRepo(client redis.Cmdable, listKey string, listMax int) *RedisEventRepo {
	if listKey == "" {
		listKey = "vault_events"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisEventRepo{
		client:  client,
		listKey: listKey,
		listMax: listMax,
	}
}

func (r *RedisEventRepo) Insert(ctx context.Context, e *model.Event) error {
	if e == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.listKey, payload)
	pipe.LTrim(ctx, r.listKey, 0, int64(r.listMax-1))
	_, err = pipe.Exec(ctx)
	return err
}

// List scans the head of the list, newest first.
func (r *RedisEventRepo) List(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	limit := clampLimit(f.Limit, 100, 1000)
	fetch := limit * 5
	if fetch < 100 {
		fetch = 100
	}
	if fetch > r.listMax {
		fetch = r.listMax
	}
	items, err := r.client.LRange(ctx, r.listKey, 0, int64(fetch-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	results := make([]model.Event, 0, limit)
	for _, raw := range items {
		var e model.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if !f.Match(e) {
			continue
		}
		results = append(results, e)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}
