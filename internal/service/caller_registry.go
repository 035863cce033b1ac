package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/polyvault/internal/config"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

var ErrCallerDisabled = errors.New("caller is disabled")

type CallerRepo interface {
	Get(ctx context.Context, address string) (*model.CallerProfile, error)
	List(ctx context.Context, limit, offset int) ([]*model.CallerProfile, error)
	Upsert(ctx context.Context, p *model.CallerProfile) error
	Delete(ctx context.Context, address string) error
}

// CallerRegistry 管理调用方资料与限流器。
// 未登记的钱包地址按默认限流规则自动登记，vault 本身对存款人不设白名单。
type CallerRegistry struct {
	mu       sync.RWMutex
	callers  map[string]*model.CallerProfile // Key: 小写地址
	limiters map[string]*rate.Limiter
	defaults model.RateLimitConfig
	repo     CallerRepo
}

func NewCallerRegistry(defaults model.RateLimitConfig, seed []config.CallerConfig, repo CallerRepo) *CallerRegistry {
	r := &CallerRegistry{
		callers:  make(map[string]*model.CallerProfile),
		limiters: make(map[string]*rate.Limiter),
		defaults: defaults,
		repo:     repo,
	}
	for _, c := range seed {
		p := &model.CallerProfile{
			Address:   strings.ToLower(c.Address),
			Name:      c.Name,
			Rate:      model.RateLimitConfig{QPS: c.QPS, Burst: c.Burst},
			CreatedAt: time.Now().UTC(),
		}
		if p.Rate.QPS == 0 && p.Rate.Burst == 0 {
			p.Rate = defaults
		}
		r.Register(p)
	}
	return r
}

func (r *CallerRegistry) Register(p *model.CallerProfile) {
	if p == nil {
		return
	}
	key := strings.ToLower(p.Address)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[key] = p

	// QPS 为 0 表示不限流
	limit := rate.Limit(p.Rate.QPS)
	if limit == 0 {
		limit = rate.Inf
	}
	burst := p.Rate.Burst
	if burst == 0 {
		burst = 1
	}
	r.limiters[key] = rate.NewLimiter(limit, burst)
}

func (r *CallerRegistry) remove(address string) {
	key := strings.ToLower(address)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callers, key)
	delete(r.limiters, key)
}

func (r *CallerRegistry) get(address string) (*model.CallerProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.callers[strings.ToLower(address)]
	return p, ok
}

// Resolve returns the caller's profile, loading it from the repo or
// registering a default one on first sight. Disabled callers are rejected.
func (r *CallerRegistry) Resolve(ctx context.Context, address common.Address) (*model.CallerProfile, error) {
	key := strings.ToLower(address.Hex())
	p, ok := r.get(key)
	if !ok && r.repo != nil {
		if stored, err := r.repo.Get(ctx, key); err == nil && stored != nil {
			r.Register(stored)
			p, ok = stored, true
		}
	}
	if !ok {
		p = &model.CallerProfile{Address: key, Rate: r.defaults, CreatedAt: time.Now().UTC()}
		r.Register(p)
	}
	if p.Disabled {
		return p, fmt.Errorf("%s: %w", address.Hex(), ErrCallerDisabled)
	}
	return p, nil
}

// Limiter 获取调用方的限流器
func (r *CallerRegistry) Limiter(address string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[strings.ToLower(address)]
}

func (r *CallerRegistry) List(ctx context.Context, limit, offset int) ([]*model.CallerProfile, error) {
	if r.repo != nil {
		return r.repo.List(ctx, limit, offset)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.CallerProfile, 0, len(r.callers))
	for _, p := range r.callers {
		out = append(out, p)
	}
	return out, nil
}

func (r *CallerRegistry) Upsert(ctx context.Context, req model.CallerRequest) (*model.CallerProfile, error) {
	if !common.IsHexAddress(req.Address) {
		return nil, fmt.Errorf("invalid caller address %q", req.Address)
	}
	now := time.Now().UTC()
	p := &model.CallerProfile{
		Address:   strings.ToLower(req.Address),
		Name:      req.Name,
		Contract:  req.Contract,
		Disabled:  req.Disabled,
		Rate:      model.RateLimitConfig{QPS: req.QPS, Burst: req.Burst},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if current, ok := r.get(p.Address); ok {
		p.CreatedAt = current.CreatedAt
	}
	if r.repo != nil {
		if err := r.repo.Upsert(ctx, p); err != nil {
			return nil, err
		}
	}
	r.Register(p)
	return p, nil
}

func (r *CallerRegistry) Delete(ctx context.Context, address string) error {
	if r.repo != nil {
		if err := r.repo.Delete(ctx, address); err != nil {
			return err
		}
	}
	r.remove(address)
	return nil
}
