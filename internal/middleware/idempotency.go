package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/GoPolymarket/polyvault/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyvault/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"

// IdempotencyRecord is one reserved key. Fingerprint binds the key to the
// method, path and body it was first used with.
type IdempotencyRecord struct {
	Fingerprint common.Hash `json:"fingerprint"`
	Status      int         `json:"status"`
	Body        []byte      `json:"body"`
	CreatedAt   time.Time   `json:"created_at"`
	Pending     bool        `json:"pending"`
}

type IdempotencyStore interface {
	// Reserve returns (existing, true) when key is already known, otherwise
	// it stores a pending record and returns (nil, false).
	Reserve(ctx context.Context, key string, fingerprint common.Hash) (*IdempotencyRecord, bool)
	Complete(ctx context.Context, key string, status int, body []byte)
	Release(ctx context.Context, key string)
}

// InMemIdempotencyStore 单进程使用，多实例部署请用 Redis 或 SQL 实现
type InMemIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]IdempotencyRecord
}

func NewInMemIdempotencyStore() *InMemIdempotencyStore {
	return &InMemIdempotencyStore{records: make(map[string]IdempotencyRecord)}
}

func (s *InMemIdempotencyStore) Reserve(_ context.Context, key string, fingerprint common.Hash) (*IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		return &rec, true
	}
	s.records[key] = IdempotencyRecord{Fingerprint: fingerprint, CreatedAt: time.Now().UTC(), Pending: true}
	return nil, false
}

func (s *InMemIdempotencyStore) Complete(_ context.Context, key string, status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[key]
	rec.Status, rec.Body, rec.Pending = status, body, false
	s.records[key] = rec
}

func (s *InMemIdempotencyStore) Release(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// fingerprint ignores the timestamp so a client may re-sign a retry.
func fingerprint(req signer.Request) common.Hash {
	return crypto.Keccak256Hash([]byte(req.Method), []byte(req.Path), req.BodyHash.Bytes())
}

// IdempotencyMiddleware 让带 X-Idempotency-Key 的已签名请求只执行一次。
// 重放返回首次的响应；同一个 key 换了请求内容则拒绝。
func IdempotencyMiddleware(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		caller, ok := CallerFrom(c)
		raw, signed := c.Get(ContextRequestKey)
		if !ok || !signed {
			c.Next()
			return
		}
		fp := fingerprint(raw.(signer.Request))
		// key 按调用方隔离
		scoped := caller.Hex() + ":" + key
		ctx := c.Request.Context()

		if rec, hit := store.Reserve(ctx, scoped, fp); hit {
			switch {
			case rec.Fingerprint != fp:
				c.Error(apperrors.NewInvalidRequest("idempotency key reused with a different request"))
			case rec.Pending:
				c.Error(apperrors.New(apperrors.ErrReentrant, "request with this idempotency key is in progress", nil))
			default:
				c.Header("X-Idempotent-Replay", "true")
				c.Data(rec.Status, "application/json; charset=utf-8", rec.Body)
			}
			c.Abort()
			return
		}

		w := &responseBodyWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		// 5xx 允许重试，不记录结果
		if status := w.Status(); status < http.StatusInternalServerError {
			store.Complete(ctx, scoped, status, w.body)
		} else {
			store.Release(ctx, scoped)
		}
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}
