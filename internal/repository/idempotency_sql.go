package repository

import (
	"context"
	"time"

	"github.com/GoPolymarket/polyvault/internal/middleware"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
)

// SQLIdempotencyStore relies on the primary key to make Reserve atomic.
type SQLIdempotencyStore struct {
	db *sqlx.DB
}

type idempotencyRow struct {
	Fingerprint string    `db:"fingerprint"`
	Status      int       `db:"status_code"`
	Body        []byte    `db:"response_body"`
	Pending     bool      `db:"pending"`
	CreatedAt   time.Time `db:"created_at"`
}

func NewSQLIdempotencyStore(db *sqlx.DB) *SQLIdempotencyStore {
	store := &SQLIdempotencyStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		logger.Error("ensure idempotency schema", "error", err)
	}
	return store
}

func (s *SQLIdempotencyStore) Reserve(ctx context.Context, key string, fp common.Hash) (*middleware.IdempotencyRecord, bool) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO vault_idempotency (idem_key, fingerprint, pending, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (idem_key) DO NOTHING
	`), key, fp.Hex(), true, time.Now().UTC())
	if err != nil {
		logger.Warn("idempotency reserve failed", "key", key, "error", err)
		return nil, false
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil, false
	}

	var row idempotencyRow
	err = s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT fingerprint, status_code, response_body, pending, created_at
		FROM vault_idempotency WHERE idem_key = ?
	`), key)
	if err != nil {
		return nil, false
	}
	return &middleware.IdempotencyRecord{
		Fingerprint: common.HexToHash(row.Fingerprint),
		Status:      row.Status,
		Body:        row.Body,
		CreatedAt:   row.CreatedAt,
		Pending:     row.Pending,
	}, true
}

func (s *SQLIdempotencyStore) Complete(ctx context.Context, key string, status int, body []byte) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE vault_idempotency SET status_code = ?, response_body = ?, pending = ? WHERE idem_key = ?
	`), status, body, false, key)
	if err != nil {
		logger.Warn("idempotency complete failed", "key", key, "error", err)
	}
}

func (s *SQLIdempotencyStore) Release(ctx context.Context, key string) {
	_, _ = s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM vault_idempotency WHERE idem_key = ?`), key)
}

func (s *SQLIdempotencyStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, ddl(s.db, `
		CREATE TABLE IF NOT EXISTS vault_idempotency (
			idem_key TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body {BYTES},
			pending BOOLEAN NOT NULL DEFAULT TRUE,
			created_at {TIMESTAMP} NOT NULL
		)
	`))
	return err
}

// Cleanup drops keys older than olderThan; pending rows included, since a
// request that never completed will not complete now.
func (s *SQLIdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM vault_idempotency WHERE created_at < ?`), time.Now().UTC().Add(-olderThan))
	return err
}
