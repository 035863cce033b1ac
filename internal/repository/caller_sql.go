package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/jmoiron/sqlx"
)

// SQLCallerRepo stores registered callers and their rate limits.
type SQLCallerRepo struct {
	db *sqlx.DB
}

func NewSQLCallerRepo(db *sqlx.DB) *SQLCallerRepo {
	repo := &SQLCallerRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

// DB Model，限流字段拍平成列
type callerDB struct {
	Address   string    `db:"address"`
	Name      string    `db:"name"`
	Contract  bool      `db:"contract"`
	Disabled  bool      `db:"disabled"`
	QPS       float64   `db:"qps"`
	Burst     int       `db:"burst"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (c callerDB) toDomain() *model.CallerProfile {
	return &model.CallerProfile{
		Address:   c.Address,
		Name:      c.Name,
		Contract:  c.Contract,
		Disabled:  c.Disabled,
		Rate:      model.RateLimitConfig{QPS: c.QPS, Burst: c.Burst},
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
}

const callerColumns = `address, name, contract, disabled, qps, burst, created_at, updated_at`

func (r *SQLCallerRepo) Get(ctx context.Context, address string) (*model.CallerProfile, error) {
	var row callerDB
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+callerColumns+` FROM callers WHERE address = ? LIMIT 1`), strings.ToLower(address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *SQLCallerRepo) List(ctx context.Context, limit, offset int) ([]*model.CallerProfile, error) {
	limit = clampLimit(limit, 100, 500)
	if offset < 0 {
		offset = 0
	}
	var rows []callerDB
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT `+callerColumns+` FROM callers ORDER BY created_at DESC LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*model.CallerProfile, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Upsert 地址统一存小写
func (r *SQLCallerRepo) Upsert(ctx context.Context, p *model.CallerProfile) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO callers (`+callerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			name = excluded.name,
			contract = excluded.contract,
			disabled = excluded.disabled,
			qps = excluded.qps,
			burst = excluded.burst,
			updated_at = excluded.updated_at
	`), strings.ToLower(p.Address), p.Name, p.Contract, p.Disabled, p.Rate.QPS, p.Rate.Burst, now, now)
	return err
}

func (r *SQLCallerRepo) Delete(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM callers WHERE address = ?`), strings.ToLower(address))
	return err
}

func (r *SQLCallerRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, ddl(r.db, `
		CREATE TABLE IF NOT EXISTS callers (
			address TEXT PRIMARY KEY,
			name TEXT,
			contract BOOLEAN NOT NULL DEFAULT FALSE,
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			qps {FLOAT} NOT NULL DEFAULT 0,
			burst INTEGER NOT NULL DEFAULT 0,
			created_at {TIMESTAMP},
			updated_at {TIMESTAMP}
		)
	`))
	return err
}
