package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// SQLEventRepo persists vault notifications on postgres or sqlite.
type SQLEventRepo struct {
	db *sqlx.DB
}

func NewSQLEventRepo(db *sqlx.DB) *SQLEventRepo {
	repo := &SQLEventRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

type eventRow struct {
	ID        string          `db:"id"`
	Seq       int64           `db:"seq"`
	Source    string          `db:"source"`
	Type      string          `db:"type"`
	Actor     string          `db:"actor"`
	Before    decimal.Decimal `db:"before_amount"`
	After     decimal.Decimal `db:"after_amount"`
	Data      string          `db:"data"`
	CreatedAt time.Time       `db:"created_at"`
}

func (r eventRow) toModel() model.Event {
	e := model.Event{
		ID:        r.ID,
		Seq:       uint64(r.Seq),
		Source:    r.Source,
		Type:      model.EventType(r.Type),
		Actor:     r.Actor,
		Before:    r.Before,
		After:     r.After,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.Data != "" {
		_ = json.Unmarshal([]byte(r.Data), &e.Data)
	}
	return e
}

func (r *SQLEventRepo) Insert(ctx context.Context, e *model.Event) error {
	if e == nil {
		return nil
	}
	data, _ := json.Marshal(e.Data)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO vault_events (id, seq, source, type, actor, before_amount, after_amount, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), e.ID, int64(e.Seq), e.Source, string(e.Type), e.Actor, e.Before.String(), e.After.String(), string(data), e.CreatedAt.UTC())
	return err
}

// List returns matching events, newest first.
func (r *SQLEventRepo) List(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	limit := clampLimit(f.Limit, 100, 1000)

	query := `SELECT id, seq, source, type, actor, before_amount, after_amount, data, created_at FROM vault_events`
	clauses := []string{"seq > ?"}
	args := []interface{}{int64(f.AfterSeq)}
	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, f.Source)
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Actor != "" {
		clauses = append(clauses, "LOWER(actor) = LOWER(?)")
		args = append(args, f.Actor)
	}
	query += " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// LastSeq is the highest persisted sequence number of source, zero when empty.
func (r *SQLEventRepo) LastSeq(ctx context.Context, source string) (uint64, error) {
	var seq int64
	err := r.db.GetContext(ctx, &seq, r.db.Rebind(`SELECT COALESCE(MAX(seq), 0) FROM vault_events WHERE source = ?`), source)
	return uint64(seq), err
}

func (r *SQLEventRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, ddl(r.db, `
		CREATE TABLE IF NOT EXISTS vault_events (
			id TEXT PRIMARY KEY,
			seq BIGINT NOT NULL,
			source TEXT NOT NULL DEFAULT 'vault',
			type TEXT NOT NULL,
			actor TEXT,
			before_amount TEXT,
			after_amount TEXT,
			data {JSON},
			created_at {TIMESTAMP} NOT NULL
		)
	`))
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_vault_events_seq ON vault_events(seq)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_vault_events_type ON vault_events(type, seq)`)
	return nil
}

func (r *SQLEventRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM vault_events WHERE created_at < ?`), cutoff)
	return err
}
