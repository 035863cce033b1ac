package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/jmoiron/sqlx"
)

type SQLRequestLogRepo struct {
	db *sqlx.DB
}

func NewSQLRequestLogRepo(db *sqlx.DB) *SQLRequestLogRepo {
	repo := &SQLRequestLogRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *SQLRequestLogRepo) Insert(ctx context.Context, entry *model.RequestLog) error {
	if entry == nil {
		return nil
	}
	contextJSON, _ := json.Marshal(entry.Context)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO request_logs (
			id, caller, method, path, ip, user_agent,
			request_body, status_code, response_body,
			latency_ms, context, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), entry.ID, entry.Caller, entry.Method, entry.Path, entry.IP, entry.UserAgent,
		entry.RequestBody, entry.StatusCode, entry.ResponseBody,
		entry.LatencyMs, string(contextJSON), entry.CreatedAt.UTC())
	return err
}

func (r *SQLRequestLogRepo) List(ctx context.Context, caller string, limit int, from, to *time.Time) ([]*model.RequestLog, error) {
	limit = clampLimit(limit, 100, 1000)

	query := `SELECT id, caller, method, path, ip, user_agent, request_body, status_code, response_body, latency_ms, context, created_at FROM request_logs`
	clauses := []string{}
	args := []interface{}{}
	if caller != "" {
		clauses = append(clauses, "LOWER(caller) = LOWER(?)")
		args = append(args, caller)
	}
	if from != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, from.UTC())
	}
	if to != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, to.UTC())
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*model.RequestLog, 0, limit)
	for rows.Next() {
		var entry model.RequestLog
		var contextJSON string
		if err := rows.Scan(
			&entry.ID,
			&entry.Caller,
			&entry.Method,
			&entry.Path,
			&entry.IP,
			&entry.UserAgent,
			&entry.RequestBody,
			&entry.StatusCode,
			&entry.ResponseBody,
			&entry.LatencyMs,
			&contextJSON,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if contextJSON != "" {
			_ = json.Unmarshal([]byte(contextJSON), &entry.Context)
		} else {
			entry.Context = map[string]interface{}{}
		}
		records = append(records, &entry)
	}
	return records, rows.Err()
}

func (r *SQLRequestLogRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, ddl(r.db, `
		CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			caller TEXT,
			method TEXT,
			path TEXT,
			ip TEXT,
			user_agent TEXT,
			request_body TEXT,
			status_code INTEGER,
			response_body TEXT,
			latency_ms BIGINT,
			context {JSON},
			created_at {TIMESTAMP}
		)
	`))
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_request_logs_caller ON request_logs(caller, created_at)`)
	return nil
}

func (r *SQLRequestLogRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM request_logs WHERE created_at < ?`), cutoff)
	return err
}
