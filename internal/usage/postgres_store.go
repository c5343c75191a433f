package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO llm_usage_logs (user_id, latency_ms, cost_usd, prompt_tokens, completion_tokens, is_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, timestamp
	`
	err := s.db.QueryRow(ctx, query,
		rec.UserID, rec.LatencyMs, rec.CostUSD,
		rec.PromptTokens, rec.CompletionTokens, rec.IsError,
	).Scan(&rec.ID, &rec.Timestamp)

	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

func (s *PostgresStore) QueryWindow(ctx context.Context, start time.Time) ([]Record, error) {
	query := `
		SELECT id, user_id, timestamp, latency_ms, cost_usd, prompt_tokens, completion_tokens, is_error
		FROM llm_usage_logs
		WHERE timestamp >= $1
		ORDER BY timestamp ASC
	`
	rows, err := s.db.Query(ctx, query, start)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage window: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.UserID, &r.Timestamp, &r.LatencyMs,
			&r.CostUSD, &r.PromptTokens, &r.CompletionTokens, &r.IsError,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) QueryWindowGroupedByUser(ctx context.Context, start time.Time) ([]UserCost, error) {
	query := `
		SELECT user_id, COALESCE(SUM(cost_usd), 0)
		FROM llm_usage_logs
		WHERE timestamp >= $1
		GROUP BY user_id
		ORDER BY SUM(cost_usd) DESC
	`
	rows, err := s.db.Query(ctx, query, start)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped usage: %w", err)
	}
	defer rows.Close()

	var costs []UserCost
	for rows.Next() {
		var c UserCost
		if err := rows.Scan(&c.UserID, &c.TotalCost); err != nil {
			return nil, fmt.Errorf("failed to scan user cost: %w", err)
		}
		costs = append(costs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user costs: %w", err)
	}

	return costs, nil
}
