package usage

import (
	"context"
	"time"
)

// Record is one logged LLM invocation. ID and Timestamp are assigned by the
// store on insert.
type Record struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
	LatencyMs        int64     `json:"latency_ms"`
	CostUSD          float64   `json:"cost_usd"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	IsError          bool      `json:"is_error"`
}

// UserCost is the summed cost for one user within a query window.
type UserCost struct {
	UserID    string  `json:"user_id"`
	TotalCost float64 `json:"total_cost"`
}

type Store interface {
	Insert(ctx context.Context, rec *Record) error
	// QueryWindow returns all records with timestamp >= start.
	QueryWindow(ctx context.Context, start time.Time) ([]Record, error)
	// QueryWindowGroupedByUser returns per-user summed cost for records with
	// timestamp >= start, ordered by summed cost descending.
	QueryWindowGroupedByUser(ctx context.Context, start time.Time) ([]UserCost, error)
}
