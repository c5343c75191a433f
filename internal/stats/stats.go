// Package stats computes windowed summary statistics over the usage store.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vnmchuo/llm-monitor/internal/usage"
)

// ErrInvalidTopN is returned when a caller asks for a non-positive number of
// top-cost users. The aggregator never clamps the value.
var ErrInvalidTopN = errors.New("top n must be a positive integer")

// WindowStats summarizes all usage records inside a trailing time window.
// A window with no records yields the zero values, never an error.
type WindowStats struct {
	WindowStart   time.Time `json:"window_start"`
	TotalRequests int64     `json:"total_requests"`
	TotalCost     float64   `json:"total_cost"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
}

// TopCostEntry is one user's summed cost within a window.
type TopCostEntry struct {
	UserID    string  `json:"user_id"`
	TotalCost float64 `json:"total_cost"`
}

type Aggregator struct {
	store usage.Store
}

func NewAggregator(store usage.Store) *Aggregator {
	return &Aggregator{store: store}
}

// ComputeWindowStats queries all records with timestamp >= now-window and
// computes count, summed cost and mean latency in a single pass. Rounding
// (cost to 6 decimals, latency to 2) is applied to the output only, never to
// intermediate sums. Window boundaries are UTC to match the timestamptz
// column.
func (a *Aggregator) ComputeWindowStats(ctx context.Context, window time.Duration) (WindowStats, error) {
	start := time.Now().UTC().Add(-window)

	records, err := a.store.QueryWindow(ctx, start)
	if err != nil {
		return WindowStats{}, fmt.Errorf("failed to compute window stats: %w", err)
	}

	result := WindowStats{WindowStart: start}
	if len(records) == 0 {
		return result, nil
	}

	var sumCost, sumLatency float64
	for _, r := range records {
		sumCost += r.CostUSD
		sumLatency += float64(r.LatencyMs)
	}

	result.TotalRequests = int64(len(records))
	result.TotalCost = round(sumCost, 6)
	result.AvgLatencyMs = round(sumLatency/float64(len(records)), 2)

	return result, nil
}

// ComputeTopCostUsers returns the topN users by summed cost within the
// window, descending. Ties keep the store's iteration order. topN <= 0 is a
// caller error and returns ErrInvalidTopN.
func (a *Aggregator) ComputeTopCostUsers(ctx context.Context, window time.Duration, topN int) ([]TopCostEntry, error) {
	if topN <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopN, topN)
	}

	start := time.Now().UTC().Add(-window)

	costs, err := a.store.QueryWindowGroupedByUser(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to compute top cost users: %w", err)
	}

	sort.SliceStable(costs, func(i, j int) bool {
		return costs[i].TotalCost > costs[j].TotalCost
	})

	if topN < len(costs) {
		costs = costs[:topN]
	}

	entries := make([]TopCostEntry, 0, len(costs))
	for _, c := range costs {
		entries = append(entries, TopCostEntry{
			UserID:    c.UserID,
			TotalCost: round(c.TotalCost, 6),
		})
	}

	return entries, nil
}

func round(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}
