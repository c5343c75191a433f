package seeder

import (
	"context"
	"log"

	"github.com/vnmchuo/llm-monitor/internal/usage"
)

var sampleRecords = []usage.Record{
	{UserID: "user_abc", LatencyMs: 130, CostUSD: 0.000450, PromptTokens: 220, CompletionTokens: 90},
	{UserID: "user_abc", LatencyMs: 210, CostUSD: 0.001200, PromptTokens: 540, CompletionTokens: 310},
	{UserID: "user_def", LatencyMs: 95, CostUSD: 0.000210, PromptTokens: 110, CompletionTokens: 40},
	{UserID: "user_xyz", LatencyMs: 1850, CostUSD: 0.004800, PromptTokens: 1800, CompletionTokens: 950, IsError: true},
}

// SeedSampleUsage inserts a handful of usage records so the stats endpoints
// and the monitor have data to work with on a fresh database.
func SeedSampleUsage(ctx context.Context, store usage.Store) {
	for i := range sampleRecords {
		rec := sampleRecords[i]
		if err := store.Insert(ctx, &rec); err != nil {
			log.Printf("[Seeder] failed to insert sample record: %v", err)
			return
		}
	}
	log.Printf("[Seeder] inserted %d sample usage records", len(sampleRecords))
}
