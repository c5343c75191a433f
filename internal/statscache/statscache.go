// Package statscache caches the current-window statistics in Redis so the
// query surface does not hit Postgres on every request.
package statscache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/llm-monitor/internal/stats"
)

const key = "stats:current-window"

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get returns the cached stats and whether the cache held a value. Redis
// errors are treated as a miss.
func (c *Cache) Get(ctx context.Context) (stats.WindowStats, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("statscache: redis error: %v", err)
		}
		return stats.WindowStats{}, false
	}

	var s stats.WindowStats
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return stats.WindowStats{}, false
	}
	return s, true
}

// Set stores the stats for the configured TTL, best-effort.
func (c *Cache) Set(ctx context.Context, s stats.WindowStats) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		log.Printf("statscache: redis error: %v", err)
	}
}
