// Package cache provides a Redis-backed cache for per-approver pending
// approval counts. The count feeds inbox badges, so staleness is tolerable
// and every decision path invalidates the affected approvers.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const pendingCountKeyPrefix = "hrwf:pending_count:"

// PendingCountCache caches pending-approval counts keyed by approver id. A
// nil Redis client disables the cache: gets miss and writes are no-ops, so
// callers never branch on whether caching is configured.
type PendingCountCache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewPendingCountCache creates a cache. rdb may be nil to run without Redis.
func NewPendingCountCache(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *PendingCountCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PendingCountCache{rdb: rdb, ttl: ttl, log: log}
}

// Connect dials Redis and verifies the connection. An empty addr returns a
// nil client, which NewPendingCountCache treats as disabled.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

// GetPendingCount returns the cached count and whether it was present.
func (c *PendingCountCache) GetPendingCount(ctx context.Context, approverID string) (int, bool) {
	if c == nil || c.rdb == nil {
		return 0, false
	}

	val, err := c.rdb.Get(ctx, pendingCountKeyPrefix+approverID).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("approver_id", approverID).Msg("cache: failed to read pending count")
		return 0, false
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return count, true
}

// SetPendingCount stores the count with a short TTL.
func (c *PendingCountCache) SetPendingCount(ctx context.Context, approverID string, count int) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, pendingCountKeyPrefix+approverID, count, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("approver_id", approverID).Msg("cache: failed to set pending count")
	}
}

// Invalidate drops the cached counts for the given approvers.
func (c *PendingCountCache) Invalidate(ctx context.Context, approverIDs ...string) {
	if c == nil || c.rdb == nil || len(approverIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(approverIDs))
	for _, id := range approverIDs {
		if id != "" {
			keys = append(keys, pendingCountKeyPrefix+id)
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Msg("cache: failed to invalidate pending counts")
	}
}
