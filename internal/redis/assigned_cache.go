package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	assignedTTL = 10 * time.Second
	// presentField marks a cached hash so an account with no assignments is
	// still a cache hit.
	presentField = "_"
)

func assignedKey(accountID string) string { return "delegate:assigned:" + accountID }

// AssignedCounter returns per-delegate assigned-task counts for an account.
type AssignedCounter interface {
	AssignedCounts(ctx context.Context, accountID string) (map[string]int, error)
}

type assignedCountCache struct {
	client *redis.Client
	source AssignedCounter
	ttl    time.Duration
}

// NewAssignedCountCache wraps source with a short-lived Redis hash per
// account. Redis errors fall through to source.
func NewAssignedCountCache(client *redis.Client, source AssignedCounter, ttl time.Duration) AssignedCounter {
	if ttl <= 0 {
		ttl = assignedTTL
	}
	return &assignedCountCache{client: client, source: source, ttl: ttl}
}

func (c *assignedCountCache) AssignedCounts(ctx context.Context, accountID string) (map[string]int, error) {
	key := assignedKey(accountID)

	cached, err := c.client.HGetAll(ctx, key).Result()
	if err == nil && len(cached) > 0 {
		counts := make(map[string]int, len(cached))
		for id, v := range cached {
			if id == presentField {
				continue
			}
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				return nil, fmt.Errorf("parse assigned count for %s: %w", id, convErr)
			}
			counts[id] = n
		}
		return counts, nil
	}

	counts, err := c.source.AssignedCounts(ctx, accountID)
	if err != nil {
		return nil, err
	}

	fields := make([]any, 0, 2*len(counts)+2)
	fields = append(fields, presentField, 0)
	for id, n := range counts {
		fields = append(fields, id, n)
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields...)
	pipe.Expire(ctx, key, c.ttl)
	// Best effort: a failed fill only costs another source read.
	_, _ = pipe.Exec(ctx)

	return counts, nil
}
