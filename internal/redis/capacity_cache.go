package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

const capacityTTL = 5 * time.Minute

func capacityKey(accountID, delegateID string) string {
	return "delegate:capacity:" + accountID + ":" + delegateID
}

// CapacityCache caches delegate capacity lookups, including the absence of a
// capacity record.
type CapacityCache interface {
	// Get returns found=false on a cache miss. A hit with c == nil means the
	// delegate is known to be unconstrained.
	Get(ctx context.Context, accountID, delegateID string) (c *domain.Capacity, found bool, err error)
	Set(ctx context.Context, accountID, delegateID string, c *domain.Capacity) error
	Invalidate(ctx context.Context, accountID, delegateID string) error
}

type capacityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCapacityCache creates a Redis-backed CapacityCache. A zero ttl uses the default.
func NewCapacityCache(client *redis.Client, ttl time.Duration) CapacityCache {
	if ttl <= 0 {
		ttl = capacityTTL
	}
	return &capacityCache{client: client, ttl: ttl}
}

func (c *capacityCache) Get(ctx context.Context, accountID, delegateID string) (*domain.Capacity, bool, error) {
	data, err := c.client.Get(ctx, capacityKey(accountID, delegateID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get capacity for %s: %w", delegateID, err)
	}
	// "null" is stored for unconstrained delegates and unmarshals to nil.
	var capacity *domain.Capacity
	if err := json.Unmarshal(data, &capacity); err != nil {
		return nil, false, fmt.Errorf("unmarshal capacity: %w", err)
	}
	return capacity, true, nil
}

func (c *capacityCache) Set(ctx context.Context, accountID, delegateID string, capacity *domain.Capacity) error {
	data, err := json.Marshal(capacity)
	if err != nil {
		return fmt.Errorf("marshal capacity: %w", err)
	}
	if err := c.client.Set(ctx, capacityKey(accountID, delegateID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set capacity for %s: %w", delegateID, err)
	}
	return nil
}

func (c *capacityCache) Invalidate(ctx context.Context, accountID, delegateID string) error {
	if err := c.client.Del(ctx, capacityKey(accountID, delegateID)).Err(); err != nil {
		return fmt.Errorf("redis del capacity for %s: %w", delegateID, err)
	}
	return nil
}
