// Package capacity tracks how much concurrent work each delegate accepts.
package capacity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
	"github.com/ramiqadoumi/delegate-rebroadcast/internal/postgres"
	redisstore "github.com/ramiqadoumi/delegate-rebroadcast/internal/redis"
)

// Registry reads and writes delegate capacity through an optional cache.
// A delegate without a capacity record is unconstrained, not zero-capacity.
type Registry struct {
	repo   postgres.CapacityRepository
	cache  redisstore.CapacityCache // nil = disabled
	logger *slog.Logger
}

// NewRegistry builds a Registry. cache may be nil.
func NewRegistry(repo postgres.CapacityRepository, cache redisstore.CapacityCache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, cache: cache, logger: logger}
}

// GetCapacity returns the registered capacity, or nil if none is registered.
func (r *Registry) GetCapacity(ctx context.Context, delegateID, accountID string) (*domain.Capacity, error) {
	if r.cache != nil {
		c, found, err := r.cache.Get(ctx, accountID, delegateID)
		if err != nil {
			// Cache trouble must not block selection; fall through to the store.
			r.logger.Warn("capacity cache read failed",
				slog.String("delegate_id", delegateID),
				slog.String("error", err.Error()),
			)
		} else if found {
			return c, nil
		}
	}

	c, err := r.repo.Get(ctx, accountID, delegateID)
	if err != nil {
		return nil, fmt.Errorf("load capacity for delegate %s: %w", delegateID, err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, accountID, delegateID, c); err != nil {
			r.logger.Warn("capacity cache fill failed",
				slog.String("delegate_id", delegateID),
				slog.String("error", err.Error()),
			)
		}
	}
	return c, nil
}

// HasCapacity reports whether a capacity record exists for the delegate.
func (r *Registry) HasCapacity(ctx context.Context, d domain.Delegate) (bool, error) {
	c, err := r.GetCapacity(ctx, d.ID, d.AccountID)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

// RegisterCapacity upserts the delegate's capacity and drops any cached copy.
func (r *Registry) RegisterCapacity(ctx context.Context, accountID, delegateID string, c domain.Capacity) error {
	if c.TaskLimit < 0 || c.MaxBuildSlots < 0 {
		return fmt.Errorf("register capacity for delegate %s: negative limit", delegateID)
	}
	if err := r.repo.Upsert(ctx, accountID, delegateID, c); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, accountID, delegateID); err != nil {
			r.logger.Warn("capacity cache invalidate failed",
				slog.String("delegate_id", delegateID),
				slog.String("error", err.Error()),
			)
		}
	}
	r.logger.Info("delegate capacity registered",
		slog.String("account_id", accountID),
		slog.String("delegate_id", delegateID),
		slog.Int("task_limit", c.TaskLimit),
		slog.Int("max_build_slots", c.MaxBuildSlots),
	)
	return nil
}
