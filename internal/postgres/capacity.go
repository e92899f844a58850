package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

// CapacityRepository persists per-delegate capacity limits.
type CapacityRepository interface {
	// Get returns nil, nil when no capacity is registered.
	Get(ctx context.Context, accountID, delegateID string) (*domain.Capacity, error)
	Upsert(ctx context.Context, accountID, delegateID string, c domain.Capacity) error
}

type capacityRepository struct {
	pool *pgxpool.Pool
}

// NewCapacityRepository wraps a pgxpool with the CapacityRepository interface.
func NewCapacityRepository(pool *pgxpool.Pool) CapacityRepository {
	return &capacityRepository{pool: pool}
}

func (r *capacityRepository) Get(ctx context.Context, accountID, delegateID string) (*domain.Capacity, error) {
	var c domain.Capacity
	err := r.pool.QueryRow(ctx, `
		SELECT task_limit, max_build_slots
		FROM delegate_capacities
		WHERE account_id = $1 AND delegate_id = $2
	`, accountID, delegateID).Scan(&c.TaskLimit, &c.MaxBuildSlots)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get capacity for delegate %s: %w", delegateID, err)
	}
	return &c, nil
}

func (r *capacityRepository) Upsert(ctx context.Context, accountID, delegateID string, c domain.Capacity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delegate_capacities (account_id, delegate_id, task_limit, max_build_slots, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account_id, delegate_id)
		DO UPDATE SET task_limit = EXCLUDED.task_limit,
		              max_build_slots = EXCLUDED.max_build_slots,
		              updated_at = NOW()
	`, accountID, delegateID, c.TaskLimit, c.MaxBuildSlots)
	if err != nil {
		return fmt.Errorf("upsert capacity for delegate %s: %w", delegateID, err)
	}
	return nil
}
