package selection

import (
	"context"
	"fmt"
	"time"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

// CapacityLookup returns a delegate's registered capacity, or nil when the
// delegate is unconstrained.
type CapacityLookup interface {
	GetCapacity(ctx context.Context, delegateID, accountID string) (*domain.Capacity, error)
}

// AssignedCounter returns the number of tasks currently assigned to each
// delegate of an account. Delegates with nothing assigned may be absent.
type AssignedCounter interface {
	AssignedCounts(ctx context.Context, accountID string) (map[string]int, error)
}

// Selector fills in capacity and live load for each candidate and then runs
// the criteria over the result.
type Selector struct {
	capacities CapacityLookup
	counts     AssignedCounter
	criteria   Criteria
}

// NewSelector builds a Selector. A nil criteria selects everything.
func NewSelector(capacities CapacityLookup, counts AssignedCounter, criteria Criteria) *Selector {
	if criteria == nil {
		criteria = identity
	}
	return &Selector{capacities: capacities, counts: counts, criteria: criteria}
}

// Default returns the health, capacity, load chain used for broadcasts.
func Default(now func() time.Time, heartbeatStaleAfter time.Duration) Criteria {
	return Chain(HealthFilter(now, heartbeatStaleAfter), CapacityFilter, LoadOrder)
}

// Select hydrates delegates and applies the criteria.
func (s *Selector) Select(ctx context.Context, delegates []domain.Delegate, taskType, accountID string) ([]domain.Delegate, error) {
	if len(delegates) == 0 {
		return []domain.Delegate{}, nil
	}

	counts, err := s.counts.AssignedCounts(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("assigned counts for account %s: %w", accountID, err)
	}

	hydrated := make([]domain.Delegate, len(delegates))
	for i, d := range delegates {
		c, err := s.capacities.GetCapacity(ctx, d.ID, accountID)
		if err != nil {
			return nil, fmt.Errorf("capacity for delegate %s: %w", d.ID, err)
		}
		d.Capacity = c
		// A delegate missing from counts has nothing assigned right now.
		d.NumberOfTasksAssigned = counts[d.ID]
		hydrated[i] = d
	}

	return s.criteria(hydrated, taskType, accountID), nil
}
