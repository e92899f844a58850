// Package selection narrows and orders candidate delegates for a task.
//
// Each criterion is a plain function over a delegate list. Criteria compose
// by feeding one's output into the next, so And(a, b) is b applied to the
// result of a. Composition is order sensitive: a filter placed after an
// ordering keeps that order, an ordering placed after a filter only sees the
// survivors.
package selection

import (
	"cmp"
	"slices"
	"time"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

// Criteria narrows or reorders delegates for a task of taskType in accountID.
// It must not modify its input and must return an empty list for empty input.
type Criteria func(delegates []domain.Delegate, taskType, accountID string) []domain.Delegate

// And returns a criterion that applies a and then b.
func And(a, b Criteria) Criteria {
	return func(delegates []domain.Delegate, taskType, accountID string) []domain.Delegate {
		return b(a(delegates, taskType, accountID), taskType, accountID)
	}
}

// Chain folds criteria left to right with And. An empty chain is the identity.
func Chain(criteria ...Criteria) Criteria {
	out := Criteria(identity)
	for _, c := range criteria {
		out = And(out, c)
	}
	return out
}

func identity(delegates []domain.Delegate, _, _ string) []domain.Delegate {
	return slices.Clone(delegates)
}

func filter(delegates []domain.Delegate, keep func(domain.Delegate) bool) []domain.Delegate {
	out := make([]domain.Delegate, 0, len(delegates))
	for _, d := range delegates {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// HealthFilter keeps delegates that report HEALTHY. When staleAfter is
// positive, a delegate whose last heartbeat is older than that is dropped too.
func HealthFilter(now func() time.Time, staleAfter time.Duration) Criteria {
	return func(delegates []domain.Delegate, _, _ string) []domain.Delegate {
		var cutoff time.Time
		if staleAfter > 0 {
			cutoff = now().Add(-staleAfter)
		}
		return filter(delegates, func(d domain.Delegate) bool {
			if d.HealthStatus != domain.HealthHealthy {
				return false
			}
			return cutoff.IsZero() || !d.LastHeartbeatAt.Before(cutoff)
		})
	}
}

// CapacityFilter keeps unconstrained delegates and those below the limit that
// applies to taskType.
func CapacityFilter(delegates []domain.Delegate, taskType, _ string) []domain.Delegate {
	return filter(delegates, func(d domain.Delegate) bool {
		if d.Capacity == nil {
			return true
		}
		return d.NumberOfTasksAssigned < d.Capacity.LimitFor(taskType)
	})
}

// LoadOrder sorts delegates by currently assigned tasks, least loaded first.
// Ties keep their input order.
func LoadOrder(delegates []domain.Delegate, _, _ string) []domain.Delegate {
	out := slices.Clone(delegates)
	if out == nil {
		out = []domain.Delegate{}
	}
	slices.SortStableFunc(out, func(a, b domain.Delegate) int {
		return cmp.Compare(a.NumberOfTasksAssigned, b.NumberOfTasksAssigned)
	})
	return out
}
