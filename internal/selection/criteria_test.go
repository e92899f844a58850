package selection_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
	"github.com/ramiqadoumi/delegate-rebroadcast/internal/selection"
)

const account = "acct-1"

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func now() time.Time { return fixedNow }

func healthy(id string) domain.Delegate {
	return domain.Delegate{ID: id, AccountID: account, HealthStatus: domain.HealthHealthy, LastHeartbeatAt: fixedNow}
}

func idsOf(ds []domain.Delegate) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

// tenDelegates returns d1..d10 where d2,d5 are unhealthy and d3,d6,d9 are full.
func tenDelegates() []domain.Delegate {
	var ds []domain.Delegate
	for i := 1; i <= 10; i++ {
		d := healthy(fmt.Sprintf("d%d", i))
		switch i {
		case 2, 5:
			d.HealthStatus = domain.HealthUnhealthy
		case 3, 6, 9:
			d.Capacity = &domain.Capacity{TaskLimit: 2, MaxBuildSlots: 2}
			d.NumberOfTasksAssigned = 2
		}
		ds = append(ds, d)
	}
	return ds
}

func TestAnd_HealthThenCapacity(t *testing.T) {
	combined := selection.And(selection.HealthFilter(now, 0), selection.CapacityFilter)
	got := combined(tenDelegates(), "SHELL_SCRIPT", account)

	assert.Equal(t, []string{"d1", "d4", "d7", "d8", "d10"}, idsOf(got))
}

func TestAnd_EqualsSequentialApplication(t *testing.T) {
	a := selection.HealthFilter(now, 0)
	b := selection.CapacityFilter
	in := tenDelegates()

	assert.Equal(t, b(a(in, "X", account), "X", account), selection.And(a, b)(in, "X", account))
}

func TestAnd_OrderSensitive(t *testing.T) {
	in := []domain.Delegate{healthy("d1"), healthy("d2"), healthy("d3")}
	in[0].NumberOfTasksAssigned = 5
	in[1].NumberOfTasksAssigned = 1
	in[2].NumberOfTasksAssigned = 3

	// Take the first two, then order: ordering only sees d1 and d2.
	firstTwo := func(ds []domain.Delegate, _, _ string) []domain.Delegate { return ds[:min(2, len(ds))] }

	assert.Equal(t, []string{"d2", "d1"}, idsOf(selection.And(firstTwo, selection.LoadOrder)(in, "", account)))
	assert.Equal(t, []string{"d2", "d3"}, idsOf(selection.And(selection.LoadOrder, firstTwo)(in, "", account)))
}

func TestCriteria_EmptyInput(t *testing.T) {
	for name, c := range map[string]selection.Criteria{
		"health":   selection.HealthFilter(now, time.Minute),
		"capacity": selection.CapacityFilter,
		"load":     selection.LoadOrder,
		"chain":    selection.Default(now, time.Minute),
	} {
		t.Run(name, func(t *testing.T) {
			got := c(nil, "SHELL_SCRIPT", account)
			require.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestHealthFilter_StaleHeartbeat(t *testing.T) {
	fresh := healthy("fresh")
	stale := healthy("stale")
	stale.LastHeartbeatAt = fixedNow.Add(-10 * time.Minute)

	got := selection.HealthFilter(now, 5*time.Minute)([]domain.Delegate{fresh, stale}, "", account)
	assert.Equal(t, []string{"fresh"}, idsOf(got))

	got = selection.HealthFilter(now, 0)([]domain.Delegate{fresh, stale}, "", account)
	assert.Equal(t, []string{"fresh", "stale"}, idsOf(got), "staleness check disabled")
}

func TestCapacityFilter(t *testing.T) {
	tests := []struct {
		name     string
		capacity *domain.Capacity
		assigned int
		taskType string
		keep     bool
	}{
		{"no capacity registered", nil, 30, "SHELL_SCRIPT", true},
		{"below task limit", &domain.Capacity{TaskLimit: 10}, 3, "SHELL_SCRIPT", true},
		{"at task limit", &domain.Capacity{TaskLimit: 4}, 4, "SHELL_SCRIPT", false},
		{"over task limit", &domain.Capacity{TaskLimit: 5}, 6, "SHELL_SCRIPT", false},
		{"ci uses build slots", &domain.Capacity{TaskLimit: 100, MaxBuildSlots: 2}, 2, "CI_BUILD", false},
		{"ci below build slots", &domain.Capacity{TaskLimit: 1, MaxBuildSlots: 5}, 3, "INITIALIZATION_PHASE", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := healthy("d1")
			d.Capacity = tt.capacity
			d.NumberOfTasksAssigned = tt.assigned
			got := selection.CapacityFilter([]domain.Delegate{d}, tt.taskType, account)
			assert.Equal(t, tt.keep, len(got) == 1)
		})
	}
}

func TestLoadOrder_StableAscending(t *testing.T) {
	in := []domain.Delegate{healthy("d1"), healthy("d2"), healthy("d3"), healthy("d4"), healthy("d5")}
	loads := []int{4, 0, 2, 0, 1}
	for i := range in {
		in[i].NumberOfTasksAssigned = loads[i]
	}

	got := selection.LoadOrder(in, "", account)
	assert.Equal(t, []string{"d2", "d4", "d5", "d3", "d1"}, idsOf(got))
	assert.Equal(t, "d1", in[0].ID, "input must not be reordered")
}

// ── selector ─────────────────────────────────────────────────────────────────

type fakeCapacities map[string]*domain.Capacity

func (f fakeCapacities) GetCapacity(_ context.Context, delegateID, _ string) (*domain.Capacity, error) {
	return f[delegateID], nil
}

type fakeCounts struct {
	counts map[string]int
	err    error
}

func (f *fakeCounts) AssignedCounts(_ context.Context, _ string) (map[string]int, error) {
	return f.counts, f.err
}

func TestSelector_HydratesFromStore(t *testing.T) {
	caps := fakeCapacities{"d3": {TaskLimit: 2, MaxBuildSlots: 2}}
	counts := &fakeCounts{counts: map[string]int{"d1": 1, "d2": 2, "d3": 3}}
	s := selection.NewSelector(caps, counts, selection.Default(now, 0))

	in := []domain.Delegate{healthy("d1"), healthy("d2"), healthy("d3")}
	// Stale counts on the record itself are ignored.
	in[0].NumberOfTasksAssigned = 99

	got, err := s.Select(context.Background(), in, "INITIALIZATION_PHASE", account)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, idsOf(got))
	assert.Equal(t, 1, got[0].NumberOfTasksAssigned)
}

func TestSelector_CountMissIsZeroLoad(t *testing.T) {
	counts := &fakeCounts{counts: map[string]int{"d1": 2}}
	s := selection.NewSelector(fakeCapacities{}, counts, selection.LoadOrder)

	got, err := s.Select(context.Background(), []domain.Delegate{healthy("d1"), healthy("d2")}, "", account)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d1"}, idsOf(got))
}

func TestSelector_CountError(t *testing.T) {
	s := selection.NewSelector(fakeCapacities{}, &fakeCounts{err: errors.New("db down")}, nil)

	_, err := s.Select(context.Background(), []domain.Delegate{healthy("d1")}, "", account)
	require.Error(t, err)
}

func TestSelector_EmptyInputSkipsLookups(t *testing.T) {
	s := selection.NewSelector(fakeCapacities{}, &fakeCounts{err: errors.New("must not be called")}, nil)

	got, err := s.Select(context.Background(), nil, "", account)
	require.NoError(t, err)
	assert.Empty(t, got)
}
