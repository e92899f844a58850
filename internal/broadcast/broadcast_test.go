package broadcast_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/broadcast"
	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("d%d", i+1)
	}
	return out
}

func TestRotate_FewerThanLimit(t *testing.T) {
	eligible := []string{"d1", "d2", "d3"}
	rotated, chosen := broadcast.Rotate(eligible, domain.BroadcastLimit)

	assert.Equal(t, []string{"d1", "d2", "d3"}, chosen)
	assert.Equal(t, []string{"d1", "d2", "d3"}, rotated)
	assert.Equal(t, []string{"d1", "d2", "d3"}, eligible, "input must not be modified")
}

func TestRotate_MovesFrontToBack(t *testing.T) {
	eligible := ids(12)
	rotated, chosen := broadcast.Rotate(eligible, domain.BroadcastLimit)

	assert.Equal(t, ids(10), chosen)
	assert.Equal(t, append([]string{"d11", "d12"}, ids(10)...), rotated)
}

func TestRotate_Empty(t *testing.T) {
	rotated, chosen := broadcast.Rotate(nil, domain.BroadcastLimit)
	assert.Empty(t, rotated)
	assert.Empty(t, chosen)
}

func TestRotate_Fairness(t *testing.T) {
	for _, k := range []int{11, 20, 25, 37} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			eligible := ids(k)
			ticks := (k + domain.BroadcastLimit - 1) / domain.BroadcastLimit

			seen := make(map[string]int)
			var order []string
			for range ticks {
				var chosen []string
				eligible, chosen = broadcast.Rotate(eligible, domain.BroadcastLimit)
				order = append(order, chosen...)
			}
			for i, id := range order {
				if i < k {
					require.Zero(t, seen[id], "%s offered twice before everyone had a turn", id)
				}
				seen[id]++
			}
			for _, id := range ids(k) {
				assert.GreaterOrEqual(t, seen[id], 1, "%s never offered", id)
			}
		})
	}
}

func TestFibonacci(t *testing.T) {
	want := []int{1, 1, 2, 3, 5, 8, 13}
	for n, w := range want {
		assert.Equal(t, w, broadcast.Fibonacci(n), "Fibonacci(%d)", n)
	}
}

func TestBackoff_RoundInProgress(t *testing.T) {
	step := broadcast.DefaultBackoff.Next(nil, []string{"d1"}, []string{"d1", "d2"}, 2)

	assert.False(t, step.RoundClosed)
	assert.Equal(t, 2, step.Round)
	assert.Equal(t, 5*time.Second, step.Interval)
	assert.Equal(t, []string{"d1"}, step.AlreadyTried)
}

func TestBackoff_RoundClosesWithFibonacciInterval(t *testing.T) {
	eligible := []string{"d1", "d2"}
	step := broadcast.DefaultBackoff.Next([]string{"d1"}, []string{"d2"}, eligible, 2)

	assert.True(t, step.RoundClosed)
	assert.Equal(t, 3, step.Round)
	assert.Equal(t, time.Duration(broadcast.Fibonacci(3))*time.Minute, step.Interval)
	assert.Empty(t, step.AlreadyTried)
}

func TestBackoff_ThreeDelegateScenario(t *testing.T) {
	eligible := []string{"d1", "d2", "d3"}
	rotated, chosen := broadcast.Rotate(eligible, domain.BroadcastLimit)
	step := broadcast.DefaultBackoff.Next(nil, chosen, rotated, 0)

	assert.Equal(t, eligible, chosen)
	assert.True(t, step.RoundClosed)
	assert.Equal(t, 1, step.Round)
	assert.Equal(t, time.Minute, step.Interval)
}

func TestBackoff_LastRoundReachesMax(t *testing.T) {
	step := broadcast.DefaultBackoff.Next(nil, []string{"d1"}, []string{"d1"}, domain.MaxRound-1)
	assert.True(t, step.RoundClosed)
	assert.Equal(t, domain.MaxRound, step.Round)

	// An exhausted task never advances further.
	step = broadcast.DefaultBackoff.Next(nil, []string{"d1"}, []string{"d1"}, domain.MaxRound)
	assert.False(t, step.RoundClosed)
	assert.Equal(t, domain.MaxRound, step.Round)
}
