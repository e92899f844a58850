package broadcast

import (
	"time"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

// Backoff decides how long a task rests before its next broadcast.
//
// While a round is still in progress the wait is InRoundInterval. Once every
// eligible delegate has been tried the round closes, the tried set resets and
// the wait becomes Fibonacci(newRound) * RoundUnit:
//
//	round 0 -> 1: 1m
//	round 1 -> 2: 2m
//	round 2 -> 3: 3m
//	round 3 -> 4: 5m
//	round 4 -> 5: 8m (exhausted, escalated on the next scan)
type Backoff struct {
	MaxRound        int
	InRoundInterval time.Duration
	RoundUnit       time.Duration
}

// DefaultBackoff is the production schedule.
var DefaultBackoff = Backoff{
	MaxRound:        domain.MaxRound,
	InRoundInterval: 5 * time.Second,
	RoundUnit:       time.Minute,
}

// Step is the outcome of one broadcast attempt.
type Step struct {
	AlreadyTried []string
	Round        int
	Interval     time.Duration
	RoundClosed  bool
}

// Next folds chosen into alreadyTried and returns the resulting state.
func (b Backoff) Next(alreadyTried, chosen, eligible []string, round int) Step {
	tried := union(alreadyTried, chosen)
	if !covers(tried, eligible) || round >= b.MaxRound {
		return Step{AlreadyTried: tried, Round: round, Interval: b.InRoundInterval}
	}
	next := round + 1
	return Step{
		AlreadyTried: []string{},
		Round:        next,
		Interval:     time.Duration(Fibonacci(next)) * b.RoundUnit,
		RoundClosed:  true,
	}
}

// Fibonacci returns the n-th term of 1, 1, 2, 3, 5, 8, ... with Fibonacci(0) = 1.
func Fibonacci(n int) int {
	a, b := 1, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}
