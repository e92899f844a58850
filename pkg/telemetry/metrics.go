package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Rebroadcaster ───────────────────────────────────────────────────────────

	RebroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delegate",
		Subsystem: "rebroadcaster",
		Name:      "rebroadcasts_total",
		Help:      "Broadcast attempts claimed by this replica, labelled by whether the attempt closed a round.",
	}, []string{"round_closed"})

	LostRacesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "delegate",
		Subsystem: "rebroadcaster",
		Name:      "lost_races_total",
		Help:      "Conditional updates rejected because another replica claimed the attempt first.",
	})

	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "delegate",
		Subsystem: "rebroadcaster",
		Name:      "escalations_total",
		Help:      "Tasks failed after exhausting every broadcast round.",
	})

	NoEligibleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "delegate",
		Subsystem: "rebroadcaster",
		Name:      "no_eligible_delegates_total",
		Help:      "Ready tasks skipped because their eligibility list was empty.",
	})

	ThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "delegate",
		Subsystem: "rebroadcaster",
		Name:      "throttled_total",
		Help:      "Ready tasks deferred by the per-account broadcast rate limit.",
	})

	TaskErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delegate",
		Subsystem: "rebroadcaster",
		Name:      "task_errors_total",
		Help:      "Per-task processing failures, labelled by stage.",
	}, []string{"stage"})

	TickDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "delegate",
		Subsystem: "rebroadcaster",
		Name:      "tick_duration_seconds",
		Help:      "Time spent scanning and processing one batch of ready tasks.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	TickTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "delegate",
		Subsystem: "rebroadcaster",
		Name:      "tick_ready_tasks",
		Help:      "Ready tasks found by the most recent scan.",
	})

	// ─── Selection ───────────────────────────────────────────────────────────────

	SelectionFilteredEmptyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "delegate",
		Subsystem: "selection",
		Name:      "filtered_empty_total",
		Help:      "Broadcasts where resource filtering removed every chosen delegate.",
	})

	// ─── Capacity listener ───────────────────────────────────────────────────────

	CapacityRegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delegate",
		Subsystem: "capacity",
		Name:      "registrations_total",
		Help:      "Capacity registrations consumed, labelled by outcome.",
	}, []string{"outcome"})
)
