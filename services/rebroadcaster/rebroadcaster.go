// Package rebroadcaster periodically re-offers unassigned delegate tasks.
//
// Every replica scans the same store. Each broadcast attempt is claimed with a
// conditional update keyed on (task id, broadcast count), so at most one
// replica wins a given attempt and losers drop the task for that tick.
package rebroadcaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/broadcast"
	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
	"github.com/ramiqadoumi/delegate-rebroadcast/pkg/telemetry"
)

// TaskStore is the subset of the task repository the scheduler needs.
type TaskStore interface {
	FindReadyTasks(ctx context.Context, filter domain.ReadyFilter) ([]*domain.Task, error)
	ConditionalUpdate(ctx context.Context, id string, expectedBroadcastCount int, upd domain.BroadcastUpdate) (*domain.Task, error)
}

// BroadcastSink hands a claimed attempt to the delivery layer.
type BroadcastSink interface {
	Deliver(ctx context.Context, task *domain.Task, delegateIDs []string) error
}

// Escalator fails a task that has used up every round. It returns
// *domain.StaleBroadcastError when another replica escalated first.
type Escalator interface {
	Escalate(ctx context.Context, task *domain.Task) error
}

// Recorder keeps a history of broadcast attempts.
type Recorder interface {
	Record(ctx context.Context, ev domain.BroadcastEvent) error
}

// Limiter throttles broadcasts per account.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Outcome is what happened to one task during a tick.
type Outcome int

const (
	OutcomeClaimed Outcome = iota
	OutcomeLostRace
	OutcomeEscalated
	OutcomeNoEligible
	OutcomeThrottled
	OutcomeFailed
)

// TickStats summarises one tick.
type TickStats struct {
	Scanned    int
	Claimed    int
	LostRace   int
	Escalated  int
	NoEligible int
	Throttled  int
	Failed     int
}

// Scheduler runs the rebroadcast loop.
type Scheduler struct {
	store     TaskStore
	sink      BroadcastSink
	escalator Escalator

	backoff     broadcast.Backoff
	limit       int
	scanLimit   int
	concurrency int
	schedule    cron.Schedule
	limiter     Limiter
	recorder    Recorder
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option       { return func(s *Scheduler) { s.logger = l } }
func WithClock(now func() time.Time) Option  { return func(s *Scheduler) { s.now = now } }
func WithSchedule(sch cron.Schedule) Option  { return func(s *Scheduler) { s.schedule = sch } }
func WithScanLimit(n int) Option             { return func(s *Scheduler) { s.scanLimit = n } }
func WithConcurrency(n int) Option           { return func(s *Scheduler) { s.concurrency = n } }
func WithBackoff(b broadcast.Backoff) Option { return func(s *Scheduler) { s.backoff = b } }
func WithRateLimiter(l Limiter) Option       { return func(s *Scheduler) { s.limiter = l } }
func WithRecorder(r Recorder) Option         { return func(s *Scheduler) { s.recorder = r } }
func WithBroadcastLimit(n int) Option        { return func(s *Scheduler) { s.limit = n } }

// NewScheduler constructs a Scheduler. The default cadence is every 5s.
func NewScheduler(store TaskStore, sink BroadcastSink, escalator Escalator, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		sink:        sink,
		escalator:   escalator,
		backoff:     broadcast.DefaultBackoff,
		limit:       domain.BroadcastLimit,
		scanLimit:   500,
		concurrency: 1,
		schedule:    cron.Every(5 * time.Second),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	if s.scanLimit < 1 {
		s.scanLimit = 500
	}
	return s
}

// Run ticks once immediately and then on the schedule, measured from the end
// of the previous tick, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("rebroadcast tick failed", slog.String("error", err.Error()))
		}

		finished := s.now()
		timer := time.NewTimer(s.schedule.Next(finished).Sub(finished))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Tick scans every ready task once, page by page, and processes each in
// isolation. Pages are keyset-ordered on (next_broadcast_at, id), so tasks
// left untouched on one page never hide later pages. Only a failed scan is
// returned as an error; per-task failures are counted in TickStats.
func (s *Scheduler) Tick(ctx context.Context) (TickStats, error) {
	ctx, span := otel.Tracer("rebroadcaster").Start(ctx, "rebroadcaster.tick")
	defer span.End()

	start := time.Now()
	defer func() { telemetry.TickDurationSeconds.Observe(time.Since(start).Seconds()) }()

	filter := domain.ReadyFilter{
		Now:      s.now(),
		MaxRound: s.backoff.MaxRound,
		Limit:    s.scanLimit,
	}
	var counts [OutcomeFailed + 1]atomic.Int64
	scanned, pages := 0, 0
	var scanErr error
	for {
		tasks, err := s.store.FindReadyTasks(ctx, filter)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			scanErr = fmt.Errorf("scan ready tasks (page %d): %w", pages+1, err)
			break
		}
		pages++
		scanned += len(tasks)

		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for _, task := range tasks {
			g.Go(func() error {
				counts[s.processTask(ctx, task)].Add(1)
				return nil
			})
		}
		_ = g.Wait()

		if len(tasks) < s.scanLimit || ctx.Err() != nil {
			break
		}
		filter.After = domain.CursorAt(tasks[len(tasks)-1])
	}
	telemetry.TickTasks.Set(float64(scanned))
	span.SetAttributes(attribute.Int("tick.ready_tasks", scanned), attribute.Int("tick.pages", pages))

	stats := TickStats{
		Scanned:    scanned,
		Claimed:    int(counts[OutcomeClaimed].Load()),
		LostRace:   int(counts[OutcomeLostRace].Load()),
		Escalated:  int(counts[OutcomeEscalated].Load()),
		NoEligible: int(counts[OutcomeNoEligible].Load()),
		Throttled:  int(counts[OutcomeThrottled].Load()),
		Failed:     int(counts[OutcomeFailed].Load()),
	}
	if stats.Scanned > 0 {
		s.logger.Debug("rebroadcast tick complete",
			slog.Int("scanned", stats.Scanned),
			slog.Int("pages", pages),
			slog.Int("claimed", stats.Claimed),
			slog.Int("lost_race", stats.LostRace),
			slog.Int("escalated", stats.Escalated),
			slog.Int("failed", stats.Failed),
		)
	}
	return stats, scanErr
}

// processTask never lets one task's failure or panic reach its siblings.
func (s *Scheduler) processTask(ctx context.Context, task *domain.Task) (out Outcome) {
	log := s.logger.With(
		slog.String("task_id", task.ID),
		slog.String("account_id", task.AccountID),
	)
	defer func() {
		if r := recover(); r != nil {
			telemetry.TaskErrorsTotal.WithLabelValues("panic").Inc()
			log.Error("panic while rebroadcasting task",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out = OutcomeFailed
		}
	}()

	ctx, span := otel.Tracer("rebroadcaster").Start(ctx, "rebroadcaster.process_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int("task.broadcast_count", task.BroadcastCount),
		attribute.Int("task.broadcast_round", task.BroadcastRound),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		log = log.With(slog.String("trace_id", sc.TraceID().String()))
	}

	if task.Exhausted(s.backoff.MaxRound) {
		return s.escalate(ctx, task, log)
	}

	if len(task.EligibleDelegateIDs) == 0 {
		telemetry.NoEligibleTotal.Inc()
		log.Info("no eligible delegates, leaving task untouched")
		return OutcomeNoEligible
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, task.AccountID)
		switch {
		case err != nil:
			// Fail open: the limiter only smooths load.
			log.Warn("broadcast rate limiter unavailable", slog.String("error", err.Error()))
		case !ok:
			telemetry.ThrottledTotal.Inc()
			log.Debug("broadcast throttled for account")
			return OutcomeThrottled
		}
	}

	now := s.now()
	rotated, chosen := broadcast.Rotate(task.EligibleDelegateIDs, s.limit)
	step := s.backoff.Next(task.AlreadyTriedDelegates, chosen, task.EligibleDelegateIDs, task.BroadcastRound)

	claimed, err := s.store.ConditionalUpdate(ctx, task.ID, task.BroadcastCount, domain.BroadcastUpdate{
		EligibleDelegateIDs:    rotated,
		AlreadyTriedDelegates:  step.AlreadyTried,
		BroadcastToDelegateIDs: chosen,
		BroadcastRound:         step.Round,
		LastBroadcastAt:        now,
		NextBroadcastAt:        now.Add(step.Interval),
	})
	var stale *domain.StaleBroadcastError
	if errors.As(err, &stale) {
		telemetry.LostRacesTotal.Inc()
		log.Debug("broadcast attempt claimed by another replica",
			slog.Int("expected_broadcast_count", task.BroadcastCount))
		return OutcomeLostRace
	}
	if err != nil {
		telemetry.TaskErrorsTotal.WithLabelValues("claim").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("claim broadcast attempt", slog.String("error", err.Error()))
		return OutcomeFailed
	}

	telemetry.RebroadcastsTotal.WithLabelValues(strconv.FormatBool(step.RoundClosed)).Inc()
	log.Info("task rebroadcast",
		slog.Int("broadcast_count", claimed.BroadcastCount),
		slog.Int("broadcast_round", claimed.BroadcastRound),
		slog.Any("delegate_ids", chosen),
		slog.Bool("round_closed", step.RoundClosed),
		slog.Time("next_broadcast_at", claimed.NextBroadcastAt),
	)

	// Delivery failures do not undo the claim; the next attempt re-offers.
	if err := s.sink.Deliver(ctx, claimed, chosen); err != nil {
		telemetry.TaskErrorsTotal.WithLabelValues("deliver").Inc()
		log.Error("deliver broadcast", slog.String("error", err.Error()))
	}

	if s.recorder != nil {
		ev := domain.BroadcastEvent{
			ID:             uuid.NewString(),
			TaskID:         claimed.ID,
			AccountID:      claimed.AccountID,
			TaskType:       claimed.TaskType,
			Round:          claimed.BroadcastRound,
			BroadcastCount: claimed.BroadcastCount,
			DelegateIDs:    chosen,
			At:             now,
		}
		if err := s.recorder.Record(ctx, ev); err != nil {
			log.Warn("record broadcast event", slog.String("error", err.Error()))
		}
	}
	return OutcomeClaimed
}

func (s *Scheduler) escalate(ctx context.Context, task *domain.Task, log *slog.Logger) Outcome {
	err := s.escalator.Escalate(ctx, task)
	var stale *domain.StaleBroadcastError
	switch {
	case errors.As(err, &stale):
		telemetry.LostRacesTotal.Inc()
		log.Debug("escalation claimed by another replica")
		return OutcomeLostRace
	case err != nil:
		telemetry.TaskErrorsTotal.WithLabelValues("escalate").Inc()
		log.Error("escalate exhausted task", slog.String("error", err.Error()))
		return OutcomeFailed
	}
	telemetry.EscalationsTotal.Inc()
	log.Warn("task escalated after exhausting broadcast rounds",
		slog.Int("broadcast_round", task.BroadcastRound),
		slog.String("error_kind", string(domain.ErrorKindRebroadcastLimitReached)),
	)
	return OutcomeEscalated
}
