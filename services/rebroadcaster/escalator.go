package rebroadcaster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
	"github.com/ramiqadoumi/delegate-rebroadcast/pkg/retry"
)

// EscalationStore claims and fails exhausted tasks through conditional
// updates keyed on the broadcast count.
type EscalationStore interface {
	LeaseEscalation(ctx context.Context, id string, expectedBroadcastCount int, until time.Time) (*domain.Task, error)
	MarkFailed(ctx context.Context, id string, expectedBroadcastCount int) (*domain.Task, error)
}

// FailureReporter tells the task owner that a task ended in failure.
type FailureReporter interface {
	ReportFailure(ctx context.Context, task *domain.Task, kind domain.ErrorKind, message string) error
}

const defaultEscalationLease = time.Minute

// FailureEscalator ends tasks that exhausted every broadcast round.
//
// The task is leased first so only one replica reports it at a time. It is
// marked FAILED only once the report has been published; a report that never
// lands leaves the task QUEUED and it is leased again when the lease ends.
type FailureEscalator struct {
	store    EscalationStore
	reporter FailureReporter
	recorder Recorder // nil = disabled
	retry    retry.Config
	lease    time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewFailureEscalator builds an escalator. recorder may be nil.
func NewFailureEscalator(store EscalationStore, reporter FailureReporter, recorder Recorder, logger *slog.Logger) *FailureEscalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureEscalator{
		store:    store,
		reporter: reporter,
		recorder: recorder,
		retry:    retry.Config{MaxAttempts: 3, Backoff: retry.Fibonacci(200 * time.Millisecond)},
		lease:    defaultEscalationLease,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Escalate returns *domain.StaleBroadcastError if another replica holds or
// finished the escalation.
func (e *FailureEscalator) Escalate(ctx context.Context, task *domain.Task) error {
	leased, err := e.store.LeaseEscalation(ctx, task.ID, task.BroadcastCount, e.now().Add(e.lease))
	if err != nil {
		return err
	}

	cause := &domain.RebroadcastLimitReachedError{TaskID: task.ID, Rounds: task.BroadcastRound}
	err = retry.Do(ctx, e.retry, func(ctx context.Context) error {
		return e.reporter.ReportFailure(ctx, leased, domain.ErrorKindRebroadcastLimitReached, cause.Error())
	})
	if err != nil {
		e.logger.Warn("failure report not delivered, retrying after lease",
			slog.String("task_id", task.ID),
			slog.String("account_id", task.AccountID),
			slog.Time("lease_until", leased.NextBroadcastAt),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("report failure for task %s: %w", task.ID, err)
	}

	failed, err := e.store.MarkFailed(ctx, leased.ID, leased.BroadcastCount)
	if err != nil {
		return fmt.Errorf("mark task %s failed after report: %w", task.ID, err)
	}

	if e.recorder != nil {
		ev := domain.BroadcastEvent{
			ID:             uuid.NewString(),
			TaskID:         failed.ID,
			AccountID:      failed.AccountID,
			TaskType:       failed.TaskType,
			Round:          failed.BroadcastRound,
			BroadcastCount: failed.BroadcastCount,
			Escalated:      true,
			At:             e.now(),
		}
		if err := e.recorder.Record(ctx, ev); err != nil {
			e.logger.Warn("record escalation event",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
