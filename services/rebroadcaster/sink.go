package rebroadcaster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
	"github.com/ramiqadoumi/delegate-rebroadcast/pkg/telemetry"
)

// DelegateLoader fetches delegate records in request order.
type DelegateLoader interface {
	GetByIDs(ctx context.Context, accountID string, ids []string) ([]domain.Delegate, error)
}

// DelegateSelector applies resource criteria to a candidate list.
type DelegateSelector interface {
	Select(ctx context.Context, delegates []domain.Delegate, taskType, accountID string) ([]domain.Delegate, error)
}

// FilteringSink narrows each delivery to healthy delegates with spare
// capacity, least loaded first. The claimed broadcast state is unaffected:
// delegates filtered out here still count as tried for the round.
type FilteringSink struct {
	next      BroadcastSink
	delegates DelegateLoader
	selector  DelegateSelector
	logger    *slog.Logger
}

// NewFilteringSink wraps next.
func NewFilteringSink(next BroadcastSink, delegates DelegateLoader, selector DelegateSelector, logger *slog.Logger) *FilteringSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilteringSink{next: next, delegates: delegates, selector: selector, logger: logger}
}

func (f *FilteringSink) Deliver(ctx context.Context, task *domain.Task, delegateIDs []string) error {
	candidates, err := f.delegates.GetByIDs(ctx, task.AccountID, delegateIDs)
	if err != nil {
		return fmt.Errorf("load delegates for task %s: %w", task.ID, err)
	}

	selected, err := f.selector.Select(ctx, candidates, task.TaskType, task.AccountID)
	if err != nil {
		return fmt.Errorf("select delegates for task %s: %w", task.ID, err)
	}
	if len(selected) == 0 {
		telemetry.SelectionFilteredEmptyTotal.Inc()
		f.logger.Info("no chosen delegate passed resource filtering",
			slog.String("task_id", task.ID),
			slog.Int("candidates", len(delegateIDs)),
		)
		return nil
	}

	ids := make([]string, len(selected))
	for i, d := range selected {
		ids[i] = d.ID
	}
	return f.next.Deliver(ctx, task, ids)
}
