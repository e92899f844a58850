package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

// TaskRepository abstracts all database access for delegate tasks.
//
// Every write that touches broadcast state is a conditional update keyed on
// (id, broadcast_count). A mismatch yields *domain.StaleBroadcastError.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	FindReadyTasks(ctx context.Context, filter domain.ReadyFilter) ([]*domain.Task, error)
	ConditionalUpdate(ctx context.Context, id string, expectedBroadcastCount int, upd domain.BroadcastUpdate) (*domain.Task, error)
	LeaseEscalation(ctx context.Context, id string, expectedBroadcastCount int, until time.Time) (*domain.Task, error)
	MarkFailed(ctx context.Context, id string, expectedBroadcastCount int) (*domain.Task, error)
	AssignedCounts(ctx context.Context, accountID string) (map[string]int, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the TaskRepository interface.
func NewRepository(pool *pgxpool.Pool) TaskRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

const taskColumns = `
	id, account_id, task_type, status, eligible_delegate_ids, delegate_id,
	broadcast_count, broadcast_round, already_tried_delegates, broadcast_to_delegate_ids,
	last_broadcast_at, next_broadcast_at, expiry, created_at`

func (r *repository) Create(ctx context.Context, task *domain.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delegate_tasks
			(id, account_id, task_type, status, eligible_delegate_ids, delegate_id,
			 broadcast_count, broadcast_round, already_tried_delegates, broadcast_to_delegate_ids,
			 last_broadcast_at, next_broadcast_at, expiry, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		task.ID, task.AccountID, task.TaskType, string(task.Status),
		nonNil(task.EligibleDelegateIDs), nullable(task.DelegateID),
		task.BroadcastCount, task.BroadcastRound,
		nonNil(task.AlreadyTriedDelegates), nonNil(task.BroadcastToDelegateIDs),
		task.LastBroadcastAt, task.NextBroadcastAt, task.Expiry, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM delegate_tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return task, err
}

// FindReadyTasks returns one page of ready tasks in (next_broadcast_at, id)
// order, starting after filter.After when set.
func (r *repository) FindReadyTasks(ctx context.Context, filter domain.ReadyFilter) ([]*domain.Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	var afterAt *time.Time
	var afterID string
	if filter.After != nil {
		afterAt, afterID = &filter.After.NextBroadcastAt, filter.After.ID
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM delegate_tasks
		WHERE status = $1
		  AND delegate_id IS NULL
		  AND next_broadcast_at < $2
		  AND expiry > $2
		  AND broadcast_round <= $3
		  AND ($5::timestamptz IS NULL OR (next_broadcast_at, id) > ($5::timestamptz, $6::text))
		ORDER BY next_broadcast_at ASC, id ASC
		LIMIT $4
	`, string(domain.StatusQueued), filter.Now, filter.MaxRound, limit, afterAt, afterID)
	if err != nil {
		return nil, fmt.Errorf("find ready tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *repository) ConditionalUpdate(
	ctx context.Context,
	id string,
	expectedBroadcastCount int,
	upd domain.BroadcastUpdate,
) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE delegate_tasks
		SET broadcast_count           = broadcast_count + 1,
		    eligible_delegate_ids     = $3,
		    already_tried_delegates   = $4,
		    broadcast_to_delegate_ids = $5,
		    broadcast_round           = $6,
		    last_broadcast_at         = $7,
		    next_broadcast_at         = $8
		WHERE id = $1
		  AND broadcast_count = $2
		  AND status = 'QUEUED'
		  AND delegate_id IS NULL
		RETURNING `+taskColumns,
		id, expectedBroadcastCount,
		nonNil(upd.EligibleDelegateIDs), nonNil(upd.AlreadyTriedDelegates), nonNil(upd.BroadcastToDelegateIDs),
		upd.BroadcastRound, upd.LastBroadcastAt, upd.NextBroadcastAt,
	)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.StaleBroadcastError{TaskID: id, ExpectedBroadcastCount: expectedBroadcastCount}
	}
	if err != nil {
		return nil, fmt.Errorf("conditional update for task %s: %w", id, err)
	}
	return task, nil
}

// LeaseEscalation claims an exhausted task for reporting by advancing its
// broadcast count and hiding it from scans until the lease ends. The task
// stays QUEUED, so a lease whose report never lands is picked up again.
func (r *repository) LeaseEscalation(ctx context.Context, id string, expectedBroadcastCount int, until time.Time) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE delegate_tasks
		SET broadcast_count   = broadcast_count + 1,
		    next_broadcast_at = $3
		WHERE id = $1
		  AND broadcast_count = $2
		  AND status = 'QUEUED'
		  AND delegate_id IS NULL
		RETURNING `+taskColumns,
		id, expectedBroadcastCount, until,
	)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.StaleBroadcastError{TaskID: id, ExpectedBroadcastCount: expectedBroadcastCount}
	}
	if err != nil {
		return nil, fmt.Errorf("lease escalation for task %s: %w", id, err)
	}
	return task, nil
}

func (r *repository) MarkFailed(ctx context.Context, id string, expectedBroadcastCount int) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE delegate_tasks
		SET status = 'FAILED',
		    broadcast_count = broadcast_count + 1
		WHERE id = $1
		  AND broadcast_count = $2
		  AND status = 'QUEUED'
		RETURNING `+taskColumns,
		id, expectedBroadcastCount,
	)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.StaleBroadcastError{TaskID: id, ExpectedBroadcastCount: expectedBroadcastCount}
	}
	if err != nil {
		return nil, fmt.Errorf("mark task %s failed: %w", id, err)
	}
	return task, nil
}

func (r *repository) AssignedCounts(ctx context.Context, accountID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT delegate_id, COUNT(*)
		FROM delegate_tasks
		WHERE account_id = $1
		  AND status = 'ASSIGNED'
		  AND delegate_id IS NOT NULL
		GROUP BY delegate_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("assigned counts for account %s: %w", accountID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var delegateID string
		var n int
		if err := rows.Scan(&delegateID, &n); err != nil {
			return nil, fmt.Errorf("scan assigned count: %w", err)
		}
		counts[delegateID] = n
	}
	return counts, rows.Err()
}

// scanTask reads a task row from any pgx row type. pgx.ErrNoRows is returned
// unwrapped so callers can map it.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var task domain.Task
	var statusStr string
	var delegateID *string
	err := row.Scan(
		&task.ID, &task.AccountID, &task.TaskType, &statusStr,
		&task.EligibleDelegateIDs, &delegateID,
		&task.BroadcastCount, &task.BroadcastRound,
		&task.AlreadyTriedDelegates, &task.BroadcastToDelegateIDs,
		&task.LastBroadcastAt, &task.NextBroadcastAt, &task.Expiry, &task.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Status = domain.Status(statusStr)
	if delegateID != nil {
		task.DelegateID = *delegateID
	}
	return &task, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
