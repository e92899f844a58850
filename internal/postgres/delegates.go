package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

// DelegateRepository reads delegate records. Registration and heartbeats
// write them elsewhere; this side only reads.
type DelegateRepository interface {
	GetByIDs(ctx context.Context, accountID string, ids []string) ([]domain.Delegate, error)
}

type delegateRepository struct {
	pool *pgxpool.Pool
}

// NewDelegateRepository wraps a pgxpool with the DelegateRepository interface.
func NewDelegateRepository(pool *pgxpool.Pool) DelegateRepository {
	return &delegateRepository{pool: pool}
}

// GetByIDs returns the delegates of accountID whose id is in ids, in the
// order of ids. Unknown ids are skipped.
func (r *delegateRepository) GetByIDs(ctx context.Context, accountID string, ids []string) ([]domain.Delegate, error) {
	if len(ids) == 0 {
		return []domain.Delegate{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, health_status, last_heartbeat_at
		FROM delegates
		WHERE account_id = $1 AND id = ANY($2)
	`, accountID, ids)
	if err != nil {
		return nil, fmt.Errorf("get delegates for account %s: %w", accountID, err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Delegate, len(ids))
	for rows.Next() {
		var d domain.Delegate
		var health string
		var heartbeat time.Time
		if err := rows.Scan(&d.ID, &d.AccountID, &health, &heartbeat); err != nil {
			return nil, fmt.Errorf("scan delegate: %w", err)
		}
		d.HealthStatus = domain.HealthStatus(health)
		d.LastHeartbeatAt = heartbeat
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Delegate, 0, len(byID))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}
