package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

const (
	broadcastLogTTL = 24 * time.Hour
	broadcastLogCap = 50
)

func broadcastLogKey(taskID string) string { return "task:broadcasts:" + taskID }

// BroadcastLog keeps the most recent broadcast events of each task so
// operators can see who a task was offered to.
type BroadcastLog interface {
	Record(ctx context.Context, ev domain.BroadcastEvent) error
	Recent(ctx context.Context, taskID string, n int) ([]domain.BroadcastEvent, error)
}

type broadcastLog struct {
	client *redis.Client
}

// NewBroadcastLog creates a Redis-backed BroadcastLog.
func NewBroadcastLog(client *redis.Client) BroadcastLog {
	return &broadcastLog{client: client}
}

func (l *broadcastLog) Record(ctx context.Context, ev domain.BroadcastEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal broadcast event: %w", err)
	}
	key := broadcastLogKey(ev.TaskID)

	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, broadcastLogCap-1)
	pipe.Expire(ctx, key, broadcastLogTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record broadcast for %s: %w", ev.TaskID, err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (l *broadcastLog) Recent(ctx context.Context, taskID string, n int) ([]domain.BroadcastEvent, error) {
	if n <= 0 {
		n = broadcastLogCap
	}
	raw, err := l.client.LRange(ctx, broadcastLogKey(taskID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read broadcasts for %s: %w", taskID, err)
	}
	events := make([]domain.BroadcastEvent, 0, len(raw))
	for _, r := range raw {
		var ev domain.BroadcastEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal broadcast event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
