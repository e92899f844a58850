package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

const (
	TopicBroadcast = "delegate.tasks.broadcast"
	TopicResponses = "delegate.tasks.responses"
	TopicCapacity  = "delegate.capacity"
)

// TaskOffer is the message a delegate receives when a task is broadcast to it.
type TaskOffer struct {
	TaskID         string    `json:"task_id"`
	AccountID      string    `json:"account_id"`
	TaskType       string    `json:"task_type"`
	DelegateID     string    `json:"delegate_id"`
	BroadcastCount int       `json:"broadcast_count"`
	BroadcastRound int       `json:"broadcast_round"`
	Expiry         time.Time `json:"expiry"`
}

// BroadcastSink offers a task to delegates by publishing one TaskOffer per
// delegate, keyed by delegate id.
type BroadcastSink struct {
	producer Producer
	topic    string
}

// NewBroadcastSink creates a sink publishing to topic (TopicBroadcast if empty).
func NewBroadcastSink(producer Producer, topic string) *BroadcastSink {
	if topic == "" {
		topic = TopicBroadcast
	}
	return &BroadcastSink{producer: producer, topic: topic}
}

// Deliver publishes the offers. It does not retry: the next scheduler tick
// rebroadcasts anyway.
func (s *BroadcastSink) Deliver(ctx context.Context, task *domain.Task, delegateIDs []string) error {
	records := make([]Record, 0, len(delegateIDs))
	for _, id := range delegateIDs {
		data, err := json.Marshal(TaskOffer{
			TaskID:         task.ID,
			AccountID:      task.AccountID,
			TaskType:       task.TaskType,
			DelegateID:     id,
			BroadcastCount: task.BroadcastCount,
			BroadcastRound: task.BroadcastRound,
			Expiry:         task.Expiry,
		})
		if err != nil {
			return fmt.Errorf("marshal offer for task %s: %w", task.ID, err)
		}
		records = append(records, Record{Key: id, Value: data})
	}
	return s.producer.PublishBatch(ctx, s.topic, records)
}

// TaskFailure is published when a task ends without ever being acquired.
type TaskFailure struct {
	TaskID    string           `json:"task_id"`
	AccountID string           `json:"account_id"`
	TaskType  string           `json:"task_type"`
	ErrorKind domain.ErrorKind `json:"error_kind"`
	Message   string           `json:"message"`
	At        time.Time        `json:"at"`
}

// ResponseReporter reports terminal task failures to the task owner.
type ResponseReporter struct {
	producer Producer
	topic    string
}

// NewResponseReporter creates a reporter publishing to topic (TopicResponses if empty).
func NewResponseReporter(producer Producer, topic string) *ResponseReporter {
	if topic == "" {
		topic = TopicResponses
	}
	return &ResponseReporter{producer: producer, topic: topic}
}

// ReportFailure publishes a TaskFailure keyed by task id.
func (r *ResponseReporter) ReportFailure(ctx context.Context, task *domain.Task, kind domain.ErrorKind, message string) error {
	data, err := json.Marshal(TaskFailure{
		TaskID:    task.ID,
		AccountID: task.AccountID,
		TaskType:  task.TaskType,
		ErrorKind: kind,
		Message:   message,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal failure for task %s: %w", task.ID, err)
	}
	return r.producer.Publish(ctx, r.topic, task.ID, data)
}
