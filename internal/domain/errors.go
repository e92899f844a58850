package domain

import "fmt"

// ErrorKind classifies terminal failures reported back to task owners.
type ErrorKind string

const ErrorKindRebroadcastLimitReached ErrorKind = "REBROADCAST_LIMIT_REACHED"

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// StaleBroadcastError is returned by a conditional update whose expected
// broadcast count no longer matches. Another replica already advanced the task.
type StaleBroadcastError struct {
	TaskID                 string
	ExpectedBroadcastCount int
}

func (e *StaleBroadcastError) Error() string {
	return fmt.Sprintf("task %s no longer at broadcast count %d", e.TaskID, e.ExpectedBroadcastCount)
}

// RebroadcastLimitReachedError describes a task that used up every round.
type RebroadcastLimitReachedError struct {
	TaskID string
	Rounds int
}

func (e *RebroadcastLimitReachedError) Error() string {
	return fmt.Sprintf("task %s not acquired by any delegate after %d broadcast rounds", e.TaskID, e.Rounds)
}
