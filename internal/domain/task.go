package domain

import "time"

// Status represents the states a delegate task can be in.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusAssigned Status = "ASSIGNED"
	StatusExpired  Status = "EXPIRED"
	StatusFailed   Status = "FAILED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusFailed
}

const (
	// MaxRound is the number of full rotations a task gets before it is escalated.
	MaxRound = 5
	// BroadcastLimit caps how many delegates are offered a task per attempt.
	BroadcastLimit = 10
)

// Task is a unit of work waiting to be accepted by exactly one delegate.
type Task struct {
	ID                     string     `json:"id"`
	AccountID              string     `json:"account_id"`
	TaskType               string     `json:"task_type"`
	Status                 Status     `json:"status"`
	EligibleDelegateIDs    []string   `json:"eligible_delegate_ids"`
	DelegateID             string     `json:"delegate_id,omitempty"`
	BroadcastCount         int        `json:"broadcast_count"`
	BroadcastRound         int        `json:"broadcast_round"`
	AlreadyTriedDelegates  []string   `json:"already_tried_delegates,omitempty"`
	BroadcastToDelegateIDs []string   `json:"broadcast_to_delegate_ids,omitempty"`
	LastBroadcastAt        *time.Time `json:"last_broadcast_at,omitempty"`
	NextBroadcastAt        time.Time  `json:"next_broadcast_at"`
	Expiry                 time.Time  `json:"expiry"`
	CreatedAt              time.Time  `json:"created_at"`
}

// Exhausted reports whether the task has used up maxRound rounds.
func (t *Task) Exhausted(maxRound int) bool {
	return t.BroadcastRound >= maxRound
}

// BroadcastUpdate is the state written by a successful rebroadcast claim.
// broadcast_count is always advanced by exactly one alongside it.
type BroadcastUpdate struct {
	EligibleDelegateIDs    []string
	AlreadyTriedDelegates  []string
	BroadcastToDelegateIDs []string
	BroadcastRound         int
	LastBroadcastAt        time.Time
	NextBroadcastAt        time.Time
}

// ReadyFilter selects the tasks a scheduler tick is allowed to look at.
// Results are ordered by (NextBroadcastAt, ID); After resumes a scan past
// the last task of the previous page.
type ReadyFilter struct {
	Now      time.Time
	MaxRound int
	Limit    int
	After    *ScanCursor
}

// ScanCursor is a keyset position in the ready-task ordering.
type ScanCursor struct {
	NextBroadcastAt time.Time
	ID              string
}

// CursorAt returns the position of t.
func CursorAt(t *Task) *ScanCursor {
	return &ScanCursor{NextBroadcastAt: t.NextBroadcastAt, ID: t.ID}
}

// Precedes reports whether c sorts strictly before t.
func (c ScanCursor) Precedes(t *Task) bool {
	if cmp := c.NextBroadcastAt.Compare(t.NextBroadcastAt); cmp != 0 {
		return cmp < 0
	}
	return c.ID < t.ID
}

// Matches applies the filter to a single task. Stores that cannot push the
// predicate down use it directly.
func (f ReadyFilter) Matches(t *Task) bool {
	return t.Status == StatusQueued &&
		t.DelegateID == "" &&
		t.NextBroadcastAt.Before(f.Now) &&
		t.Expiry.After(f.Now) &&
		t.BroadcastRound <= f.MaxRound &&
		(f.After == nil || f.After.Precedes(t))
}

// BroadcastEvent is emitted for every successful claim and every escalation.
type BroadcastEvent struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	AccountID      string    `json:"account_id"`
	TaskType       string    `json:"task_type"`
	Round          int       `json:"round"`
	BroadcastCount int       `json:"broadcast_count"`
	DelegateIDs    []string  `json:"delegate_ids,omitempty"`
	Escalated      bool      `json:"escalated,omitempty"`
	At             time.Time `json:"at"`
}
