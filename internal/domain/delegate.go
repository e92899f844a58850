package domain

import (
	"strings"
	"time"
)

// HealthStatus is the self-reported state of a delegate.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
)

// Capacity limits how much concurrent work a delegate accepts.
type Capacity struct {
	TaskLimit     int `json:"task_limit"`
	MaxBuildSlots int `json:"max_build_slots"`
}

// LimitFor returns the limit that applies to the given task type.
func (c Capacity) LimitFor(taskType string) int {
	if IsCITask(taskType) {
		return c.MaxBuildSlots
	}
	return c.TaskLimit
}

// Delegate is a remote worker agent. Capacity and NumberOfTasksAssigned are
// filled in at selection time and are never persisted on the delegate row.
type Delegate struct {
	ID                    string       `json:"id"`
	AccountID             string       `json:"account_id"`
	HealthStatus          HealthStatus `json:"health_status"`
	LastHeartbeatAt       time.Time    `json:"last_heartbeat_at"`
	Capacity              *Capacity    `json:"capacity,omitempty"`
	NumberOfTasksAssigned int          `json:"number_of_tasks_assigned"`
}

// CapacityRegistration is the message published when a delegate (re)registers
// its limits.
type CapacityRegistration struct {
	AccountID  string   `json:"account_id"`
	DelegateID string   `json:"delegate_id"`
	Capacity   Capacity `json:"capacity"`
}

var ciTaskTypes = map[string]struct{}{
	"INITIALIZATION_PHASE":        {},
	"EXECUTE_COMMAND":             {},
	"DLITE_CI_VM_INITIALIZE_TASK": {},
	"DLITE_CI_VM_EXECUTE_TASK":    {},
	"DLITE_CI_VM_CLEANUP_TASK":    {},
}

// IsCITask reports whether the task type belongs to the CI category, whose
// limit is counted in build slots rather than tasks.
func IsCITask(taskType string) bool {
	t := strings.ToUpper(taskType)
	if strings.HasPrefix(t, "CI_") {
		return true
	}
	_, ok := ciTaskTypes[t]
	return ok
}
