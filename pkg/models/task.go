package models

import "time"

// TaskStatus represents the current state of a task node.
type TaskStatus string

const (
	// TaskStatusPlanned indicates the task has been authored but not evaluated.
	TaskStatusPlanned TaskStatus = "planned"
	// TaskStatusReady indicates all dependencies are completed and the task is dispatchable.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusSent indicates the task has been handed to an agent runner.
	TaskStatusSent TaskStatus = "sent"
	// TaskStatusInProgress indicates the agent runner reported it started working.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates the task has at least one non-completed dependency.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPlanned, TaskStatusReady, TaskStatusSent, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is final. Terminal tasks never
// move back to a non-terminal status; a failed task is retried by
// creating a replacement node with the same dependency edges.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Dispatched returns true if the task currently occupies an agent slot.
func (s TaskStatus) Dispatched() bool {
	return s == TaskStatusSent || s == TaskStatusInProgress
}

// Task represents one unit of work in a plan's dependency graph.
type Task struct {
	// ID is the unique identifier for this task within its plan.
	ID string `json:"id"`
	// PlanID is the ID of the owning plan.
	PlanID string `json:"plan_id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed instructions for the agent.
	Description string `json:"description,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// BlockedBy lists task IDs that must complete before this task.
	BlockedBy []string `json:"blocked_by,omitempty"`
	// Blocks lists task IDs that wait on this task. Maintained by the
	// graph as the exact inverse of BlockedBy.
	Blocks []string `json:"blocks,omitempty"`
	// OnCriticalPath is true if the task lies on a longest dependency
	// chain. Derived, recomputed on every graph change.
	OnCriticalPath bool `json:"on_critical_path"`
	// Seq is the creation order of the task within its plan, used for
	// deterministic readiness ordering.
	Seq int `json:"seq"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error contains the failure reason if the task failed.
	Error string `json:"error,omitempty"`
}

// GraphStats is a derived aggregate of task statuses for a plan.
// It is recomputed on demand and never stored as source of truth.
type GraphStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Sent       int `json:"sent"`
	Ready      int `json:"ready"`
	Blocked    int `json:"blocked"`
	Failed     int `json:"failed"`
}

// Active returns the combined count of sent and in-progress tasks,
// used by progress displays that don't distinguish the two.
func (g GraphStats) Active() int {
	return g.Sent + g.InProgress
}
