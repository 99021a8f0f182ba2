package models

import "time"

// ActivityType classifies an audit log entry.
type ActivityType string

const (
	ActivityInfo    ActivityType = "info"
	ActivitySuccess ActivityType = "success"
	ActivityWarning ActivityType = "warning"
	ActivityError   ActivityType = "error"
)

// Activity is an append-only audit log entry. Every state transition
// in the plan, graph, and worktree layers produces one. Entries are
// never mutated and are used for observability, not control flow.
type Activity struct {
	// Timestamp is when the activity occurred.
	Timestamp time.Time `json:"timestamp"`
	// Type classifies the entry.
	Type ActivityType `json:"type"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Details carries optional structured context.
	Details string `json:"details,omitempty"`
}
