// Package runner defines the agent runner capability consumed by the
// scheduler. The agent's reasoning loop is opaque to this system: a
// runner accepts a task and a worktree, emits progress, and reports
// exactly one terminal event.
package runner

import (
	"context"

	"github.com/planloom/planloom/pkg/models"
)

// EventType classifies a runner event.
type EventType string

const (
	// EventStarted signals the agent began working on the task.
	EventStarted EventType = "started"
	// EventProgress carries an intermediate status line.
	EventProgress EventType = "progress"
	// EventCompleted is the successful terminal event.
	EventCompleted EventType = "completed"
	// EventFailed is the failing terminal event.
	EventFailed EventType = "failed"
)

// Terminal returns true for the two terminal event types.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Event is one signal from a dispatched agent. A handle emits zero or
// more progress events and exactly one terminal event.
type Event struct {
	// Type classifies the event.
	Type EventType
	// Message holds progress text, a completion summary, or a failure reason.
	Message string
}

// Handle tracks one in-flight agent invocation.
type Handle interface {
	// ID identifies the agent invocation.
	ID() string
	// Events returns the event stream. The channel is closed after the
	// terminal event.
	Events() <-chan Event
	// Cancel sends a best-effort stop signal to the agent.
	Cancel()
}

// Runner dispatches tasks to coding agents.
type Runner interface {
	// Dispatch starts an agent on the task inside the given worktree.
	// The returned handle reports back asynchronously.
	Dispatch(ctx context.Context, task *models.Task, worktreePath string) (Handle, error)
}
