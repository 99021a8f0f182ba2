package graph

import (
	"fmt"

	"github.com/planloom/planloom/pkg/models"
)

// CycleError indicates that inserting a dependency edge would create a
// circular dependency. The graph is left unchanged.
type CycleError struct {
	// From is the task the edge would depend on.
	From string
	// To is the task that would gain the dependency.
	To string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.From, e.To)
}

// UnknownTaskError indicates an operation referenced a task ID that is
// not present in the graph.
type UnknownTaskError struct {
	ID string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %s", e.ID)
}

// InvalidTransitionError indicates an attempt to move a task out of a
// terminal status. The only way to retry a failed task is to add a
// fresh replacement node with the same dependency edges.
type InvalidTransitionError struct {
	ID   string
	From models.TaskStatus
	To   models.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// DuplicateTaskError indicates a task ID was added twice.
type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s already exists", e.ID)
}
