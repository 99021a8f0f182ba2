// Package graph provides the dependency DAG for plan task scheduling.
package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/planloom/planloom/internal/engine"
	"github.com/planloom/planloom/pkg/models"
)

// TaskGraph holds the task nodes and dependency edges of one plan.
// Tasks are nodes; an edge a -> b means b is blocked by a. The graph
// enforces the DAG invariant at insertion time and keeps the Blocks
// relation as the exact inverse of BlockedBy.
//
// Mutations happen inside the owning plan's scheduler loop; the mutex
// exists so snapshot readers outside the loop see consistent state.
type TaskGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// order holds task IDs in creation order.
	order []string
	// seq is the next creation sequence number.
	seq int
	// activity receives an audit entry for every successful mutation.
	activity func(models.Activity)
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty task graph.
func New() *TaskGraph {
	return &TaskGraph{
		nodes:    make(map[string]*models.Task),
		activity: func(models.Activity) {},
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetActivitySink sets the audit log sink. Every successful mutation
// appends exactly one entry.
func (g *TaskGraph) SetActivitySink(fn func(models.Activity)) {
	if fn != nil {
		g.activity = fn
	}
}

// SetDebugLog sets the debug logging function.
func (g *TaskGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// AddNode inserts a new task into the graph. The task starts planned
// and is immediately re-derived ready or blocked. Fails with
// DuplicateTaskError if the ID is already present and UnknownTaskError
// if a listed dependency is absent.
func (g *TaskGraph) AddNode(task *models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[task.ID]; exists {
		return &DuplicateTaskError{ID: task.ID}
	}
	for _, dep := range task.BlockedBy {
		if _, exists := g.nodes[dep]; !exists {
			return &UnknownTaskError{ID: dep}
		}
	}

	task.Seq = g.seq
	g.seq++
	if task.Status == "" {
		task.Status = models.TaskStatusPlanned
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	g.nodes[task.ID] = task
	g.order = append(g.order, task.ID)
	for _, dep := range task.BlockedBy {
		g.nodes[dep].Blocks = append(g.nodes[dep].Blocks, task.ID)
	}

	g.debugLog("[graph.AddNode] added task %s %q with %d deps", task.ID, task.Title, len(task.BlockedBy))
	g.record(models.ActivityInfo, fmt.Sprintf("Task added: %s", task.Title), task.ID)
	g.refresh()
	return nil
}

// AddDependency records that task b depends on task a. Fails with
// CycleError and leaves the graph unchanged if the edge would create a
// cycle. Adding an edge that already exists is a no-op.
func (g *TaskGraph) AddDependency(a, b string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, ok := g.nodes[a]
	if !ok {
		return &UnknownTaskError{ID: a}
	}
	to, ok := g.nodes[b]
	if !ok {
		return &UnknownTaskError{ID: b}
	}

	for _, dep := range to.BlockedBy {
		if dep == a {
			return nil
		}
	}

	// The edge closes a cycle when a already (transitively) depends on
	// b through BlockedBy edges.
	if a == b || g.reaches(a, b) {
		return &CycleError{From: a, To: b}
	}

	to.BlockedBy = append(to.BlockedBy, a)
	from.Blocks = append(from.Blocks, b)

	g.debugLog("[graph.AddDependency] %s now blocked by %s", b, a)
	g.record(models.ActivityInfo, fmt.Sprintf("Dependency added: %s blocked by %s", b, a), "")
	g.refresh()
	return nil
}

// MarkStatus moves a task to the given status. Repeating the current
// status (including terminal ones) is a no-op; moving a task out of a
// terminal status fails with InvalidTransitionError. Unknown IDs fail
// with UnknownTaskError.
func (g *TaskGraph) MarkStatus(id string, status models.TaskStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.markStatus(id, status)
}

// MarkFailed marks a task failed and records the failure reason.
func (g *TaskGraph) MarkFailed(id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.nodes[id]
	if !ok {
		return &UnknownTaskError{ID: id}
	}
	if task.Status == models.TaskStatusFailed {
		return nil
	}
	task.Error = reason
	return g.markStatus(id, models.TaskStatusFailed)
}

// markStatus is the internal implementation; caller holds the lock.
func (g *TaskGraph) markStatus(id string, status models.TaskStatus) error {
	task, ok := g.nodes[id]
	if !ok {
		return &UnknownTaskError{ID: id}
	}
	if task.Status == status {
		return nil
	}
	if task.Status.Terminal() {
		return &InvalidTransitionError{ID: id, From: task.Status, To: status}
	}

	task.Status = status
	if status.Terminal() {
		now := time.Now()
		task.CompletedAt = &now
	}

	g.debugLog("[graph.MarkStatus] task %s -> %s", id, status)
	kind := models.ActivityInfo
	switch status {
	case models.TaskStatusCompleted:
		kind = models.ActivitySuccess
	case models.TaskStatusFailed:
		kind = models.ActivityError
	}
	g.record(kind, fmt.Sprintf("Task %s: %s", status, task.Title), id)
	g.refresh()
	return nil
}

// Assign records which agent is working on the task.
func (g *TaskGraph) Assign(id, agentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.nodes[id]
	if !ok {
		return &UnknownTaskError{ID: id}
	}
	task.AssignedTo = agentID
	return nil
}

// Task returns the task for a given ID, or nil if not found.
func (g *TaskGraph) Task(id string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Tasks returns the live task nodes in creation order. Callers outside
// the scheduler loop must use Snapshot instead.
func (g *TaskGraph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tasksLocked()
}

func (g *TaskGraph) tasksLocked() []*models.Task {
	out := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Snapshot returns deep copies of all tasks in creation order, safe to
// hand to consumers outside the scheduler loop.
func (g *TaskGraph) Snapshot() []models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]models.Task, 0, len(g.order))
	for _, id := range g.order {
		t := *g.nodes[id]
		t.BlockedBy = append([]string(nil), t.BlockedBy...)
		t.Blocks = append([]string(nil), t.Blocks...)
		out = append(out, t)
	}
	return out
}

// Ready returns dispatchable task IDs in creation order.
func (g *TaskGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return engine.ReadyTasks(g.tasksLocked())
}

// Stats returns the current status counts.
func (g *TaskGraph) Stats() models.GraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return engine.Stats(g.tasksLocked())
}

// Unreachable returns non-terminal task IDs permanently blocked behind
// a failed dependency.
func (g *TaskGraph) Unreachable() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return engine.Unreachable(g.tasksLocked())
}

// Size returns the number of tasks in the graph.
func (g *TaskGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// reaches returns true if to is reachable from from by following
// BlockedBy edges. Caller holds the lock.
func (g *TaskGraph) reaches(from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, g.nodes[id].BlockedBy...)
	}
	return false
}

// refresh recomputes the derived node state: ready/blocked statuses
// for undispatched tasks and the critical-path flags. Caller holds the
// lock.
func (g *TaskGraph) refresh() {
	tasks := g.tasksLocked()

	for _, t := range tasks {
		if t.Status.Dispatched() || t.Status.Terminal() {
			continue
		}
		if g.depsDone(t) {
			t.Status = models.TaskStatusReady
		} else {
			t.Status = models.TaskStatusBlocked
		}
	}

	critical := engine.CriticalPath(tasks)
	for _, t := range tasks {
		t.OnCriticalPath = critical[t.ID]
	}
}

func (g *TaskGraph) depsDone(t *models.Task) bool {
	for _, dep := range t.BlockedBy {
		d, ok := g.nodes[dep]
		if !ok || d.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

func (g *TaskGraph) record(kind models.ActivityType, message, details string) {
	g.activity(models.Activity{
		Timestamp: time.Now(),
		Type:      kind,
		Message:   message,
		Details:   details,
	})
}
