// Package plan exposes the command surface of the system: creating
// plans, authoring their task graphs, executing, cancelling, and
// completing them, and reading consistent snapshots. The surrounding
// application (CLI, UI) only ever talks to the Coordinator.
package plan

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planloom/planloom/internal/graph"
	"github.com/planloom/planloom/internal/runner"
	"github.com/planloom/planloom/internal/scheduler"
	"github.com/planloom/planloom/internal/state"
	"github.com/planloom/planloom/pkg/models"
)

// ErrPlanNotFound indicates an operation referenced an unknown plan.
var ErrPlanNotFound = errors.New("plan not found")

// ErrReferenceAgentBusy indicates the reference agent's checkout is
// already seeding worktrees for another executing plan.
var ErrReferenceAgentBusy = errors.New("reference agent is locked by another plan")

// WorktreeService is the slice of the worktree manager the coordinator
// consumes, narrowed for test fakes.
type WorktreeService interface {
	scheduler.WorktreeProvider
	PrepareIntegrationBranch(plan *models.Plan) (string, error)
	CleanupOrphans(liveAssignments []string, verbose func(path string)) (int, error)
}

// Snapshot is a consistent read-only view of one plan, safe to hand to
// external consumers. UIs derive all of their state from snapshots;
// the core never depends on any consumer-held cache.
type Snapshot struct {
	Plan       models.Plan
	Tasks      []models.Task
	Stats      models.GraphStats
	Activities []models.Activity
}

// planState bundles one plan's live objects.
type planState struct {
	plan  *models.Plan
	graph *graph.TaskGraph
	log   *activityLog
	loop  *scheduler.Loop
	// debugLog is the plan-scoped debug logging function.
	debugLog func(format string, args ...interface{})
	// done is closed when the plan's scheduler loop returns.
	done chan struct{}
}

// Config bundles the coordinator's collaborators.
type Config struct {
	Worktrees WorktreeService
	Agents    runner.Runner
	// Store is optional; without it plans live only in memory.
	Store state.Store
	// PollInterval is passed through to scheduler loops.
	PollInterval time.Duration
	// EventBuffer sizes the shared event channel (default 100).
	EventBuffer int
	// DebugLog is an optional logging function.
	DebugLog func(format string, args ...interface{})
	// DebugScope optionally derives a plan-tagged logging function, so
	// interleaved loops can be told apart in a shared debug log.
	DebugScope func(planID string) func(format string, args ...interface{})
}

// Coordinator owns every plan and its scheduler loop. Loops for
// different plans run fully in parallel; the coordinator's lock only
// guards the plan registry itself.
type Coordinator struct {
	mu    sync.RWMutex
	plans map[string]*planState

	worktrees    WorktreeService
	agents       runner.Runner
	store        state.Store
	emitter      *scheduler.EventEmitter
	pollInterval time.Duration
	debugLog     func(format string, args ...interface{})
	debugScope   func(planID string) func(format string, args ...interface{})

	// refLocks maps reference agent ID to the plan holding it. One
	// plan at a time may seed worktrees from a given checkout.
	refLocks map[string]string

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 100
	}
	dl := cfg.DebugLog
	if dl == nil {
		dl = func(string, ...interface{}) {}
	}
	return &Coordinator{
		plans:        make(map[string]*planState),
		worktrees:    cfg.Worktrees,
		agents:       cfg.Agents,
		store:        cfg.Store,
		emitter:      scheduler.NewEventEmitter(buf),
		pollInterval: cfg.PollInterval,
		debugLog:     dl,
		debugScope:   cfg.DebugScope,
		refLocks:     make(map[string]string),
	}
}

// scopeLog derives the plan-tagged logging function, falling back to
// the shared one.
func (c *Coordinator) scopeLog(planID string) func(format string, args ...interface{}) {
	if c.debugScope != nil {
		return c.debugScope(planID)
	}
	return c.debugLog
}

// Events returns the aggregated event stream of all plans' loops.
func (c *Coordinator) Events() <-chan scheduler.LoopEvent {
	return c.emitter.Events()
}

// CreatePlan creates a new plan in draft.
func (c *Coordinator) CreatePlan(title, description string, maxParallel int, strategy models.BranchStrategy) (*models.Plan, error) {
	if title == "" {
		return nil, errors.New("plan title is required")
	}
	if maxParallel < 1 {
		return nil, fmt.Errorf("max parallel agents must be >= 1, got %d", maxParallel)
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown branch strategy %q", strategy)
	}

	now := time.Now()
	p := &models.Plan{
		ID:                uuid.New().String(),
		Title:             title,
		Description:       description,
		Status:            models.PlanStatusDraft,
		MaxParallelAgents: maxParallel,
		BranchStrategy:    strategy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	ps := c.newPlanState(p)

	if c.store != nil {
		if err := c.store.CreatePlan(p); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.plans[p.ID] = ps
	c.mu.Unlock()

	ps.log.Append(models.Activity{
		Timestamp: now,
		Type:      models.ActivityInfo,
		Message:   fmt.Sprintf("Plan created: %s", title),
	})

	cp := *p
	return &cp, nil
}

// AddTask adds a task to the plan's graph. The task ID is generated
// when empty. BlockedBy entries must already exist; missing ones fail
// without modifying the graph.
func (c *Coordinator) AddTask(planID, taskID, title, description string, blockedBy []string) (*models.Task, error) {
	ps, err := c.state(planID)
	if err != nil {
		return nil, err
	}
	if err := c.authorable(ps); err != nil {
		return nil, err
	}
	if title == "" {
		return nil, errors.New("task title is required")
	}
	if taskID == "" {
		taskID = uuid.New().String()[:8]
	}

	task := &models.Task{
		ID:          taskID,
		PlanID:      planID,
		Title:       title,
		Description: description,
		BlockedBy:   append([]string(nil), blockedBy...),
	}
	if err := ps.graph.AddNode(task); err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.CreateTask(task); err != nil {
			log.Printf("[plan] warning: persist task %s: %v", task.ID, err)
		}
		c.persistGraph(ps)
	}

	cp := *task
	return &cp, nil
}

// AddDependency records that task b depends on task a.
func (c *Coordinator) AddDependency(planID, a, b string) error {
	ps, err := c.state(planID)
	if err != nil {
		return err
	}
	if err := c.authorable(ps); err != nil {
		return err
	}

	if err := ps.graph.AddDependency(a, b); err != nil {
		return err
	}
	c.persistGraph(ps)
	return nil
}

// GetSnapshot returns a consistent read-only view of the plan.
func (c *Coordinator) GetSnapshot(planID string) (*Snapshot, error) {
	ps, err := c.state(planID)
	if err != nil {
		return nil, err
	}

	tasks := ps.graph.Snapshot()
	return &Snapshot{
		Plan:       *ps.plan,
		Tasks:      tasks,
		Stats:      ps.graph.Stats(),
		Activities: ps.log.All(),
	}, nil
}

// ListPlans returns all known plans.
func (c *Coordinator) ListPlans() []models.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Plan, 0, len(c.plans))
	for _, ps := range c.plans {
		out = append(out, *ps.plan)
	}
	return out
}

// newPlanState wires a graph and activity log for the plan.
func (c *Coordinator) newPlanState(p *models.Plan) *planState {
	var store state.ActivityStore
	if c.store != nil {
		store = c.store
	}
	ps := &planState{
		plan:     p,
		graph:    graph.New(),
		log:      newActivityLog(p.ID, store),
		debugLog: c.scopeLog(p.ID),
	}
	ps.graph.SetActivitySink(ps.log.Append)
	ps.graph.SetDebugLog(ps.debugLog)
	return ps
}

// state looks up a plan's live state.
func (c *Coordinator) state(planID string) (*planState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ps, ok := c.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return ps, nil
}

// authorable rejects graph authoring while a loop owns the graph or
// once the plan is terminal. Failed tasks are replaced by fresh nodes,
// so authoring stays legal in ready_for_review.
func (c *Coordinator) authorable(ps *planState) error {
	status := ps.plan.Status
	if status.Executing() {
		return fmt.Errorf("plan %s is executing; stop it before editing the graph", ps.plan.ID)
	}
	if status.Terminal() {
		return fmt.Errorf("plan %s is %s", ps.plan.ID, status)
	}
	return nil
}

// persistGraph writes every task's current state to the store. Edges
// live on the tasks, so dependency changes touch multiple rows.
func (c *Coordinator) persistGraph(ps *planState) {
	if c.store == nil {
		return
	}
	for _, t := range ps.graph.Tasks() {
		if err := c.store.UpdateTask(t); err != nil {
			log.Printf("[plan] warning: persist task %s: %v", t.ID, err)
		}
	}
}
