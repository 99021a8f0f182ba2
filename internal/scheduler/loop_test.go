package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/planloom/planloom/internal/graph"
	"github.com/planloom/planloom/internal/runner"
	"github.com/planloom/planloom/internal/worktree"
	"github.com/planloom/planloom/pkg/models"
)

// fakeHandle is a scripted agent invocation.
type fakeHandle struct {
	id     string
	events chan runner.Event
	cancel func()
}

func (h *fakeHandle) ID() string                  { return h.id }
func (h *fakeHandle) Events() <-chan runner.Event { return h.events }
func (h *fakeHandle) Cancel()                     { h.cancel() }

// fakeRunner completes or fails tasks per script, tracking the peak
// number of concurrently live agents.
type fakeRunner struct {
	mu        sync.Mutex
	nextID    int
	live      int
	peakLive  int
	failTasks map[string]bool
	delay     time.Duration
	// hold keeps agents running until released, for cancel tests.
	hold        chan struct{}
	cancelled   int
	dispatchErr error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failTasks: map[string]bool{}, delay: time.Millisecond}
}

func (r *fakeRunner) Dispatch(ctx context.Context, task *models.Task, worktreePath string) (runner.Handle, error) {
	r.mu.Lock()
	if r.dispatchErr != nil {
		err := r.dispatchErr
		r.mu.Unlock()
		return nil, err
	}
	r.nextID++
	id := fmt.Sprintf("agent-%d", r.nextID)
	r.live++
	if r.live > r.peakLive {
		r.peakLive = r.live
	}
	fail := r.failTasks[task.ID]
	hold := r.hold
	delay := r.delay
	r.mu.Unlock()

	h := &fakeHandle{id: id, events: make(chan runner.Event, 4)}
	done := make(chan struct{})
	var once sync.Once
	h.cancel = func() {
		once.Do(func() {
			r.mu.Lock()
			r.cancelled++
			r.mu.Unlock()
			close(done)
		})
	}

	go func() {
		defer close(h.events)
		h.events <- runner.Event{Type: runner.EventStarted}
		if hold != nil {
			select {
			case <-hold:
			case <-done:
				r.finish()
				h.events <- runner.Event{Type: runner.EventFailed, Message: "cancelled"}
				return
			}
		} else {
			time.Sleep(delay)
		}
		r.finish()
		if fail {
			h.events <- runner.Event{Type: runner.EventFailed, Message: "agent exited 1"}
		} else {
			h.events <- runner.Event{Type: runner.EventCompleted, Message: "done"}
		}
	}()
	return h, nil
}

func (r *fakeRunner) finish() {
	r.mu.Lock()
	r.live--
	r.mu.Unlock()
}

func (r *fakeRunner) PeakLive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peakLive
}

// fakeWorktrees satisfies WorktreeProvider without touching git.
type fakeWorktrees struct {
	mu          sync.Mutex
	allocated   int
	released    int
	active      map[string]bool
	allocErr    error
	finalizeErr error
}

func newFakeWorktrees() *fakeWorktrees {
	return &fakeWorktrees{active: map[string]bool{}}
}

func (f *fakeWorktrees) Allocate(plan *models.Plan, assignmentID string) (*models.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocErr != nil {
		return nil, f.allocErr
	}
	f.allocated++
	path := "/wt/" + assignmentID
	f.active[path] = true
	return &models.Worktree{
		Path:         path,
		Branch:       "loom/" + assignmentID,
		AssignmentID: assignmentID,
		Status:       models.WorktreeStatusActive,
	}, nil
}

func (f *fakeWorktrees) Finalize(wt *models.Worktree, strategy models.BranchStrategy, integrationBranch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	wt.Status = models.WorktreeStatusMerged
	return nil
}

func (f *fakeWorktrees) Release(wt *models.Worktree) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[wt.Path] {
		return
	}
	delete(f.active, wt.Path)
	f.released++
	wt.Status = models.WorktreeStatusCleaned
}

func (f *fakeWorktrees) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func buildGraph(t *testing.T, edges map[string][]string, order []string) *graph.TaskGraph {
	t.Helper()
	g := graph.New()
	for _, id := range order {
		err := g.AddNode(&models.Task{ID: id, Title: "Task " + id, BlockedBy: edges[id]})
		if err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	return g
}

func runLoop(t *testing.T, plan *models.Plan, g *graph.TaskGraph, agents runner.Runner, wts WorktreeProvider) *Loop {
	t.Helper()
	l := New(Config{
		Plan:         plan,
		Graph:        g,
		Worktrees:    wts,
		Agents:       agents,
		PollInterval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("loop: %v", err)
	}
	return l
}

func testPlan(maxParallel int) *models.Plan {
	return &models.Plan{
		ID:                "plan-1",
		Status:            models.PlanStatusDraft,
		MaxParallelAgents: maxParallel,
		BranchStrategy:    models.StrategyFeatureBranch,
		IntegrationBranch: "loom/plan-plan-1",
	}
}

func TestLinearChainRunsInOrder(t *testing.T) {
	// a -> b -> c with two slots: the chain still serializes because
	// readiness gates dispatch.
	g := buildGraph(t, map[string][]string{"b": {"a"}, "c": {"b"}}, []string{"a", "b", "c"})
	agents := newFakeRunner()
	wts := newFakeWorktrees()
	plan := testPlan(2)

	runLoop(t, plan, g, agents, wts)

	if got := agents.PeakLive(); got != 1 {
		t.Errorf("chain must serialize: peak parallelism %d", got)
	}
	stats := g.Stats()
	if stats.Completed != 3 {
		t.Errorf("expected 3 completed, got %+v", stats)
	}
	if plan.Status != models.PlanStatusReadyForReview {
		t.Errorf("expected ready_for_review, got %s", plan.Status)
	}
	if wts.ActiveCount() != 0 {
		t.Errorf("worktrees leaked: %d active", wts.ActiveCount())
	}
	for _, id := range []string{"a", "b", "c"} {
		if !g.Task(id).OnCriticalPath {
			t.Errorf("%s: expected on critical path", id)
		}
	}
}

func TestParallelismNeverExceedsBound(t *testing.T) {
	// Eight independent tasks, two slots.
	order := make([]string, 8)
	for i := range order {
		order[i] = fmt.Sprintf("t%d", i)
	}
	g := buildGraph(t, nil, order)
	agents := newFakeRunner()
	wts := newFakeWorktrees()

	runLoop(t, testPlan(2), g, agents, wts)

	if got := agents.PeakLive(); got > 2 {
		t.Errorf("parallelism bound violated: peak %d", got)
	}
	if stats := g.Stats(); stats.Completed != 8 {
		t.Errorf("expected all completed, got %+v", stats)
	}
}

func TestJoinDispatchesAfterBothParents(t *testing.T) {
	// a and b independent, c waits for both.
	g := buildGraph(t, map[string][]string{"c": {"a", "b"}}, []string{"a", "b", "c"})
	agents := newFakeRunner()
	wts := newFakeWorktrees()

	runLoop(t, testPlan(2), g, agents, wts)

	if stats := g.Stats(); stats.Completed != 3 {
		t.Errorf("expected 3 completed, got %+v", stats)
	}
}

func TestFailedParentLeavesJoinBlocked(t *testing.T) {
	// a fails, b completes, c waits for both: plan quiesces as
	// ready_for_review with one of each outcome.
	g := buildGraph(t, map[string][]string{"c": {"a", "b"}}, []string{"a", "b", "c"})
	agents := newFakeRunner()
	agents.failTasks["a"] = true
	wts := newFakeWorktrees()
	plan := testPlan(2)

	runLoop(t, plan, g, agents, wts)

	stats := g.Stats()
	if stats.Completed != 1 || stats.Failed != 1 || stats.Blocked != 1 {
		t.Errorf("expected {completed:1 failed:1 blocked:1}, got %+v", stats)
	}
	if plan.Status != models.PlanStatusReadyForReview {
		t.Errorf("partial success must surface for review, got %s", plan.Status)
	}
	if got := g.Unreachable(); len(got) != 1 || got[0] != "c" {
		t.Errorf("expected c unreachable, got %v", got)
	}
}

func TestAllRootsFailedPlanFails(t *testing.T) {
	g := buildGraph(t, map[string][]string{"b": {"a"}}, []string{"a", "b"})
	agents := newFakeRunner()
	agents.failTasks["a"] = true
	wts := newFakeWorktrees()
	plan := testPlan(1)

	runLoop(t, plan, g, agents, wts)

	if plan.Status != models.PlanStatusFailed {
		t.Errorf("expected failed when nothing completed, got %s", plan.Status)
	}
}

func TestAllocationFailureFailsOnlyThatBranch(t *testing.T) {
	g := buildGraph(t, nil, []string{"a"})
	agents := newFakeRunner()
	wts := newFakeWorktrees()
	wts.allocErr = &worktree.AllocationError{Branch: "loom/x", Err: errors.New("disk full")}
	plan := testPlan(1)

	runLoop(t, plan, g, agents, wts)

	task := g.Task("a")
	if task.Status != models.TaskStatusFailed {
		t.Errorf("expected task failed on allocation error, got %s", task.Status)
	}
	if task.Error == "" {
		t.Error("expected failure reason recorded")
	}
}

func TestDispatchFailureReleasesWorktree(t *testing.T) {
	g := buildGraph(t, nil, []string{"a"})
	agents := newFakeRunner()
	agents.dispatchErr = errors.New("binary missing")
	wts := newFakeWorktrees()

	runLoop(t, testPlan(1), g, agents, wts)

	if wts.ActiveCount() != 0 {
		t.Errorf("worktree leaked after dispatch failure: %d active", wts.ActiveCount())
	}
	if got := g.Task("a").Status; got != models.TaskStatusFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestMergeConflictPreservesWorktree(t *testing.T) {
	g := buildGraph(t, nil, []string{"a"})
	agents := newFakeRunner()
	wts := newFakeWorktrees()
	wts.finalizeErr = &worktree.MergeConflictError{
		Branch: "loom/x", Target: "loom/plan-1", Files: []string{"main.go"},
	}
	plan := testPlan(1)

	runLoop(t, plan, g, agents, wts)

	if got := g.Task("a").Status; got != models.TaskStatusFailed {
		t.Errorf("expected failed after conflict, got %s", got)
	}
	// The conflicted checkout stays on disk for manual resolution.
	if wts.ActiveCount() != 1 {
		t.Errorf("conflicted worktree must be preserved, %d active", wts.ActiveCount())
	}
}

func TestCancelReleasesEverything(t *testing.T) {
	order := []string{"a", "b", "c", "d"}
	g := buildGraph(t, nil, order)
	agents := newFakeRunner()
	agents.hold = make(chan struct{}) // agents never finish on their own
	wts := newFakeWorktrees()
	plan := testPlan(2)

	l := New(Config{
		Plan:         plan,
		Graph:        g,
		Worktrees:    wts,
		Agents:       agents,
		PollInterval: 5 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	// Wait until both slots are busy, then cancel.
	deadline := time.After(5 * time.Second)
	for agents.PeakLive() < 2 {
		select {
		case <-deadline:
			t.Fatal("agents never dispatched")
		case <-time.After(time.Millisecond):
		}
	}
	l.Cancel()

	if err := <-done; err != nil {
		t.Fatalf("loop: %v", err)
	}

	if plan.Status != models.PlanStatusFailed {
		t.Errorf("expected failed after cancel, got %s", plan.Status)
	}
	if !plan.Cancelled() {
		t.Error("expected CancelledAt set")
	}
	if wts.ActiveCount() != 0 {
		t.Errorf("cancel must release every worktree, %d active", wts.ActiveCount())
	}
	if l.LiveCount() != 0 {
		t.Errorf("live assignments remain: %d", l.LiveCount())
	}
	agents.mu.Lock()
	cancelled := agents.cancelled
	agents.mu.Unlock()
	if cancelled == 0 {
		t.Error("expected stop signals sent to live agents")
	}
}

func TestCancelAfterExitIsSafe(t *testing.T) {
	g := buildGraph(t, nil, []string{"a"})
	agents := newFakeRunner()
	wts := newFakeWorktrees()

	l := runLoop(t, testPlan(1), g, agents, wts)

	// Signals posted after the loop exits must not block or panic.
	l.Cancel()
	l.DeclareFailed("too late")
}

func TestResumedPlanStatusNeverRegresses(t *testing.T) {
	// A plan restored mid-flight re-enters the loop at in_progress;
	// status only moves forward.
	g := buildGraph(t, nil, []string{"a"})
	agents := newFakeRunner()
	wts := newFakeWorktrees()
	plan := testPlan(1)
	plan.Status = models.PlanStatusInProgress

	var mu sync.Mutex
	var seen []models.PlanStatus
	l := New(Config{
		Plan:         plan,
		Graph:        g,
		Worktrees:    wts,
		Agents:       agents,
		PollInterval: 5 * time.Millisecond,
		Hooks: Hooks{PlanUpdated: func(p *models.Plan) {
			mu.Lock()
			seen = append(seen, p.Status)
			mu.Unlock()
		}},
	})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("loop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range seen {
		if s == models.PlanStatusDelegating {
			t.Fatalf("status regressed to delegating: %v", seen)
		}
	}
	if plan.Status != models.PlanStatusReadyForReview {
		t.Errorf("expected ready_for_review, got %s", plan.Status)
	}
}

func TestPlanTransitionsDelegatingToInProgress(t *testing.T) {
	g := buildGraph(t, nil, []string{"a"})
	agents := newFakeRunner()
	wts := newFakeWorktrees()
	plan := testPlan(1)

	var mu sync.Mutex
	var seen []models.PlanStatus
	l := New(Config{
		Plan:         plan,
		Graph:        g,
		Worktrees:    wts,
		Agents:       agents,
		PollInterval: 5 * time.Millisecond,
		Hooks: Hooks{PlanUpdated: func(p *models.Plan) {
			mu.Lock()
			seen = append(seen, p.Status)
			mu.Unlock()
		}},
	})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("loop: %v", err)
	}

	want := []models.PlanStatus{
		models.PlanStatusDelegating,
		models.PlanStatusInProgress,
		models.PlanStatusReadyForReview,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, seen)
		}
	}
}

func TestEventsEmitted(t *testing.T) {
	g := buildGraph(t, nil, []string{"a"})
	agents := newFakeRunner()
	wts := newFakeWorktrees()
	emitter := NewEventEmitter(32)

	l := New(Config{
		Plan:         testPlan(1),
		Graph:        g,
		Worktrees:    wts,
		Agents:       agents,
		Emitter:      emitter,
		PollInterval: 5 * time.Millisecond,
	})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("loop: %v", err)
	}
	emitter.Close()

	var types []LoopEventType
	for ev := range emitter.Events() {
		types = append(types, ev.Type)
	}
	for _, want := range []LoopEventType{EventTaskDispatched, EventTaskCompleted, EventPlanStatus} {
		found := false
		for _, ty := range types {
			if ty == want {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s event, got %v", want, types)
		}
	}
}
