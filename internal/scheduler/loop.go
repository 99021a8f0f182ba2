// Package scheduler runs one event-processing loop per executing plan.
// The loop serializes every graph mutation and dispatch decision
// through a single goroutine, so concurrent agent completions can
// never interleave a read-then-write race that double-dispatches a
// newly ready task.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planloom/planloom/internal/graph"
	"github.com/planloom/planloom/internal/runner"
	"github.com/planloom/planloom/internal/worktree"
	"github.com/planloom/planloom/pkg/models"
)

// WorktreeProvider is the slice of the worktree manager the loop
// consumes. Narrowed for test fakes.
type WorktreeProvider interface {
	Allocate(plan *models.Plan, assignmentID string) (*models.Worktree, error)
	Finalize(wt *models.Worktree, strategy models.BranchStrategy, integrationBranch string) error
	Release(wt *models.Worktree)
}

// Hooks let the owner persist state changes made inside the loop.
// All hooks are invoked from the loop goroutine.
type Hooks struct {
	// TaskUpdated fires after a task changes status.
	TaskUpdated func(*models.Task)
	// PlanUpdated fires after the plan changes status.
	PlanUpdated func(*models.Plan)
}

type signalKind int

const (
	sigStarted signalKind = iota
	sigProgress
	sigCompleted
	sigFailed
	sigCancel
	sigDeclareFailed
)

// signal is one unit of work for the loop's queue.
type signal struct {
	kind    signalKind
	taskID  string
	message string
}

// liveAssignment tracks one in-flight task.
type liveAssignment struct {
	assignment *models.Assignment
	wt         *models.Worktree
	handle     runner.Handle
}

// Loop coordinates execution of a single plan. Loops for different
// plans share no mutable state and run fully in parallel.
type Loop struct {
	plan      *models.Plan
	graph     *graph.TaskGraph
	worktrees WorktreeProvider
	agents    runner.Runner
	emitter   *EventEmitter
	hooks     Hooks

	// signals is the serialization point: completion callbacks, cancel
	// requests, and agent events all arrive here.
	signals chan signal

	// live maps task ID to its in-flight assignment. Only the loop
	// goroutine touches it.
	live map[string]*liveAssignment

	// done is closed when Run returns so signal producers never block
	// against a stopped loop.
	done chan struct{}

	// pollInterval bounds how long the loop sleeps when idle.
	pollInterval time.Duration

	activity func(models.Activity)
	debugLog func(format string, args ...interface{})
}

// Config bundles the collaborators for a plan's loop.
type Config struct {
	Plan      *models.Plan
	Graph     *graph.TaskGraph
	Worktrees WorktreeProvider
	Agents    runner.Runner
	Emitter   *EventEmitter
	Hooks     Hooks
	// PollInterval defaults to one second when zero.
	PollInterval time.Duration
	// Activity receives audit entries for loop-level transitions.
	Activity func(models.Activity)
	// DebugLog is an optional logging function.
	DebugLog func(format string, args ...interface{})
}

// New creates a Loop for the given plan.
func New(cfg Config) *Loop {
	l := &Loop{
		plan:         cfg.Plan,
		graph:        cfg.Graph,
		worktrees:    cfg.Worktrees,
		agents:       cfg.Agents,
		emitter:      cfg.Emitter,
		hooks:        cfg.Hooks,
		signals:      make(chan signal, 64),
		live:         make(map[string]*liveAssignment),
		done:         make(chan struct{}),
		pollInterval: cfg.PollInterval,
		activity:     cfg.Activity,
		debugLog:     cfg.DebugLog,
	}
	if l.pollInterval <= 0 {
		l.pollInterval = time.Second
	}
	if l.activity == nil {
		l.activity = func(models.Activity) {}
	}
	if l.debugLog == nil {
		l.debugLog = func(string, ...interface{}) {}
	}
	if l.hooks.TaskUpdated == nil {
		l.hooks.TaskUpdated = func(*models.Task) {}
	}
	if l.hooks.PlanUpdated == nil {
		l.hooks.PlanUpdated = func(*models.Plan) {}
	}
	return l
}

// Cancel requests teardown. It never blocks: the loop observes the
// request at the top of its next iteration, stops dispatching, sends
// best-effort stop signals to live agents, and releases every live
// worktree without waiting for acknowledgement.
func (l *Loop) Cancel() {
	l.post(signal{kind: sigCancel})
}

// DeclareFailed marks the plan unrecoverable and tears it down.
func (l *Loop) DeclareFailed(reason string) {
	l.post(signal{kind: sigDeclareFailed, message: reason})
}

// post enqueues a signal without ever blocking the caller against a
// stopped or saturated loop.
func (l *Loop) post(sig signal) {
	select {
	case l.signals <- sig:
	case <-l.done:
	default:
		go func() {
			select {
			case l.signals <- sig:
			case <-l.done:
			}
		}()
	}
}

// Run executes the plan to quiescence. It returns when every reachable
// task is terminal, the plan is cancelled or declared failed, or the
// context is cancelled. Run must be called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	// A resumed plan re-enters at its persisted status; plan status
	// never moves backwards.
	if l.plan.Status == models.PlanStatusDraft {
		l.setPlanStatus(models.PlanStatusDelegating)
	}
	l.record(models.ActivityInfo, fmt.Sprintf("Execution started (max %d parallel agents)", l.plan.MaxParallelAgents))

	for {
		select {
		case <-ctx.Done():
			l.teardown(ctx.Err().Error(), true)
			return ctx.Err()
		case sig := <-l.signals:
			if done := l.handle(ctx, sig); done {
				return nil
			}
			continue
		default:
		}

		l.dispatchReady(ctx)

		if len(l.live) == 0 && len(l.graph.Ready()) == 0 {
			l.finish()
			return nil
		}

		// Nothing dispatchable: park until a signal arrives. The poll
		// interval guards against missed wakeups, mirroring the
		// completion-or-timeout wait in the dispatch loop this design
		// descends from.
		select {
		case <-ctx.Done():
			l.teardown(ctx.Err().Error(), true)
			return ctx.Err()
		case sig := <-l.signals:
			if done := l.handle(ctx, sig); done {
				return nil
			}
		case <-time.After(l.pollInterval):
		}
	}
}

// handle applies one signal. Returns true when the loop must exit.
func (l *Loop) handle(ctx context.Context, sig signal) bool {
	switch sig.kind {
	case sigCancel:
		l.teardown("plan cancelled", true)
		return true

	case sigDeclareFailed:
		l.teardown(sig.message, false)
		return true

	case sigStarted:
		l.onStarted(sig.taskID)

	case sigProgress:
		l.emit(LoopEvent{Type: EventTaskProgress, TaskID: sig.taskID, Message: sig.message})

	case sigCompleted:
		l.onCompleted(sig.taskID, sig.message)

	case sigFailed:
		l.onFailed(sig.taskID, sig.message)
	}
	return false
}

// dispatchReady dispatches ready tasks until the parallelism bound is
// reached or no ready tasks remain.
func (l *Loop) dispatchReady(ctx context.Context) {
	for _, taskID := range l.graph.Ready() {
		if len(l.live) >= l.plan.MaxParallelAgents {
			l.debugLog("[loop] %d/%d slots busy, deferring dispatch", len(l.live), l.plan.MaxParallelAgents)
			return
		}
		if _, inflight := l.live[taskID]; inflight {
			continue
		}
		l.dispatch(ctx, taskID)
	}
}

// dispatch allocates a worktree, creates the assignment, and hands the
// task to the agent runner. Failures fail only this task's branch of
// the graph.
func (l *Loop) dispatch(ctx context.Context, taskID string) {
	task := l.graph.Task(taskID)
	if task == nil {
		return
	}

	assignmentID := uuid.New().String()
	wt, err := l.worktrees.Allocate(l.plan, assignmentID)
	if err != nil {
		l.record(models.ActivityError, fmt.Sprintf("Worktree allocation failed for %s: %v", task.Title, err))
		l.failTask(taskID, fmt.Sprintf("allocate worktree: %v", err))
		return
	}

	handle, err := l.agents.Dispatch(ctx, task, wt.Path)
	if err != nil {
		l.record(models.ActivityError, fmt.Sprintf("Agent dispatch failed for %s: %v", task.Title, err))
		l.worktrees.Release(wt)
		l.failTask(taskID, fmt.Sprintf("dispatch agent: %v", err))
		return
	}

	now := time.Now()
	la := &liveAssignment{
		assignment: &models.Assignment{
			ID:        assignmentID,
			PlanID:    l.plan.ID,
			TaskID:    taskID,
			AgentID:   handle.ID(),
			Worktree:  wt,
			StartedAt: now,
		},
		wt:     wt,
		handle: handle,
	}
	l.live[taskID] = la

	if err := l.graph.MarkStatus(taskID, models.TaskStatusSent); err != nil {
		l.debugLog("[loop] mark %s sent: %v", taskID, err)
	}
	if err := l.graph.Assign(taskID, handle.ID()); err != nil {
		l.debugLog("[loop] assign %s: %v", taskID, err)
	}
	l.hooks.TaskUpdated(task)

	l.record(models.ActivityInfo, fmt.Sprintf("Task dispatched: %s", task.Title))
	l.emit(LoopEvent{Type: EventTaskDispatched, TaskID: taskID, AgentID: handle.ID(), Message: task.Title})
	l.debugLog("[loop] dispatched task %s to agent %s in %s", taskID, handle.ID(), wt.Path)

	// Pump agent events into the signal queue. The goroutine exits
	// when the handle's event channel closes after its terminal event.
	go func(taskID string, events <-chan runner.Event) {
		for ev := range events {
			var kind signalKind
			switch ev.Type {
			case runner.EventStarted:
				kind = sigStarted
			case runner.EventProgress:
				kind = sigProgress
			case runner.EventCompleted:
				kind = sigCompleted
			case runner.EventFailed:
				kind = sigFailed
			default:
				continue
			}
			select {
			case l.signals <- signal{kind: kind, taskID: taskID, message: ev.Message}:
			case <-l.done:
				return
			}
		}
	}(taskID, handle.Events())
}

func (l *Loop) onStarted(taskID string) {
	if err := l.graph.MarkStatus(taskID, models.TaskStatusInProgress); err != nil {
		l.debugLog("[loop] mark %s in_progress: %v", taskID, err)
		return
	}
	if task := l.graph.Task(taskID); task != nil {
		l.hooks.TaskUpdated(task)
	}
	if l.plan.Status == models.PlanStatusDelegating {
		l.setPlanStatus(models.PlanStatusInProgress)
	}
	l.emit(LoopEvent{Type: EventTaskStarted, TaskID: taskID})
}

// onCompleted finalizes the worktree per the branch strategy, releases
// it, and marks the task completed, unblocking dependents.
func (l *Loop) onCompleted(taskID, summary string) {
	la, ok := l.live[taskID]
	if !ok {
		l.debugLog("[loop] completion for unknown task %s", taskID)
		return
	}
	delete(l.live, taskID)
	l.archive(la)

	if err := l.worktrees.Finalize(la.wt, l.plan.BranchStrategy, l.plan.IntegrationBranch); err != nil {
		var conflict *worktree.MergeConflictError
		if errors.As(err, &conflict) {
			// Keep the branch and checkout for manual resolution; the
			// work is not discarded.
			l.record(models.ActivityError, fmt.Sprintf("Merge conflict on task %s", taskID), err.Error())
			l.failTask(taskID, err.Error())
			l.emit(LoopEvent{Type: EventTaskFailed, TaskID: taskID, Message: err.Error()})
			return
		}
		l.record(models.ActivityError, fmt.Sprintf("Integration failed for task %s", taskID), err.Error())
		l.worktrees.Release(la.wt)
		l.failTask(taskID, err.Error())
		l.emit(LoopEvent{Type: EventTaskFailed, TaskID: taskID, Message: err.Error()})
		return
	}

	l.worktrees.Release(la.wt)

	if err := l.graph.MarkStatus(taskID, models.TaskStatusCompleted); err != nil {
		l.debugLog("[loop] mark %s completed: %v", taskID, err)
	}
	if task := l.graph.Task(taskID); task != nil {
		l.hooks.TaskUpdated(task)
	}
	l.emit(LoopEvent{Type: EventTaskCompleted, TaskID: taskID, Message: summary})
}

// onFailed releases the worktree without finalize and fails the task.
// Dependents stay blocked; independent branches of the graph continue.
func (l *Loop) onFailed(taskID, reason string) {
	la, ok := l.live[taskID]
	if !ok {
		l.debugLog("[loop] failure for unknown task %s", taskID)
		return
	}
	delete(l.live, taskID)
	l.archive(la)

	l.worktrees.Release(la.wt)
	l.failTask(taskID, reason)
	l.emit(LoopEvent{Type: EventTaskFailed, TaskID: taskID, Message: reason})
}

func (l *Loop) failTask(taskID, reason string) {
	if err := l.graph.MarkFailed(taskID, reason); err != nil {
		l.debugLog("[loop] mark %s failed: %v", taskID, err)
	}
	if task := l.graph.Task(taskID); task != nil {
		l.hooks.TaskUpdated(task)
	}
}

// finish resolves the plan once no dispatchable work remains. Partial
// success resolves to ready_for_review; the plan only fails when
// nothing completed and failures made every remaining task
// unreachable.
func (l *Loop) finish() {
	stats := l.graph.Stats()
	if stats.Completed == 0 && stats.Failed > 0 {
		l.record(models.ActivityError, "Plan failed: no task completed and remaining tasks are unreachable")
		l.setPlanStatus(models.PlanStatusFailed)
		return
	}

	if unreachable := l.graph.Unreachable(); len(unreachable) > 0 {
		l.record(models.ActivityWarning, fmt.Sprintf("%d tasks unreachable behind failed dependencies", len(unreachable)))
	}
	l.record(models.ActivitySuccess, fmt.Sprintf("Execution finished: %d completed, %d failed, %d blocked", stats.Completed, stats.Failed, stats.Blocked))
	l.setPlanStatus(models.PlanStatusReadyForReview)
}

// teardown stops dispatching, cancels live agents best-effort, and
// releases every live worktree. It never waits for in-flight agents to
// acknowledge: cancel must stay responsive.
func (l *Loop) teardown(reason string, cancelled bool) {
	for taskID, la := range l.live {
		la.handle.Cancel()
		l.worktrees.Release(la.wt)
		l.archive(la)
		delete(l.live, taskID)
		l.failTask(taskID, reason)
	}

	if cancelled {
		now := time.Now()
		l.plan.CancelledAt = &now
		l.record(models.ActivityWarning, "Plan cancelled", reason)
		l.emit(LoopEvent{Type: EventPlanCancelled, Message: reason})
	} else {
		l.record(models.ActivityError, "Plan declared failed", reason)
	}
	l.setPlanStatus(models.PlanStatusFailed)
}

// archive stamps the assignment's end time.
func (l *Loop) archive(la *liveAssignment) {
	now := time.Now()
	la.assignment.EndedAt = &now
}

// LiveCount returns the number of in-flight assignments. Test helper;
// only meaningful once the loop has quiesced.
func (l *Loop) LiveCount() int {
	return len(l.live)
}

func (l *Loop) setPlanStatus(status models.PlanStatus) {
	l.plan.Status = status
	l.plan.UpdatedAt = time.Now()
	l.hooks.PlanUpdated(l.plan)
	l.emit(LoopEvent{Type: EventPlanStatus, Message: string(status)})
}

func (l *Loop) emit(ev LoopEvent) {
	if l.emitter == nil {
		return
	}
	ev.PlanID = l.plan.ID
	ev.Timestamp = time.Now()
	l.emitter.Emit(ev)
}

func (l *Loop) record(kind models.ActivityType, message string, details ...string) {
	a := models.Activity{
		Timestamp: time.Now(),
		Type:      kind,
		Message:   message,
	}
	if len(details) > 0 {
		a.Details = details[0]
	}
	l.activity(a)
}
