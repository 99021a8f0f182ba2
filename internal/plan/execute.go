package plan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/planloom/planloom/internal/scheduler"
	"github.com/planloom/planloom/pkg/models"
)

// Execute transitions a draft plan to delegating and starts its
// scheduler loop. The loop runs on its own goroutine; Execute returns
// as soon as the loop is started. referenceAgentID names the checkout
// the plan's worktrees are seeded from; only one plan at a time may
// hold it, and the claim lasts until Complete or a terminal outcome.
func (c *Coordinator) Execute(ctx context.Context, planID, referenceAgentID string) error {
	ps, err := c.state(planID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if ps.plan.Status != models.PlanStatusDraft {
		c.mu.Unlock()
		return fmt.Errorf("plan %s is %s, only draft plans can be executed", planID, ps.plan.Status)
	}
	if ps.graph.Size() == 0 {
		c.mu.Unlock()
		return fmt.Errorf("plan %s has no tasks", planID)
	}
	ps.plan.ReferenceAgentID = referenceAgentID
	if err := c.lockReference(ps.plan); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	branch, err := c.worktrees.PrepareIntegrationBranch(ps.plan)
	if err != nil {
		c.unlockReference(ps.plan)
		return fmt.Errorf("prepare integration branch: %w", err)
	}
	ps.plan.IntegrationBranch = branch
	c.persistPlan(ps.plan)

	c.startLoop(ctx, ps)
	return nil
}

// Cancel stops a plan. An executing plan's loop is asked to tear down
// and Cancel returns without waiting for it; a draft plan is failed
// directly. Cancel is a no-op on an already terminal plan.
func (c *Coordinator) Cancel(planID string) error {
	ps, err := c.state(planID)
	if err != nil {
		return err
	}

	// A plan can be in an executing status with no live loop when it
	// was restored from the store after a crash.
	if ps.plan.Status.Executing() && ps.loop != nil {
		ps.loop.Cancel()
		return nil
	}
	if ps.plan.Status.Terminal() {
		return nil
	}

	now := time.Now()
	ps.plan.Status = models.PlanStatusFailed
	ps.plan.CancelledAt = &now
	ps.plan.UpdatedAt = now
	c.persistPlan(ps.plan)
	c.unlockReference(ps.plan)
	ps.log.Append(models.Activity{
		Timestamp: now,
		Type:      models.ActivityWarning,
		Message:   "Plan cancelled",
	})
	return nil
}

// Complete marks a reviewed plan as done and releases its reference
// checkout. Only plans in ready_for_review can be completed.
func (c *Coordinator) Complete(planID string) error {
	ps, err := c.state(planID)
	if err != nil {
		return err
	}
	if ps.plan.Status != models.PlanStatusReadyForReview {
		return fmt.Errorf("plan %s is %s, only ready_for_review plans can be completed", planID, ps.plan.Status)
	}

	ps.plan.Status = models.PlanStatusCompleted
	ps.plan.UpdatedAt = time.Now()
	c.persistPlan(ps.plan)
	c.unlockReference(ps.plan)
	ps.log.Append(models.Activity{
		Timestamp: ps.plan.UpdatedAt,
		Type:      models.ActivitySuccess,
		Message:   "Plan completed",
	})
	return nil
}

// Wait blocks until the plan's scheduler loop returns. Plans that were
// never executed return immediately.
func (c *Coordinator) Wait(planID string) error {
	ps, err := c.state(planID)
	if err != nil {
		return err
	}
	if ps.done == nil {
		return nil
	}
	<-ps.done
	return nil
}

// WaitAll blocks until every started loop has returned.
func (c *Coordinator) WaitAll() {
	c.wg.Wait()
}

// Load restores all persisted plans into the registry without starting
// anything. Tasks that were mid-flight when the previous process died
// are failed: their agents are gone and their outcomes unknowable.
func (c *Coordinator) Load() error {
	if c.store == nil {
		return nil
	}
	plans, err := c.store.ListPlans()
	if err != nil {
		return err
	}
	for i := range plans {
		if _, err := c.restore(&plans[i]); err != nil {
			return err
		}
	}
	return nil
}

// Resume restarts the scheduler loop of every plan that was executing
// when the previous process exited. Orphaned worktrees left by those
// processes are pruned first.
func (c *Coordinator) Resume(ctx context.Context) ([]string, error) {
	if c.store == nil {
		return nil, nil
	}
	plans, err := c.store.ListExecutingPlans()
	if err != nil {
		return nil, err
	}

	// No assignments survive a restart, so every managed worktree on
	// disk is an orphan.
	if n, err := c.worktrees.CleanupOrphans(nil, nil); err != nil {
		log.Printf("[plan] warning: orphan cleanup: %v", err)
	} else if n > 0 {
		c.debugLog("[plan] cleaned up %d orphaned worktrees", n)
	}

	var resumed []string
	for i := range plans {
		p := &plans[i]
		ps, err := c.restore(p)
		if err != nil {
			return resumed, err
		}

		for _, t := range ps.graph.Tasks() {
			if !t.Status.Dispatched() {
				continue
			}
			if err := ps.graph.MarkFailed(t.ID, "orphaned by restart"); err != nil {
				c.debugLog("[plan] orphan task %s: %v", t.ID, err)
			}
			if err := c.store.UpdateTask(t); err != nil {
				log.Printf("[plan] warning: persist task %s: %v", t.ID, err)
			}
		}

		c.mu.Lock()
		err = c.lockReference(ps.plan)
		c.mu.Unlock()
		if err != nil {
			return resumed, err
		}

		c.startLoop(ctx, ps)
		resumed = append(resumed, p.ID)
	}
	return resumed, nil
}

// Reload discards a plan's in-memory state and rebuilds it from the
// store. Used by read-only consumers following a plan another process
// is executing. Refused while this process runs the plan's loop.
func (c *Coordinator) Reload(planID string) error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	if ps, ok := c.plans[planID]; ok {
		if ps.loop != nil {
			select {
			case <-ps.done:
			default:
				c.mu.Unlock()
				return fmt.Errorf("plan %s is executing in this process", planID)
			}
		}
		delete(c.plans, planID)
	}
	c.mu.Unlock()

	p, err := c.store.GetPlan(planID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	_, err = c.restore(p)
	return err
}

// restore rebuilds a plan's graph and activity log from the store and
// registers it. Returns the existing state if already registered.
func (c *Coordinator) restore(p *models.Plan) (*planState, error) {
	c.mu.RLock()
	existing, ok := c.plans[p.ID]
	c.mu.RUnlock()
	if ok {
		return existing, nil
	}

	ps := c.newPlanState(p)

	// The replay is a rebuild, not authoring: mute the audit sink so
	// the persisted log is not appended to again on every process
	// start.
	ps.graph.SetActivitySink(func(models.Activity) {})

	tasks, err := c.store.ListTasksByPlan(p.ID)
	if err != nil {
		return nil, err
	}

	// Dependencies added after task creation can point at tasks with a
	// higher seq, so edges only attach once every node is present.
	edges := make(map[string][]string, len(tasks))
	for i := range tasks {
		t := tasks[i]
		edges[t.ID] = t.BlockedBy
		t.BlockedBy = nil
		t.Blocks = nil
		if err := ps.graph.AddNode(&t); err != nil {
			return nil, fmt.Errorf("restore plan %s: %w", p.ID, err)
		}
	}
	for i := range tasks {
		for _, dep := range edges[tasks[i].ID] {
			if err := ps.graph.AddDependency(dep, tasks[i].ID); err != nil {
				return nil, fmt.Errorf("restore plan %s: %w", p.ID, err)
			}
		}
	}

	ps.graph.SetActivitySink(ps.log.Append)

	activities, err := c.store.ListActivities(p.ID)
	if err != nil {
		return nil, err
	}
	ps.log.seed(activities)

	c.mu.Lock()
	c.plans[p.ID] = ps
	c.mu.Unlock()
	return ps, nil
}

// startLoop spins up the plan's scheduler loop. A plan that finishes
// in ready_for_review keeps its reference checkout claimed until
// Complete or Cancel; terminal outcomes release it as the loop
// returns.
func (c *Coordinator) startLoop(ctx context.Context, ps *planState) {
	ps.loop = scheduler.New(scheduler.Config{
		Plan:         ps.plan,
		Graph:        ps.graph,
		Worktrees:    c.worktrees,
		Agents:       c.agents,
		Emitter:      c.emitter,
		PollInterval: c.pollInterval,
		Activity:     ps.log.Append,
		DebugLog:     ps.debugLog,
		Hooks: scheduler.Hooks{
			TaskUpdated: func(t *models.Task) {
				if c.store == nil {
					return
				}
				if err := c.store.UpdateTask(t); err != nil {
					log.Printf("[plan] warning: persist task %s: %v", t.ID, err)
				}
			},
			PlanUpdated: func(p *models.Plan) {
				c.persistPlan(p)
			},
		},
	})
	ps.done = make(chan struct{})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(ps.done)

		if err := ps.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			ps.debugLog("loop exited: %v", err)
		}
		if ps.plan.Status.Terminal() {
			c.unlockReference(ps.plan)
		}
	}()
}

// lockReference claims the plan's reference checkout. Caller holds c.mu.
func (c *Coordinator) lockReference(p *models.Plan) error {
	key := p.ReferenceAgentID
	if key == "" {
		key = "default"
	}
	if holder, held := c.refLocks[key]; held && holder != p.ID {
		return fmt.Errorf("%w: held by plan %s", ErrReferenceAgentBusy, holder)
	}
	c.refLocks[key] = p.ID
	return nil
}

// unlockReference releases the plan's reference checkout claim.
func (c *Coordinator) unlockReference(p *models.Plan) {
	key := p.ReferenceAgentID
	if key == "" {
		key = "default"
	}
	c.mu.Lock()
	if c.refLocks[key] == p.ID {
		delete(c.refLocks, key)
	}
	c.mu.Unlock()
}

func (c *Coordinator) persistPlan(p *models.Plan) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdatePlan(p); err != nil {
		log.Printf("[plan] warning: persist plan %s: %v", p.ID, err)
	}
}
