// Package engine provides pure readiness and critical-path computation
// over a snapshot of a plan's task graph. It holds no state of its own,
// which keeps the scheduling decisions exhaustively testable.
package engine

import (
	"sort"

	"github.com/planloom/planloom/pkg/models"
)

// ReadyTasks returns the IDs of every task whose dependencies are all
// completed and which has not itself been dispatched or finished.
// Order is deterministic: sorted by task creation order, so repeated
// calls against identical graph state yield identical ordering.
func ReadyTasks(tasks []*models.Task) []string {
	byID := index(tasks)

	var ready []*models.Task
	for _, t := range tasks {
		if t.Status.Dispatched() || t.Status.Terminal() {
			continue
		}
		if depsCompleted(t, byID) {
			ready = append(ready, t)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Seq < ready[j].Seq
	})

	ids := make([]string, len(ready))
	for i, t := range ready {
		ids[i] = t.ID
	}
	return ids
}

// CriticalPath returns the set of task IDs lying on any maximum-length
// dependency chain. Length is measured in hops with uniform unit cost;
// the data model carries no duration estimates. When several paths tie
// for the maximum, every node on any of them is flagged.
func CriticalPath(tasks []*models.Task) map[string]bool {
	byID := index(tasks)
	if len(byID) == 0 {
		return map[string]bool{}
	}

	order := topoOrder(tasks, byID)

	// down[n]: longest hop count from any source to n.
	down := make(map[string]int, len(order))
	for _, id := range order {
		t := byID[id]
		for _, dep := range t.BlockedBy {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if d := down[dep] + 1; d > down[id] {
				down[id] = d
			}
		}
	}

	// up[n]: longest hop count from n to any sink. Walk in reverse
	// topological order so successors are resolved first.
	up := make(map[string]int, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		t := byID[order[i]]
		for _, succ := range t.Blocks {
			if _, ok := byID[succ]; !ok {
				continue
			}
			if u := up[succ] + 1; u > up[t.ID] {
				up[t.ID] = u
			}
		}
	}

	longest := 0
	for _, id := range order {
		if l := down[id] + up[id]; l > longest {
			longest = l
		}
	}

	critical := make(map[string]bool)
	for _, id := range order {
		if down[id]+up[id] == longest {
			critical[id] = true
		}
	}
	return critical
}

// Stats counts tasks by status bucket in a single pass.
func Stats(tasks []*models.Task) models.GraphStats {
	var s models.GraphStats
	s.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			s.Completed++
		case models.TaskStatusInProgress:
			s.InProgress++
		case models.TaskStatusSent:
			s.Sent++
		case models.TaskStatusReady:
			s.Ready++
		case models.TaskStatusBlocked, models.TaskStatusPlanned:
			s.Blocked++
		case models.TaskStatusFailed:
			s.Failed++
		}
	}
	return s
}

// Unreachable returns the IDs of non-terminal tasks that can never run
// because some transitive dependency has failed.
func Unreachable(tasks []*models.Task) []string {
	byID := index(tasks)

	memo := make(map[string]bool, len(byID))
	var doomed func(id string) bool
	doomed = func(id string) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		t, ok := byID[id]
		if !ok {
			return false
		}
		if t.Status == models.TaskStatusFailed {
			memo[id] = true
			return true
		}
		// Guard against revisiting on diamond shapes.
		memo[id] = false
		for _, dep := range t.BlockedBy {
			if doomed(dep) {
				memo[id] = true
				return true
			}
		}
		return memo[id]
	}

	var out []string
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		for _, dep := range t.BlockedBy {
			if doomed(dep) {
				out = append(out, t.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func index(tasks []*models.Task) map[string]*models.Task {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID
}

func depsCompleted(t *models.Task, byID map[string]*models.Task) bool {
	for _, dep := range t.BlockedBy {
		d, ok := byID[dep]
		if !ok || d.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// topoOrder returns task IDs with every dependency before its
// dependents. The graph is cycle-checked at construction, so a plain
// DFS post-order suffices here.
func topoOrder(tasks []*models.Task, byID map[string]*models.Task) []string {
	visited := make(map[string]bool, len(byID))
	var order []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range byID[id].BlockedBy {
			if _, ok := byID[dep]; ok {
				visit(dep)
			}
		}
		order = append(order, id)
	}

	// Iterate the slice, not the map, for deterministic output.
	for _, t := range tasks {
		visit(t.ID)
	}
	return order
}
