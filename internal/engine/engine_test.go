package engine

import (
	"reflect"
	"testing"

	"github.com/planloom/planloom/pkg/models"
)

func task(id string, seq int, status models.TaskStatus, blockedBy ...string) *models.Task {
	return &models.Task{ID: id, Seq: seq, Status: status, BlockedBy: blockedBy}
}

// link fills Blocks from BlockedBy the way the graph maintains it.
func link(tasks []*models.Task) []*models.Task {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.BlockedBy {
			byID[dep].Blocks = append(byID[dep].Blocks, t.ID)
		}
	}
	return tasks
}

func TestReadyTasksNoDependencies(t *testing.T) {
	tasks := link([]*models.Task{
		task("a", 0, models.TaskStatusReady),
		task("b", 1, models.TaskStatusReady),
	})

	got := ReadyTasks(tasks)
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReadyTasksOrderedBySeq(t *testing.T) {
	// Declare out of seq order to prove sorting is by Seq, not input
	// position.
	tasks := link([]*models.Task{
		task("later", 5, models.TaskStatusReady),
		task("first", 1, models.TaskStatusReady),
		task("mid", 3, models.TaskStatusReady),
	})

	got := ReadyTasks(tasks)
	want := []string{"first", "mid", "later"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReadyTasksSkipsDispatchedAndTerminal(t *testing.T) {
	tasks := link([]*models.Task{
		task("sent", 0, models.TaskStatusSent),
		task("running", 1, models.TaskStatusInProgress),
		task("done", 2, models.TaskStatusCompleted),
		task("dead", 3, models.TaskStatusFailed),
		task("fresh", 4, models.TaskStatusReady),
	})

	got := ReadyTasks(tasks)
	want := []string{"fresh"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReadyTasksBlockedByIncomplete(t *testing.T) {
	tasks := link([]*models.Task{
		task("a", 0, models.TaskStatusInProgress),
		task("b", 1, models.TaskStatusBlocked, "a"),
		task("c", 2, models.TaskStatusBlocked, "b"),
	})

	if got := ReadyTasks(tasks); len(got) != 0 {
		t.Errorf("expected no ready tasks, got %v", got)
	}

	tasks[0].Status = models.TaskStatusCompleted
	got := ReadyTasks(tasks)
	want := []string{"b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v after completing a, got %v", want, got)
	}
}

func TestReadyTasksFailedDependencyNeverReady(t *testing.T) {
	tasks := link([]*models.Task{
		task("a", 0, models.TaskStatusFailed),
		task("b", 1, models.TaskStatusBlocked, "a"),
	})

	if got := ReadyTasks(tasks); len(got) != 0 {
		t.Errorf("failed dependency must not unblock dependents, got %v", got)
	}
}

func TestReadyTasksDeterministic(t *testing.T) {
	tasks := link([]*models.Task{
		task("x", 2, models.TaskStatusReady),
		task("y", 0, models.TaskStatusReady),
		task("z", 1, models.TaskStatusReady),
	})

	first := ReadyTasks(tasks)
	for i := 0; i < 10; i++ {
		if got := ReadyTasks(tasks); !reflect.DeepEqual(got, first) {
			t.Fatalf("ordering changed between calls: %v vs %v", first, got)
		}
	}
}

func TestCriticalPathLinearChain(t *testing.T) {
	// a -> b -> c: every node is on the single longest chain.
	tasks := link([]*models.Task{
		task("a", 0, models.TaskStatusReady),
		task("b", 1, models.TaskStatusBlocked, "a"),
		task("c", 2, models.TaskStatusBlocked, "b"),
	})

	critical := CriticalPath(tasks)
	for _, id := range []string{"a", "b", "c"} {
		if !critical[id] {
			t.Errorf("expected %s on critical path", id)
		}
	}
}

func TestCriticalPathShorterBranchExcluded(t *testing.T) {
	// a -> b -> c is the longest chain; d is an isolated task.
	tasks := link([]*models.Task{
		task("a", 0, models.TaskStatusReady),
		task("b", 1, models.TaskStatusBlocked, "a"),
		task("c", 2, models.TaskStatusBlocked, "b"),
		task("d", 3, models.TaskStatusReady),
	})

	critical := CriticalPath(tasks)
	if critical["d"] {
		t.Error("isolated task must not be on critical path")
	}
	if !critical["a"] || !critical["b"] || !critical["c"] {
		t.Errorf("chain nodes missing from critical path: %v", critical)
	}
}

func TestCriticalPathTiesFlagAllPaths(t *testing.T) {
	// Two disjoint two-hop chains tie for longest; every node on both
	// must be flagged.
	tasks := link([]*models.Task{
		task("a1", 0, models.TaskStatusReady),
		task("a2", 1, models.TaskStatusBlocked, "a1"),
		task("b1", 2, models.TaskStatusReady),
		task("b2", 3, models.TaskStatusBlocked, "b1"),
	})

	critical := CriticalPath(tasks)
	for _, id := range []string{"a1", "a2", "b1", "b2"} {
		if !critical[id] {
			t.Errorf("expected %s flagged on tied critical paths", id)
		}
	}
}

func TestCriticalPathDiamond(t *testing.T) {
	// a -> (b, c) -> d: both middle nodes lie on a longest path.
	tasks := link([]*models.Task{
		task("a", 0, models.TaskStatusReady),
		task("b", 1, models.TaskStatusBlocked, "a"),
		task("c", 2, models.TaskStatusBlocked, "a"),
		task("d", 3, models.TaskStatusBlocked, "b", "c"),
	})

	critical := CriticalPath(tasks)
	for _, id := range []string{"a", "b", "c", "d"} {
		if !critical[id] {
			t.Errorf("expected %s on critical path through diamond", id)
		}
	}
}

func TestCriticalPathEmpty(t *testing.T) {
	if got := CriticalPath(nil); len(got) != 0 {
		t.Errorf("expected empty set for empty graph, got %v", got)
	}
}

func TestStatsCounts(t *testing.T) {
	tasks := []*models.Task{
		task("a", 0, models.TaskStatusCompleted),
		task("b", 1, models.TaskStatusFailed),
		task("c", 2, models.TaskStatusSent),
		task("d", 3, models.TaskStatusInProgress),
		task("e", 4, models.TaskStatusReady),
		task("f", 5, models.TaskStatusBlocked),
		task("g", 6, models.TaskStatusPlanned),
	}

	s := Stats(tasks)
	if s.Total != 7 {
		t.Errorf("total: expected 7, got %d", s.Total)
	}
	if s.Completed != 1 || s.Failed != 1 || s.Sent != 1 || s.InProgress != 1 || s.Ready != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	// Planned tasks count as blocked: they are not dispatchable yet.
	if s.Blocked != 2 {
		t.Errorf("blocked: expected 2, got %d", s.Blocked)
	}
	if s.Active() != 2 {
		t.Errorf("active: expected 2, got %d", s.Active())
	}
}

func TestUnreachableBehindFailedDependency(t *testing.T) {
	tasks := link([]*models.Task{
		task("a", 0, models.TaskStatusFailed),
		task("b", 1, models.TaskStatusBlocked, "a"),
		task("c", 2, models.TaskStatusBlocked, "b"),
		task("d", 3, models.TaskStatusReady),
	})

	got := Unreachable(tasks)
	want := []string{"b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestUnreachableIgnoresHealthyGraph(t *testing.T) {
	tasks := link([]*models.Task{
		task("a", 0, models.TaskStatusCompleted),
		task("b", 1, models.TaskStatusReady, "a"),
	})

	if got := Unreachable(tasks); len(got) != 0 {
		t.Errorf("expected no unreachable tasks, got %v", got)
	}
}
