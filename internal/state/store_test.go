package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/planloom/planloom/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "planloom.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func samplePlan(id string, status models.PlanStatus) *models.Plan {
	now := time.Now().Truncate(time.Millisecond)
	return &models.Plan{
		ID:                id,
		Title:             "Test plan",
		Description:       "desc",
		Status:            status,
		MaxParallelAgents: 3,
		BranchStrategy:    models.StrategyFeatureBranch,
		IntegrationBranch: "loom/plan-" + id,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	// Re-running migrations must be a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	db := openTestDB(t)

	p := samplePlan("p1", models.PlanStatusDraft)
	if err := db.CreatePlan(p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := db.GetPlan("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected plan, got nil")
	}
	if got.Title != p.Title || got.Status != p.Status || got.MaxParallelAgents != 3 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.IntegrationBranch != p.IntegrationBranch {
		t.Errorf("integration branch lost: %q", got.IntegrationBranch)
	}
	if !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("created_at drift: %v vs %v", got.CreatedAt, p.CreatedAt)
	}
}

func TestGetPlanMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetPlan("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing plan, got %+v", got)
	}
}

func TestUpdatePlanCancelledAt(t *testing.T) {
	db := openTestDB(t)

	p := samplePlan("p1", models.PlanStatusInProgress)
	if err := db.CreatePlan(p); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().Truncate(time.Millisecond)
	p.Status = models.PlanStatusFailed
	p.CancelledAt = &now
	if err := db.UpdatePlan(p); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := db.GetPlan("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.PlanStatusFailed {
		t.Errorf("status not persisted: %s", got.Status)
	}
	if got.CancelledAt == nil || !got.CancelledAt.Equal(now) {
		t.Errorf("cancelled_at not persisted: %v", got.CancelledAt)
	}
	if !got.Cancelled() {
		t.Error("expected Cancelled() true after round trip")
	}
}

func TestListExecutingPlans(t *testing.T) {
	db := openTestDB(t)

	for id, status := range map[string]models.PlanStatus{
		"draft":      models.PlanStatusDraft,
		"delegating": models.PlanStatusDelegating,
		"running":    models.PlanStatusInProgress,
		"done":       models.PlanStatusCompleted,
	} {
		if err := db.CreatePlan(samplePlan(id, status)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	got, err := db.ListExecutingPlans()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 executing plans, got %d", len(got))
	}
	for _, p := range got {
		if !p.Status.Executing() {
			t.Errorf("non-executing plan returned: %s %s", p.ID, p.Status)
		}
	}
}

func TestTaskRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if err := db.CreatePlan(samplePlan("p1", models.PlanStatusDraft)); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	now := time.Now().Truncate(time.Millisecond)
	task := &models.Task{
		ID:             "t1",
		PlanID:         "p1",
		Title:          "Build the thing",
		Status:         models.TaskStatusBlocked,
		BlockedBy:      []string{"t0"},
		Seq:            4,
		OnCriticalPath: true,
		CreatedAt:      now,
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	task.Status = models.TaskStatusFailed
	task.Error = "agent exited 1"
	completed := now.Add(time.Minute)
	task.CompletedAt = &completed
	task.AssignedTo = "agent-7"
	if err := db.UpdateTask(task); err != nil {
		t.Fatalf("update task: %v", err)
	}

	tasks, err := db.ListTasksByPlan("p1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	got := tasks[0]
	if got.Status != models.TaskStatusFailed || got.Error != "agent exited 1" {
		t.Errorf("status/error mismatch: %+v", got)
	}
	if len(got.BlockedBy) != 1 || got.BlockedBy[0] != "t0" {
		t.Errorf("blocked_by lost: %v", got.BlockedBy)
	}
	if !got.OnCriticalPath || got.Seq != 4 || got.AssignedTo != "agent-7" {
		t.Errorf("fields lost: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("completed_at mismatch: %v", got.CompletedAt)
	}
}

func TestListTasksOrderedBySeq(t *testing.T) {
	db := openTestDB(t)
	if err := db.CreatePlan(samplePlan("p1", models.PlanStatusDraft)); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	for _, tc := range []struct {
		id  string
		seq int
	}{{"c", 2}, {"a", 0}, {"b", 1}} {
		task := &models.Task{ID: tc.id, PlanID: "p1", Title: tc.id, Status: models.TaskStatusReady, Seq: tc.seq, CreatedAt: time.Now()}
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("create %s: %v", tc.id, err)
		}
	}

	tasks, err := db.ListTasksByPlan("p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("expected order %v, got %s at %d", want, tasks[i].ID, i)
		}
	}
}

func TestActivityAppendOnly(t *testing.T) {
	db := openTestDB(t)
	if err := db.CreatePlan(samplePlan("p1", models.PlanStatusDraft)); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	entries := []models.Activity{
		{Timestamp: time.Now(), Type: models.ActivityInfo, Message: "Plan created"},
		{Timestamp: time.Now(), Type: models.ActivityError, Message: "Task failed", Details: "t1"},
	}
	for _, a := range entries {
		if err := db.AppendActivity("p1", a); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := db.ListActivities("p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Message != "Plan created" || got[1].Details != "t1" {
		t.Errorf("entries mismatch: %+v", got)
	}
	if got[1].Type != models.ActivityError {
		t.Errorf("type lost: %s", got[1].Type)
	}
}
