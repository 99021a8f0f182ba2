// Package state provides SQLite-based persistence for plans.
package state

import (
	"io"

	"github.com/planloom/planloom/pkg/models"
)

// PlanStore handles plan-related persistence operations.
type PlanStore interface {
	CreatePlan(p *models.Plan) error
	UpdatePlan(p *models.Plan) error
	GetPlan(id string) (*models.Plan, error)
	ListPlans() ([]models.Plan, error)
	ListExecutingPlans() ([]models.Plan, error)
}

// TaskStore handles task-related persistence operations.
type TaskStore interface {
	CreateTask(t *models.Task) error
	UpdateTask(t *models.Task) error
	ListTasksByPlan(planID string) ([]models.Task, error)
}

// ActivityStore handles the append-only audit log.
type ActivityStore interface {
	AppendActivity(planID string, a models.Activity) error
	ListActivities(planID string) ([]models.Activity, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for plan persistence. The coordinator
// works against this interface so any backend can replace SQLite.
type Store interface {
	io.Closer
	Migrator
	PlanStore
	TaskStore
	ActivityStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ PlanStore     = (*DB)(nil)
	_ TaskStore     = (*DB)(nil)
	_ ActivityStore = (*DB)(nil)
)
