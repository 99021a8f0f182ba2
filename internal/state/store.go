package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/planloom/planloom/pkg/models"
)

// Plan CRUD operations

// CreatePlan inserts a new plan record.
func (db *DB) CreatePlan(p *models.Plan) error {
	_, err := db.Exec(`
		INSERT INTO plans (id, title, description, status, max_parallel_agents, branch_strategy,
			reference_agent_id, integration_branch, created_at, updated_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Title, p.Description, string(p.Status), p.MaxParallelAgents, string(p.BranchStrategy),
		p.ReferenceAgentID, p.IntegrationBranch, formatTime(p.CreatedAt), formatTime(p.UpdatedAt), formatTimePtr(p.CancelledAt))
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// UpdatePlan updates a plan record.
func (db *DB) UpdatePlan(p *models.Plan) error {
	_, err := db.Exec(`
		UPDATE plans SET title = ?, description = ?, status = ?, max_parallel_agents = ?,
			branch_strategy = ?, reference_agent_id = ?, integration_branch = ?,
			updated_at = ?, cancelled_at = ?
		WHERE id = ?
	`, p.Title, p.Description, string(p.Status), p.MaxParallelAgents, string(p.BranchStrategy),
		p.ReferenceAgentID, p.IntegrationBranch, formatTime(p.UpdatedAt), formatTimePtr(p.CancelledAt), p.ID)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan by ID. Returns nil if not found.
func (db *DB) GetPlan(id string) (*models.Plan, error) {
	row := db.QueryRow(`
		SELECT id, title, description, status, max_parallel_agents, branch_strategy,
			reference_agent_id, integration_branch, created_at, updated_at, cancelled_at
		FROM plans WHERE id = ?
	`, id)

	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// ListPlans lists all plans, newest first.
func (db *DB) ListPlans() ([]models.Plan, error) {
	return db.listPlans(`
		SELECT id, title, description, status, max_parallel_agents, branch_strategy,
			reference_agent_id, integration_branch, created_at, updated_at, cancelled_at
		FROM plans ORDER BY created_at DESC
	`)
}

// ListExecutingPlans returns plans that were delegating or in progress
// when the process stopped; these are resume candidates.
func (db *DB) ListExecutingPlans() ([]models.Plan, error) {
	return db.listPlans(`
		SELECT id, title, description, status, max_parallel_agents, branch_strategy,
			reference_agent_id, integration_branch, created_at, updated_at, cancelled_at
		FROM plans WHERE status IN ('delegating', 'in_progress') ORDER BY created_at DESC
	`)
}

func (db *DB) listPlans(query string, args ...any) ([]models.Plan, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*models.Plan, error) {
	var p models.Plan
	var createdAt, updatedAt string
	var cancelledAt sql.NullString
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.MaxParallelAgents,
		&p.BranchStrategy, &p.ReferenceAgentID, &p.IntegrationBranch,
		&createdAt, &updatedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = parseTime(createdAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	p.CancelledAt = parseTimePtr(cancelledAt)
	return &p, nil
}

// Task CRUD operations

// CreateTask inserts a new task record.
func (db *DB) CreateTask(t *models.Task) error {
	blockedBy, err := json.Marshal(t.BlockedBy)
	if err != nil {
		return fmt.Errorf("marshal blocked_by: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO tasks (id, plan_id, title, description, status, blocked_by, seq,
			on_critical_path, assigned_to, created_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.PlanID, t.Title, t.Description, string(t.Status), string(blockedBy), t.Seq,
		boolInt(t.OnCriticalPath), t.AssignedTo, formatTime(t.CreatedAt), formatTimePtr(t.CompletedAt), t.Error)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// UpdateTask updates a task record.
func (db *DB) UpdateTask(t *models.Task) error {
	blockedBy, err := json.Marshal(t.BlockedBy)
	if err != nil {
		return fmt.Errorf("marshal blocked_by: %w", err)
	}
	_, err = db.Exec(`
		UPDATE tasks SET title = ?, description = ?, status = ?, blocked_by = ?, seq = ?,
			on_critical_path = ?, assigned_to = ?, completed_at = ?, error = ?
		WHERE plan_id = ? AND id = ?
	`, t.Title, t.Description, string(t.Status), string(blockedBy), t.Seq,
		boolInt(t.OnCriticalPath), t.AssignedTo, formatTimePtr(t.CompletedAt), t.Error, t.PlanID, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// ListTasksByPlan returns a plan's tasks in creation order.
func (db *DB) ListTasksByPlan(planID string) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT id, plan_id, title, description, status, blocked_by, seq,
			on_critical_path, assigned_to, created_at, completed_at, error
		FROM tasks WHERE plan_id = ? ORDER BY seq ASC
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var blockedBy sql.NullString
		var critical int
		var createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.PlanID, &t.Title, &t.Description, &t.Status, &blockedBy,
			&t.Seq, &critical, &t.AssignedTo, &createdAt, &completedAt, &t.Error); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if blockedBy.Valid && blockedBy.String != "" {
			if err := json.Unmarshal([]byte(blockedBy.String), &t.BlockedBy); err != nil {
				return nil, fmt.Errorf("unmarshal blocked_by: %w", err)
			}
		}
		t.OnCriticalPath = critical != 0
		t.CreatedAt, _ = parseTime(createdAt)
		t.CompletedAt = parseTimePtr(completedAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Activity operations

// AppendActivity appends an audit entry for the plan. Entries are
// append-only and never updated.
func (db *DB) AppendActivity(planID string, a models.Activity) error {
	_, err := db.Exec(`
		INSERT INTO activities (plan_id, timestamp, type, message, details)
		VALUES (?, ?, ?, ?, ?)
	`, planID, formatTime(a.Timestamp), string(a.Type), a.Message, a.Details)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivities returns a plan's activity log in insertion order.
func (db *DB) ListActivities(planID string) ([]models.Activity, error) {
	rows, err := db.Query(`
		SELECT timestamp, type, message, details
		FROM activities WHERE plan_id = ? ORDER BY id ASC
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []models.Activity
	for rows.Next() {
		var a models.Activity
		var ts string
		var details sql.NullString
		if err := rows.Scan(&ts, &a.Type, &a.Message, &details); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Timestamp, _ = parseTime(ts)
		a.Details = details.String
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
