package models

import "time"

// PlanStatus represents the lifecycle state of a plan.
type PlanStatus string

const (
	// PlanStatusDraft indicates the plan is being authored.
	PlanStatusDraft PlanStatus = "draft"
	// PlanStatusDelegating indicates execution has started and the first
	// wave of tasks is being dispatched.
	PlanStatusDelegating PlanStatus = "delegating"
	// PlanStatusInProgress indicates agents are actively working.
	PlanStatusInProgress PlanStatus = "in_progress"
	// PlanStatusReadyForReview indicates all reachable tasks are terminal
	// and a human decides whether to accept the result.
	PlanStatusReadyForReview PlanStatus = "ready_for_review"
	// PlanStatusCompleted indicates the plan was explicitly accepted.
	PlanStatusCompleted PlanStatus = "completed"
	// PlanStatusFailed indicates the whole unit of work cannot proceed.
	// Cancelled plans also carry this status; CancelledAt distinguishes
	// them for audit.
	PlanStatusFailed PlanStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusDraft, PlanStatusDelegating, PlanStatusInProgress,
		PlanStatusReadyForReview, PlanStatusCompleted, PlanStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the plan can no longer change state.
func (s PlanStatus) Terminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed
}

// Executing returns true while the scheduler loop owns the plan.
func (s PlanStatus) Executing() bool {
	return s == PlanStatusDelegating || s == PlanStatusInProgress
}

// BranchStrategy selects how a completed task's branch is integrated.
type BranchStrategy string

const (
	// StrategyFeatureBranch merges task branches into the plan's shared
	// integration branch as tasks complete.
	StrategyFeatureBranch BranchStrategy = "feature_branch"
	// StrategyRaisePRs pushes each task branch and records a pull
	// request reference instead of merging directly.
	StrategyRaisePRs BranchStrategy = "raise_prs"
)

// Valid returns true if the strategy is a known value.
func (b BranchStrategy) Valid() bool {
	return b == StrategyFeatureBranch || b == StrategyRaisePRs
}

// Plan is a unit of coordinated work decomposed into dependent tasks.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// Title is the short name of the plan.
	Title string `json:"title"`
	// Description explains the overall goal.
	Description string `json:"description,omitempty"`
	// Status is the lifecycle state of the plan.
	Status PlanStatus `json:"status"`
	// MaxParallelAgents bounds concurrently live assignments (>= 1).
	MaxParallelAgents int `json:"max_parallel_agents"`
	// BranchStrategy selects the integration policy for finished tasks.
	BranchStrategy BranchStrategy `json:"branch_strategy"`
	// ReferenceAgentID identifies the agent whose checkout seeds new worktrees.
	ReferenceAgentID string `json:"reference_agent_id,omitempty"`
	// IntegrationBranch is the shared branch task work merges into.
	IntegrationBranch string `json:"integration_branch,omitempty"`
	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the plan last changed state.
	UpdatedAt time.Time `json:"updated_at"`
	// CancelledAt records when the plan was cancelled, if it was.
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Cancelled reports whether the plan was torn down by an explicit cancel.
func (p *Plan) Cancelled() bool {
	return p.CancelledAt != nil
}
