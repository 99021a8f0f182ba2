package models

import "time"

// WorktreeStatus represents the state of an isolated checkout.
type WorktreeStatus string

const (
	// WorktreeStatusActive indicates the checkout exists on disk and is owned
	// by a live assignment.
	WorktreeStatusActive WorktreeStatus = "active"
	// WorktreeStatusMerged indicates the branch was integrated (merged or
	// pushed with a PR reference recorded).
	WorktreeStatusMerged WorktreeStatus = "merged"
	// WorktreeStatusCleaned indicates the checkout was removed from disk.
	WorktreeStatusCleaned WorktreeStatus = "cleaned"
)

// Worktree is an isolated, disposable git checkout used for one task's
// execution. Exclusively owned by one assignment at a time.
type Worktree struct {
	// Path is the absolute path to the checkout directory.
	Path string `json:"path"`
	// Branch is the task branch checked out in the worktree.
	Branch string `json:"branch"`
	// BaseBranch is the branch the worktree was created from.
	BaseBranch string `json:"base_branch"`
	// AssignmentID is the ID of the owning assignment.
	AssignmentID string `json:"assignment_id"`
	// Status tracks the worktree through its lifecycle.
	Status WorktreeStatus `json:"status"`
	// CreatedAt is when the worktree was created.
	CreatedAt time.Time `json:"created_at"`
	// PullRequestRef holds the recorded PR reference under the raise_prs
	// strategy, if one was opened.
	PullRequestRef string `json:"pull_request_ref,omitempty"`
}

// Assignment binds a task to an agent and a worktree for the duration
// of execution. Created at dispatch, archived when the task reaches a
// terminal status.
type Assignment struct {
	// ID is the unique identifier for this assignment.
	ID string `json:"id"`
	// PlanID is the ID of the owning plan.
	PlanID string `json:"plan_id"`
	// TaskID is the task being executed.
	TaskID string `json:"task_id"`
	// AgentID is the agent runner handle identifier.
	AgentID string `json:"agent_id"`
	// Worktree is the isolated checkout owned by this assignment.
	Worktree *Worktree `json:"worktree,omitempty"`
	// StartedAt is when the task was dispatched.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the assignment was archived, if it has been.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}
