// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateBranch creates a new branch at the given start point.
	CreateBranch(name, startPoint string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a worktree at path on a new branch forked
	// from base (git worktree add -b branch path base).
	WorktreeAdd(path, branch, base string) error
	// WorktreeRemove removes the worktree at the given path.
	WorktreeRemove(path string, force bool) error
	// WorktreeListPorcelain returns the raw porcelain listing output.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree entries with --expire now.
	WorktreePrune() error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// Merge merges the specified branch into the current branch
	// (fast-forward when possible).
	Merge(branch string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// ConflictedFiles returns files with unmerged changes.
	ConflictedFiles() ([]string, error)
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// PushBranch pushes the branch to origin, setting upstream.
	PushBranch(branch string) error
}

// Runner defines the complete interface for git operations consumed by
// the worktree manager. Consumers should prefer the focused interfaces
// when possible.
type Runner interface {
	BranchOperations
	WorktreeOperations
	MergeOperations
	RemoteOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
