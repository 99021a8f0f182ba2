package worktree

import (
	"fmt"
	"strings"
)

// AllocationError indicates a worktree could not be created, after one
// retry with a disambiguating branch suffix.
type AllocationError struct {
	Branch string
	Err    error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate worktree on branch %s: %v", e.Branch, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// MergeConflictError indicates branch integration hit conflicts. The
// branch and worktree are preserved for manual resolution; the owning
// assignment is marked failed instead of silently discarding work.
type MergeConflictError struct {
	Branch string
	Target string
	Files  []string
}

func (e *MergeConflictError) Error() string {
	if len(e.Files) == 0 {
		return fmt.Sprintf("merge %s into %s: conflicts", e.Branch, e.Target)
	}
	return fmt.Sprintf("merge %s into %s: conflicts in %s", e.Branch, e.Target, strings.Join(e.Files, ", "))
}
