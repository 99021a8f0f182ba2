// Package worktree allocates and reclaims isolated git checkouts, one
// per dispatched task.
package worktree

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planloom/planloom/internal/git"
	"github.com/planloom/planloom/pkg/models"
)

// branchPrefix marks branches owned by this tool, used for orphan
// detection during cleanup.
const branchPrefix = "loom/"

// Manager handles git worktree operations for task isolation.
type Manager struct {
	baseDir  string // Base directory for worktrees (e.g., ~/.cache/planloom/worktrees)
	repoPath string // Path to the reference checkout
	git      git.Runner
	mu       sync.Mutex
}

// NewManager creates a Manager rooted at the reference agent's checkout.
// baseDir defaults to ~/.cache/planloom/worktrees when empty.
func NewManager(baseDir, repoPath string) (*Manager, error) {
	return NewManagerWithRunner(baseDir, repoPath, git.NewRunner(repoPath))
}

// NewManagerWithRunner creates a Manager with a custom git runner (for testing).
func NewManagerWithRunner(baseDir, repoPath string, runner git.Runner) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "planloom", "worktrees")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &Manager{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      runner,
	}, nil
}

// Allocate creates a new worktree for the given assignment, branched
// from the plan's integration branch when one exists, otherwise from
// the reference checkout's current branch. A branch name collision is
// retried once with a disambiguating suffix before surfacing an
// AllocationError.
func (m *Manager) Allocate(plan *models.Plan, assignmentID string) (*models.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := plan.IntegrationBranch
	if base == "" {
		current, err := m.git.CurrentBranch()
		if err != nil {
			return nil, &AllocationError{Err: fmt.Errorf("resolve base branch: %w", err)}
		}
		base = current
	}

	branch := branchPrefix + assignmentID
	path := filepath.Join(m.baseDir, strings.ReplaceAll(branch, "/", "-"))

	if err := m.git.WorktreeAdd(path, branch, base); err != nil {
		// Retry once with a disambiguating suffix, the branch or path
		// may be left over from a crashed run.
		branch = fmt.Sprintf("%s%s-%s", branchPrefix, assignmentID, uuid.New().String()[:8])
		path = filepath.Join(m.baseDir, strings.ReplaceAll(branch, "/", "-"))
		if retryErr := m.git.WorktreeAdd(path, branch, base); retryErr != nil {
			return nil, &AllocationError{Branch: branch, Err: retryErr}
		}
	}

	return &models.Worktree{
		Path:         path,
		Branch:       branch,
		BaseBranch:   base,
		AssignmentID: assignmentID,
		Status:       models.WorktreeStatusActive,
		CreatedAt:    time.Now(),
	}, nil
}

// Finalize integrates a completed task's branch according to the
// plan's branch strategy and marks the worktree merged.
//
// Under feature_branch the task branch is merged into the integration
// branch; conflicts abort the merge and surface as MergeConflictError
// with the worktree preserved for manual resolution. Under raise_prs
// the branch is pushed and a pull request reference recorded.
func (m *Manager) Finalize(wt *models.Worktree, strategy models.BranchStrategy, integrationBranch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch strategy {
	case models.StrategyRaisePRs:
		if err := m.git.PushBranch(wt.Branch); err != nil {
			return fmt.Errorf("push branch %s: %w", wt.Branch, err)
		}
		wt.PullRequestRef = "origin/" + wt.Branch
		wt.Status = models.WorktreeStatusMerged
		return nil

	case models.StrategyFeatureBranch:
		if err := m.git.CheckoutBranch(integrationBranch); err != nil {
			return fmt.Errorf("checkout %s: %w", integrationBranch, err)
		}
		if err := m.git.Merge(wt.Branch); err != nil {
			files, _ := m.git.ConflictedFiles()
			if abortErr := m.git.MergeAbort(); abortErr != nil {
				log.Printf("[worktree] warning: merge abort failed: %v", abortErr)
			}
			if len(files) > 0 {
				return &MergeConflictError{Branch: wt.Branch, Target: integrationBranch, Files: files}
			}
			return fmt.Errorf("merge %s into %s: %w", wt.Branch, integrationBranch, err)
		}
		wt.Status = models.WorktreeStatusMerged
		return nil

	default:
		return fmt.Errorf("unknown branch strategy %q", strategy)
	}
}

// Release removes the worktree's filesystem checkout. It is idempotent
// and best-effort: release errors are logged, never propagated, since
// cleanup must not be blocked by its own failure. A leaked worktree is
// a bounded resource that would block future allocations.
func (m *Manager) Release(wt *models.Worktree) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wt.Status == models.WorktreeStatusCleaned {
		return
	}

	if err := m.git.WorktreeRemove(wt.Path, true); err != nil {
		// Removal may race a crashed agent holding the directory; fall
		// back to removing it directly.
		if rmErr := os.RemoveAll(wt.Path); rmErr != nil {
			log.Printf("[worktree] warning: release %s: %v", wt.Path, err)
		}
	}
	if err := m.git.WorktreePrune(); err != nil {
		log.Printf("[worktree] warning: prune after release: %v", err)
	}

	// Merged worktrees keep their branch; only unmerged task branches
	// of cleaned worktrees linger for inspection.
	wt.Status = models.WorktreeStatusCleaned
}

// PrepareIntegrationBranch creates the plan's shared integration
// branch from the reference checkout's current branch, if it does not
// already exist. Returns the branch name.
func (m *Manager) PrepareIntegrationBranch(plan *models.Plan) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := plan.IntegrationBranch
	if name == "" {
		short := plan.ID
		if len(short) > 8 {
			short = short[:8]
		}
		name = branchPrefix + "plan-" + short
	}

	exists, err := m.git.BranchExists(name)
	if err != nil {
		return "", fmt.Errorf("check integration branch: %w", err)
	}
	if !exists {
		base, err := m.git.CurrentBranch()
		if err != nil {
			return "", fmt.Errorf("resolve reference branch: %w", err)
		}
		if err := m.git.CreateBranch(name, base); err != nil {
			return "", fmt.Errorf("create integration branch %s: %w", name, err)
		}
	}
	return name, nil
}

// ListOrphans returns worktrees on tool-owned branches whose
// assignment is not in the live set.
func (m *Manager) ListOrphans(liveAssignments []string) ([]*models.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	live := make(map[string]bool, len(liveAssignments))
	for _, id := range liveAssignments {
		live[id] = true
	}

	var orphans []*models.Worktree
	for _, wt := range parseWorktreeList(out) {
		if !strings.HasPrefix(wt.Branch, branchPrefix) {
			continue
		}
		if wt.Path == m.repoPath {
			continue
		}
		if live[wt.AssignmentID] {
			continue
		}
		orphans = append(orphans, wt)
	}
	return orphans, nil
}

// CleanupOrphans removes orphaned worktrees and returns how many were
// removed. If verbose is non-nil it is called per removed path.
func (m *Manager) CleanupOrphans(liveAssignments []string, verbose func(path string)) (int, error) {
	orphans, err := m.ListOrphans(liveAssignments)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, wt := range orphans {
		if err := m.git.WorktreeRemove(wt.Path, true); err != nil {
			if rmErr := os.RemoveAll(wt.Path); rmErr != nil {
				continue
			}
		}
		if verbose != nil {
			verbose(wt.Path)
		}
		removed++
	}

	_ = m.git.WorktreePrune() // dangling references only, already removed

	return removed, nil
}

// BaseDir returns the base directory where worktrees are created.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// parseWorktreeList parses 'git worktree list --porcelain' output.
func parseWorktreeList(output string) []*models.Worktree {
	var worktrees []*models.Worktree
	var current *models.Worktree

	flush := func() {
		if current != nil {
			worktrees = append(worktrees, current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			flush()
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current = &models.Worktree{
				Path:   strings.TrimPrefix(line, "worktree "),
				Status: models.WorktreeStatusActive,
			}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			// Format: branch refs/heads/<name>
			ref := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(ref, "refs/heads/")
			if strings.HasPrefix(current.Branch, branchPrefix) {
				id := strings.TrimPrefix(current.Branch, branchPrefix)
				// Strip a retry suffix if present.
				if i := strings.LastIndex(id, "-"); i > 0 && len(id)-i-1 == 8 {
					id = id[:i]
				}
				current.AssignmentID = id
			}
		}
	}
	flush()

	return worktrees
}
