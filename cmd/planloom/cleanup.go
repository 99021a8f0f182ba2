package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planloom/planloom/internal/config"
	"github.com/planloom/planloom/internal/state"
	"github.com/planloom/planloom/internal/worktree"
)

var (
	cleanupForce   bool
	cleanupVerbose bool
	cleanupDryRun  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees",
	Long: `Clean up orphaned git worktrees left by crashed or interrupted runs.

This command:
  - Lists all planloom-managed worktrees
  - Identifies orphans (no live assignment)
  - Removes orphaned worktrees and their branches
  - Runs git worktree prune

Use this after a crash to reclaim disk and branch namespace.

Examples:
  planloom cleanup            # Interactive cleanup with confirmation
  planloom cleanup --force    # Skip confirmation prompt
  planloom cleanup --dry-run  # Show what would be removed
  planloom cleanup -v         # Verbose output showing each removal`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	repoPath, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.Paths.StateDB
	if dbPath == "" {
		dbPath = state.DefaultPath()
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	// Another process may be mid-execute, and its agents own live
	// worktrees we cannot tell apart from orphans.
	if err := refuseWhileExecuting(store); err != nil {
		return err
	}

	wtManager, err := worktree.NewManager(cfg.Paths.WorktreeDir, repoPath)
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}

	// No executing plans anywhere, so every managed worktree on disk
	// is an orphan.
	orphans, err := wtManager.ListOrphans(nil)
	if err != nil {
		return fmt.Errorf("list worktrees: %w", err)
	}

	if len(orphans) == 0 {
		fmt.Println("No orphaned worktrees found.")
		return nil
	}

	fmt.Printf("Found %d orphaned worktree(s):\n", len(orphans))
	for _, wt := range orphans {
		fmt.Printf("  %s (%s)\n", wt.Path, wt.Branch)
	}

	if cleanupDryRun {
		fmt.Println("\nDry run: nothing removed.")
		return nil
	}

	if !cleanupForce {
		fmt.Print("\nRemove these worktrees and branches? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var verbose func(string)
	if cleanupVerbose {
		verbose = func(path string) {
			fmt.Printf("Removed %s\n", path)
		}
	}

	cleaned, err := wtManager.CleanupOrphans(nil, verbose)
	if err != nil {
		warnf("cleanup encountered errors: %v", err)
	}
	fmt.Printf("Cleaned up %d worktree(s)\n", cleaned)
	return nil
}

// refuseWhileExecuting errors when any persisted plan is executing.
func refuseWhileExecuting(store state.Store) error {
	executing, err := store.ListExecutingPlans()
	if err != nil {
		return fmt.Errorf("list executing plans: %w", err)
	}
	if len(executing) == 0 {
		return nil
	}
	ids := make([]string, 0, len(executing))
	for _, p := range executing {
		ids = append(ids, shortID(p.ID))
	}
	return fmt.Errorf("%d plan(s) are executing (%s); wait for them to finish or cancel them before cleanup", len(executing), strings.Join(ids, ", "))
}
