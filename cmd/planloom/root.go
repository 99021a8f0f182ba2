package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

// CheckAgentCommand verifies that the configured agent command is
// available in PATH. Returns an error with a hint if not found.
func CheckAgentCommand(command string) error {
	_, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("agent command %q not found in PATH\n\n"+
			"planloom dispatches each task to an agent subprocess.\n"+
			"Set a different command with:\n"+
			"  planloom config agent.command <command>", command)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "planloom",
	Short: "Dependency-aware multi-agent plan orchestrator",
	Long: `planloom executes plans of interdependent tasks with a pool of
parallel coding agents, each working in an isolated git worktree.

Core capabilities:
- Tracks task dependencies and dispatches only unblocked work
- Bounds agent parallelism per plan
- Isolates each task in its own git worktree and branch
- Merges completed work onto a shared integration branch
- Flags the critical path through the remaining work`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// findGitRoot finds the root of the git repository starting from the given directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
