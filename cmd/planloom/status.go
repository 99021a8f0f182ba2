package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/planloom/planloom/internal/plan"
	"github.com/planloom/planloom/internal/state"
	"github.com/planloom/planloom/internal/watch"
)

var statusWatch bool
var statusActivities bool

var planStatusCmd = &cobra.Command{
	Use:   "status <plan-id>",
	Short: "Show a plan's tasks, progress, and critical path",
	Long: `Display the state of a plan.

Shows:
  - Plan status and branch strategy
  - Every task with its status, dependencies, and assigned agent
  - Critical-path markers on the longest dependency chains
  - Aggregate completion counts

With --watch, refreshes whenever the state database changes. Use this
from a second terminal while 'plan execute' runs elsewhere.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanStatus,
}

func init() {
	planStatusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Refresh on state changes")
	planStatusCmd.Flags().BoolVar(&statusActivities, "activities", false, "Show the activity log")
}

func runPlanStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	planID, err := resolvePlanID(a, args[0])
	if err != nil {
		return err
	}

	render := func() {
		// Re-read from the store: another process owns the loop.
		if err := reloadPlan(a, planID); err != nil {
			warnf("reload plan: %v", err)
		}
		snap, err := a.coordinator.GetSnapshot(planID)
		if err != nil {
			warnf("snapshot: %v", err)
			return
		}
		displaySnapshot(snap)
	}

	if !statusWatch {
		render()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath := a.cfg.Paths.StateDB
	if dbPath == "" {
		dbPath = state.DefaultPath()
	}

	render()
	err = watch.File(ctx, dbPath, 250*time.Millisecond, func() {
		fmt.Print("\033[H\033[2J")
		render()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reloadPlan re-reads a plan's tasks from the store into the live
// graph so status reflects what other processes wrote. Only safe for
// plans this process is not executing.
func reloadPlan(a *app, planID string) error {
	snap, err := a.coordinator.GetSnapshot(planID)
	if err != nil {
		return err
	}
	if snap.Plan.Status.Executing() {
		// This process does not own the loop; rebuild from the store.
		return a.coordinator.Reload(planID)
	}
	return nil
}

func displaySnapshot(snap *plan.Snapshot) {
	p := snap.Plan
	fmt.Printf("Plan %s: %s\n", shortID(p.ID), p.Title)
	fmt.Printf("  Status: %s\n", statusColor(p.Status))
	fmt.Printf("  Strategy: %s", p.BranchStrategy)
	if p.IntegrationBranch != "" {
		fmt.Printf(" -> %s", p.IntegrationBranch)
	}
	fmt.Println()
	fmt.Printf("  Agents: max %d parallel\n", p.MaxParallelAgents)
	if p.CancelledAt != nil {
		fmt.Printf("  Cancelled: %s ago\n", formatDuration(time.Since(*p.CancelledAt)))
	}

	fmt.Println()
	fmt.Println("Tasks:")
	for _, t := range snap.Tasks {
		marker := "  "
		if t.OnCriticalPath {
			marker = color.MagentaString("* ")
		}
		line := fmt.Sprintf("%s%-10s %s  %s", marker, t.ID, taskStatusColor(t.Status), t.Title)
		if len(t.BlockedBy) > 0 {
			line += color.New(color.Faint).Sprintf("  (after %v)", t.BlockedBy)
		}
		if t.AssignedTo != "" && !t.Status.Terminal() {
			line += fmt.Sprintf("  [agent %s]", t.AssignedTo)
		}
		if t.Error != "" {
			line += color.RedString("  %s", t.Error)
		}
		fmt.Println(line)
	}
	if hasCritical(snap) {
		fmt.Println(color.New(color.Faint).Sprint("  * = on critical path"))
	}

	s := snap.Stats
	fmt.Println()
	fmt.Printf("  %d total: %d completed, %d failed, %d active, %d ready, %d blocked\n",
		s.Total, s.Completed, s.Failed, s.Active(), s.Ready, s.Blocked)

	if statusActivities && len(snap.Activities) > 0 {
		fmt.Println()
		fmt.Println("Activity:")
		for _, act := range snap.Activities {
			fmt.Printf("  %s  %-7s  %s\n", act.Timestamp.Format("15:04:05"), act.Type, act.Message)
		}
	}
}

func hasCritical(snap *plan.Snapshot) bool {
	for _, t := range snap.Tasks {
		if t.OnCriticalPath {
			return true
		}
	}
	return false
}
