package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/planloom/planloom/internal/scheduler"
)

var executeResume bool

var planExecuteCmd = &cobra.Command{
	Use:   "execute [plan-id]",
	Short: "Execute a draft plan with parallel agents",
	Long: `Execute a plan. Ready tasks are dispatched to agent subprocesses,
each in its own git worktree, up to the plan's parallelism bound.
Blocks until the plan quiesces; Ctrl-C cancels the plan and releases
all worktrees.

With --resume, restarts every plan that was executing when a previous
process died. Tasks that were mid-flight are failed and their orphaned
worktrees removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlanExecute,
}

func init() {
	planExecuteCmd.Flags().BoolVar(&executeResume, "resume", false, "Resume plans interrupted by a crash")
}

func runPlanExecute(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := CheckAgentCommand(a.cfg.Agent.Command); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var planIDs []string
	if executeResume {
		resumed, err := a.coordinator.Resume(ctx)
		if err != nil {
			return err
		}
		if len(resumed) == 0 {
			fmt.Println("No interrupted plans to resume.")
			return nil
		}
		planIDs = resumed
		fmt.Printf("Resumed %d plan(s)\n", len(resumed))
	} else {
		if len(args) != 1 {
			return fmt.Errorf("plan id required (or --resume)")
		}
		planID, err := resolvePlanID(a, args[0])
		if err != nil {
			return err
		}
		if err := a.coordinator.Execute(ctx, planID, a.repoPath); err != nil {
			return err
		}
		planIDs = []string{planID}
	}

	go streamEvents(a.coordinator.Events())

	for _, id := range planIDs {
		if err := a.coordinator.Wait(id); err != nil {
			return err
		}
	}

	for _, id := range planIDs {
		snap, err := a.coordinator.GetSnapshot(id)
		if err != nil {
			return err
		}
		fmt.Printf("\nPlan %s: %s\n", shortID(id), statusColor(snap.Plan.Status))
		fmt.Printf("  %d completed, %d failed, %d blocked\n",
			snap.Stats.Completed, snap.Stats.Failed, snap.Stats.Blocked)
	}
	return nil
}

// streamEvents prints loop events as they arrive.
func streamEvents(events <-chan scheduler.LoopEvent) {
	for ev := range events {
		switch ev.Type {
		case scheduler.EventTaskDispatched:
			fmt.Printf("%s task %s -> agent %s: %s\n", color.CyanString("dispatch"), ev.TaskID, ev.AgentID, ev.Message)
		case scheduler.EventTaskStarted:
			fmt.Printf("%s task %s\n", color.CyanString("started "), ev.TaskID)
		case scheduler.EventTaskProgress:
			fmt.Printf("         task %s: %s\n", ev.TaskID, ev.Message)
		case scheduler.EventTaskCompleted:
			fmt.Printf("%s task %s\n", color.GreenString("done    "), ev.TaskID)
		case scheduler.EventTaskFailed:
			fmt.Printf("%s task %s: %s\n", color.RedString("failed  "), ev.TaskID, ev.Message)
		case scheduler.EventPlanStatus:
			fmt.Printf("%s plan %s -> %s\n", color.MagentaString("plan    "), shortID(ev.PlanID), ev.Message)
		case scheduler.EventPlanCancelled:
			fmt.Printf("%s plan %s\n", color.YellowString("cancel  "), shortID(ev.PlanID))
		}
	}
}

var planCancelCmd = &cobra.Command{
	Use:   "cancel <plan-id>",
	Short: "Cancel a plan and release its worktrees",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		planID, err := resolvePlanID(a, args[0])
		if err != nil {
			return err
		}
		if err := a.coordinator.Cancel(planID); err != nil {
			return err
		}
		fmt.Printf("Cancelled plan %s\n", shortID(planID))
		return nil
	},
}

var planCompleteCmd = &cobra.Command{
	Use:   "complete <plan-id>",
	Short: "Mark a reviewed plan as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		planID, err := resolvePlanID(a, args[0])
		if err != nil {
			return err
		}
		if err := a.coordinator.Complete(planID); err != nil {
			return err
		}
		fmt.Printf("Completed plan %s\n", shortID(planID))
		return nil
	},
}
