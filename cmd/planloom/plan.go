package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/planloom/planloom/pkg/models"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create, author, and execute plans",
	Long: `Manage plans: directed graphs of tasks executed by parallel agents.

A plan is authored in draft (add-task, add-dep), executed with a
bounded agent pool, reviewed in ready_for_review, and then completed.`,
}

var (
	createManifest    string
	createMaxParallel int
	createStrategy    string
)

var planCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a new plan in draft",
	Long: `Create a new plan.

With -f, the whole plan including its task graph is loaded from a YAML
manifest. Otherwise a bare plan is created from the title argument and
tasks are added with 'plan add-task'.

Example manifest:

  title: Ship search
  max_parallel_agents: 3
  branch_strategy: feature_branch
  tasks:
    - id: schema
      title: Add search index schema
    - id: api
      title: Expose search endpoint
      blocked_by: [schema]`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlanCreate,
}

func init() {
	planCreateCmd.Flags().StringVarP(&createManifest, "file", "f", "", "Load plan from a YAML manifest")
	planCreateCmd.Flags().IntVar(&createMaxParallel, "max-parallel", 0, "Maximum concurrent agents (default from config)")
	planCreateCmd.Flags().StringVar(&createStrategy, "strategy", "", "Branch strategy: feature_branch or raise_prs")

	planCmd.AddCommand(planCreateCmd)
	planCmd.AddCommand(planAddTaskCmd)
	planCmd.AddCommand(planAddDepCmd)
	planCmd.AddCommand(planExecuteCmd)
	planCmd.AddCommand(planCancelCmd)
	planCmd.AddCommand(planCompleteCmd)
	planCmd.AddCommand(planStatusCmd)
	planCmd.AddCommand(planListCmd)
}

func runPlanCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	title := ""
	if len(args) > 0 {
		title = args[0]
	}
	description := ""

	maxParallel := createMaxParallel
	if maxParallel == 0 {
		maxParallel = a.cfg.Defaults.MaxParallelAgents
	}
	strategy := a.cfg.BranchStrategy()
	if createStrategy != "" {
		strategy = models.BranchStrategy(createStrategy)
	}

	var tasks []ManifestTask
	if createManifest != "" {
		m, err := loadManifest(createManifest)
		if err != nil {
			return err
		}
		title = m.Title
		description = m.Description
		if m.MaxParallelAgents > 0 && createMaxParallel == 0 {
			maxParallel = m.MaxParallelAgents
		}
		if m.BranchStrategy != "" && createStrategy == "" {
			strategy = models.BranchStrategy(m.BranchStrategy)
		}
		tasks = m.Tasks
	}

	p, err := a.coordinator.CreatePlan(title, description, maxParallel, strategy)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if _, err := a.coordinator.AddTask(p.ID, t.ID, t.Title, t.Description, t.BlockedBy); err != nil {
			return fmt.Errorf("add task %q: %w", t.Title, err)
		}
	}

	fmt.Printf("Created plan %s: %s (%d tasks, max %d agents, %s)\n",
		shortID(p.ID), p.Title, len(tasks), maxParallel, strategy)
	return nil
}

var addTaskBlockedBy []string
var addTaskID string
var addTaskDescription string

var planAddTaskCmd = &cobra.Command{
	Use:   "add-task <plan-id> <title>",
	Short: "Add a task to a draft plan",
	Args:  cobra.ExactArgs(2),
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
		t, err := a.coordinator.AddTask(planID, addTaskID, args[1], addTaskDescription, addTaskBlockedBy)
		if err != nil {
			return err
		}
		fmt.Printf("Added task %s: %s\n", t.ID, t.Title)
		return nil
	},
}

var planAddDepCmd = &cobra.Command{
	Use:   "add-dep <plan-id> <task-id> <depends-on>",
	Short: "Record that a task depends on another",
	Args:  cobra.ExactArgs(3),
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
		if err := a.coordinator.AddDependency(planID, args[2], args[1]); err != nil {
			return err
		}
		fmt.Printf("Task %s is now blocked by %s\n", args[1], args[2])
		return nil
	},
}

func init() {
	planAddTaskCmd.Flags().StringSliceVar(&addTaskBlockedBy, "blocked-by", nil, "Task IDs this task depends on")
	planAddTaskCmd.Flags().StringVar(&addTaskID, "id", "", "Explicit task ID (generated when omitted)")
	planAddTaskCmd.Flags().StringVar(&addTaskDescription, "description", "", "Task description passed to the agent")
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		plans := a.coordinator.ListPlans()
		if len(plans) == 0 {
			fmt.Println("No plans. Run 'planloom plan create' to start.")
			return nil
		}
		for _, p := range plans {
			fmt.Printf("  %s  %-16s  %s\n", shortID(p.ID), statusColor(p.Status), p.Title)
		}
		return nil
	},
}

// resolvePlanID accepts a full plan UUID or an unambiguous prefix.
func resolvePlanID(a *app, arg string) (string, error) {
	var matches []string
	for _, p := range a.coordinator.ListPlans() {
		if p.ID == arg {
			return p.ID, nil
		}
		if strings.HasPrefix(p.ID, arg) {
			matches = append(matches, p.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no plan matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("plan id %q is ambiguous (%d matches)", arg, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusColor(s models.PlanStatus) string {
	switch s {
	case models.PlanStatusCompleted:
		return color.GreenString(string(s))
	case models.PlanStatusFailed:
		return color.RedString(string(s))
	case models.PlanStatusDelegating, models.PlanStatusInProgress:
		return color.CyanString(string(s))
	case models.PlanStatusReadyForReview:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func taskStatusColor(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString(string(s))
	case models.TaskStatusFailed:
		return color.RedString(string(s))
	case models.TaskStatusSent, models.TaskStatusInProgress:
		return color.CyanString(string(s))
	case models.TaskStatusReady:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("warning:"), fmt.Sprintf(format, args...))
}
