package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/planloom/planloom/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify planloom configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/planloom/config.yaml
Project-specific overrides can be placed in .planloom.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("defaults.max_parallel_agents: %d\n", cfg.Defaults.MaxParallelAgents)
	fmt.Printf("defaults.branch_strategy: %s\n", cfg.Defaults.BranchStrategy)
	fmt.Printf("defaults.poll_interval: %s\n", cfg.Defaults.PollInterval)
	fmt.Printf("agent.command: %s\n", cfg.Agent.Command)
	fmt.Printf("agent.args: %s\n", strings.Join(cfg.Agent.Args, " "))
	fmt.Printf("paths.worktree_dir: %s\n", orDefault(cfg.Paths.WorktreeDir))
	fmt.Printf("paths.state_db: %s\n", orDefault(cfg.Paths.StateDB))
	fmt.Printf("debug.enabled: %t\n", cfg.Debug.Enabled)
	fmt.Printf("debug.log_file: %s\n", orDefault(cfg.Debug.LogFile))
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "defaults.max_parallel_agents":
		return strconv.Itoa(cfg.Defaults.MaxParallelAgents), nil
	case "defaults.branch_strategy":
		return cfg.Defaults.BranchStrategy, nil
	case "defaults.poll_interval":
		return cfg.Defaults.PollInterval.String(), nil
	case "agent.command":
		return cfg.Agent.Command, nil
	case "agent.args":
		return strings.Join(cfg.Agent.Args, " "), nil
	case "paths.worktree_dir":
		return cfg.Paths.WorktreeDir, nil
	case "paths.state_db":
		return cfg.Paths.StateDB, nil
	case "debug.enabled":
		return strconv.FormatBool(cfg.Debug.Enabled), nil
	case "debug.log_file":
		return cfg.Debug.LogFile, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "defaults.max_parallel_agents":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid value for max_parallel_agents: %s", value)
		}
		cfg.Defaults.MaxParallelAgents = n
	case "defaults.branch_strategy":
		if value != "feature_branch" && value != "raise_prs" {
			return fmt.Errorf("branch_strategy must be feature_branch or raise_prs")
		}
		cfg.Defaults.BranchStrategy = value
	case "defaults.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for poll_interval: %w", err)
		}
		cfg.Defaults.PollInterval = d
	case "agent.command":
		cfg.Agent.Command = value
	case "agent.args":
		cfg.Agent.Args = strings.Fields(value)
	case "paths.worktree_dir":
		cfg.Paths.WorktreeDir = value
	case "paths.state_db":
		cfg.Paths.StateDB = value
	case "debug.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for debug.enabled: %w", err)
		}
		cfg.Debug.Enabled = b
	case "debug.log_file":
		cfg.Debug.LogFile = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
