// Package config handles configuration loading and management for
// planloom. It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/planloom/planloom/pkg/models"
)

// Config holds all configuration for planloom.
type Config struct {
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// DefaultsConfig holds default values for new plans.
type DefaultsConfig struct {
	MaxParallelAgents int    `mapstructure:"max_parallel_agents"`
	BranchStrategy    string `mapstructure:"branch_strategy"`
	// PollInterval bounds how long an idle scheduler loop sleeps.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AgentConfig holds the agent subprocess settings.
type AgentConfig struct {
	// Command is the executable dispatched per task.
	Command string `mapstructure:"command"`
	// Args are passed before the task prompt.
	Args []string `mapstructure:"args"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	// WorktreeDir is where agent worktrees are created.
	WorktreeDir string `mapstructure:"worktree_dir"`
	// StateDB is the SQLite database path.
	StateDB string `mapstructure:"state_db"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	LogFile string `mapstructure:"log_file"`
}

// BranchStrategy returns the configured default strategy as a model
// value, falling back to feature_branch on anything unrecognized.
func (c *Config) BranchStrategy() models.BranchStrategy {
	s := models.BranchStrategy(c.Defaults.BranchStrategy)
	if !s.Valid() {
		return models.StrategyFeatureBranch
	}
	return s
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (PLANLOOM_*)
// 2. Project config (.planloom.yaml in current directory or parent)
// 3. User config (~/.config/planloom/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("PLANLOOM")
	v.AutomaticEnv()
	v.BindEnv("defaults.max_parallel_agents", "PLANLOOM_MAX_PARALLEL_AGENTS")
	v.BindEnv("agent.command", "PLANLOOM_AGENT_COMMAND")
	v.BindEnv("paths.state_db", "PLANLOOM_STATE_DB")
	v.BindEnv("debug.enabled", "PLANLOOM_DEBUG")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Agent.Command = os.ExpandEnv(cfg.Agent.Command)
	cfg.Paths.WorktreeDir = os.ExpandEnv(cfg.Paths.WorktreeDir)
	cfg.Paths.StateDB = os.ExpandEnv(cfg.Paths.StateDB)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("defaults.max_parallel_agents", cfg.Defaults.MaxParallelAgents)
	v.Set("defaults.branch_strategy", cfg.Defaults.BranchStrategy)
	v.Set("defaults.poll_interval", cfg.Defaults.PollInterval.String())
	v.Set("agent.command", cfg.Agent.Command)
	v.Set("agent.args", cfg.Agent.Args)
	v.Set("paths.worktree_dir", cfg.Paths.WorktreeDir)
	v.Set("paths.state_db", cfg.Paths.StateDB)
	v.Set("debug.enabled", cfg.Debug.Enabled)
	v.Set("debug.log_file", cfg.Debug.LogFile)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("defaults.max_parallel_agents", 3)
	v.SetDefault("defaults.branch_strategy", string(models.StrategyFeatureBranch))
	v.SetDefault("defaults.poll_interval", "1s")

	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.args", []string{"-p"})

	v.SetDefault("paths.worktree_dir", "")
	v.SetDefault("paths.state_db", "")

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.log_file", "")
}

// getUserConfigDir returns the XDG config directory for planloom.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "planloom")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "planloom")
	}
	return filepath.Join(home, ".config", "planloom")
}

// findProjectConfig searches for .planloom.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".planloom.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			MaxParallelAgents: 3,
			BranchStrategy:    string(models.StrategyFeatureBranch),
			PollInterval:      time.Second,
		},
		Agent: AgentConfig{
			Command: "claude",
			Args:    []string{"-p"},
		},
	}
}
