package main

import (
	"fmt"
	"os"

	"github.com/planloom/planloom/internal/config"
	"github.com/planloom/planloom/internal/plan"
	"github.com/planloom/planloom/internal/runner"
	"github.com/planloom/planloom/internal/scheduler"
	"github.com/planloom/planloom/internal/state"
	"github.com/planloom/planloom/internal/worktree"
)

// app bundles the wired application for one CLI invocation.
type app struct {
	cfg         *config.Config
	store       *state.DB
	coordinator *plan.Coordinator
	logger      *scheduler.DebugLogger
	// repoPath is the resolved git root, doubling as the reference
	// agent identity for plans executed from this checkout.
	repoPath string
}

// newApp loads config, opens the state database, and wires the
// coordinator against the current git repository. Every plan command
// goes through here.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	repoPath, err := findGitRoot(cwd)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Paths.StateDB
	if dbPath == "" {
		dbPath = state.DefaultPath()
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}

	worktrees, err := worktree.NewManager(cfg.Paths.WorktreeDir, repoPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create worktree manager: %w", err)
	}

	logger := scheduler.NopLogger()
	if cfg.Debug.Enabled {
		logPath := cfg.Debug.LogFile
		if logPath == "" {
			logger = scheduler.NewDebugLoggerForRepo(repoPath)
		} else if logger, err = scheduler.NewDebugLogger(logPath); err != nil {
			store.Close()
			return nil, fmt.Errorf("open debug log: %w", err)
		}
	}

	coordinator := plan.NewCoordinator(plan.Config{
		Worktrees:    worktrees,
		Agents:       runner.NewSubprocessRunner(cfg.Agent.Command, cfg.Agent.Args...),
		Store:        store,
		PollInterval: cfg.Defaults.PollInterval,
		DebugLog:     logger.Log,
		DebugScope:   logger.Scope,
	})
	if err := coordinator.Load(); err != nil {
		store.Close()
		return nil, fmt.Errorf("load plans: %w", err)
	}

	return &app{
		cfg:         cfg,
		store:       store,
		coordinator: coordinator,
		logger:      logger,
		repoPath:    repoPath,
	}, nil
}

func (a *app) Close() {
	a.coordinator.WaitAll()
	a.store.Close()
	a.logger.Close()
}
